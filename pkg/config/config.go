// Package config implements the agent's layered configuration (spec
// §4.B): a fixed defaults table, an optional `key = value` file with
// `include` directives, then a CLI-flag overlay, followed by
// validation and target-list materialization.
//
// It keeps the teacher's flat, single-struct configuration shape but
// layers it the way the spec requires instead of cuemby/warren's
// flags-only approach: defaults come from struct tags
// (github.com/creasty/defaults, as declared — if unused — by
// jkilzi-assisted-migration-agent's go.mod), the file layer is a
// hand-rolled parser (see parser.go; no example in the corpus reads
// this exact format), and the CLI layer only overlays flags the user
// actually set.
package config

import "time"

// Config is the agent's fully resolved configuration, after
// Defaults -> LoadFile -> ApplyCLI -> Validate.
type Config struct {
	// Targets (raw, pre-materialization — see GetTargets)
	Servers []string
	Local   []string

	// Scheduling
	DelayTime   int  `default:"3600"`
	Lazy        bool `default:"false"`
	SetForcerun bool `default:"false"`

	// Task/category selection
	ListTasks      bool     `default:"false"`
	NoTask         []string
	Tasks          []string
	NoCategory     []string
	ListCategories bool     `default:"false"`
	RequiredCategory []string

	// Collection behavior
	ScanHomedirs bool   `default:"false"`
	ScanProfiles bool   `default:"false"`
	HTML         bool   `default:"false"`
	JSON         bool   `default:"false"`
	Force        bool   `default:"false"`

	BackendCollectTimeout int    `default:"180"`
	AdditionalContent     string `default:""`
	AssetnameSupport      int    `default:"1"`
	Partial               string `default:""`
	Credentials           []string
	FullInventoryPostpone int    `default:"0"`
	Full                  bool   `default:"false"`
	Itemtype              string `default:"Computer"`

	// Transport
	Proxy          string   `default:""`
	User           string   `default:""`
	Password       string   `default:""`
	CACertDir      string   `default:""`
	CACertFile     string   `default:""`
	NoSSLCheck     bool     `default:"false"`
	SSLFingerprint []string
	NoCompression  bool     `default:"false"`
	Timeout        int      `default:"180"`

	// Embedded HTTP server
	NoHTTPD    bool     `default:"false"`
	HTTPDIP    string   `default:""`
	HTTPDPort  int      `default:"62354"`
	HTTPDTrust []string
	Listen     bool     `default:"false"`

	// OAuth2
	OAuthClientID     string `default:""`
	OAuthClientSecret string `default:""`

	// Logging
	Logger         []string `default:"[\"stderr\"]"`
	Logfile        string   `default:""`
	LogfileMaxsize int      `default:"10"`
	Logfacility    string   `default:"LOG_USER"`
	Color          bool     `default:"false"`

	// Config layer itself
	ConfigBackend      string `default:"file"`
	ConfFile           string `default:""`
	ConfReloadInterval int    `default:"0"`

	// Process lifecycle
	Wait     int    `default:"0"`
	Daemon   bool   `default:"false"`
	NoFork   bool   `default:"false"`
	Pidfile  string `default:""`
	Tag      string `default:""`
	Debug    int    `default:"0"`
	Setup    bool   `default:"false"`
	Vardir   string `default:"/var/lib/fleetagent"`
	OldVardir string `default:""`

	GlpiVersion string `default:""`
	ShowVersion bool   `default:"false"`

	// confDir is the directory conf-file resolved from, used to resolve
	// relative `include` paths; not user-settable directly.
	confDir string
}

// Defaults returns a Config populated with every option's documented
// default (spec §4.B layer 1), via struct-tag defaults.
func Defaults() *Config {
	cfg := &Config{}
	if err := applyDefaults(cfg); err != nil {
		// Struct tags are a compile-time contract; a failure here is a
		// programmer error, not a runtime one.
		panic("config: invalid default tags: " + err.Error())
	}
	return cfg
}

// ReloadInterval returns ConfReloadInterval as a time.Duration,
// already clamped by Validate to {0} ∪ [60s, ∞).
func (c *Config) ReloadInterval() time.Duration {
	return time.Duration(c.ConfReloadInterval) * time.Second
}

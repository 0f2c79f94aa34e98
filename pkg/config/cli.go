package config

import "github.com/spf13/pflag"

// ApplyCLI overlays onto cfg only the flags the user actually set
// (pflag's Changed), so a flag's own zero value never silently
// shadows a value already loaded from the config file (spec §4.B
// layer 4, "user overrides").
func ApplyCLI(cfg *Config, fs *pflag.FlagSet) {
	changed := func(name string) bool {
		f := fs.Lookup(name)
		return f != nil && f.Changed
	}

	getString := func(name string) string { v, _ := fs.GetString(name); return v }
	getInt := func(name string) int { v, _ := fs.GetInt(name); return v }
	getBool := func(name string) bool { v, _ := fs.GetBool(name); return v }
	getStrSlice := func(name string) []string { v, _ := fs.GetStringSlice(name); return v }
	getStrArray := func(name string) []string { v, _ := fs.GetStringArray(name); return v }

	if changed("server") {
		cfg.Servers = append(cfg.Servers, getStrArray("server")...)
	}
	if changed("local") {
		cfg.Local = append(cfg.Local, getString("local"))
	}
	if changed("delaytime") {
		cfg.DelayTime = getInt("delaytime")
	}
	if changed("lazy") {
		cfg.Lazy = getBool("lazy")
	}
	if changed("set-forcerun") {
		cfg.SetForcerun = getBool("set-forcerun")
	}
	if changed("list-tasks") {
		cfg.ListTasks = getBool("list-tasks")
	}
	if changed("no-task") {
		cfg.NoTask = append(cfg.NoTask, getStrSlice("no-task")...)
	}
	if changed("tasks") {
		cfg.Tasks = append(cfg.Tasks, getStrSlice("tasks")...)
	}
	if changed("no-category") {
		cfg.NoCategory = append(cfg.NoCategory, getStrSlice("no-category")...)
	}
	if changed("list-categories") {
		cfg.ListCategories = getBool("list-categories")
	}
	if changed("scan-homedirs") {
		cfg.ScanHomedirs = getBool("scan-homedirs")
	}
	if changed("scan-profiles") {
		cfg.ScanProfiles = getBool("scan-profiles")
	}
	if changed("html") {
		cfg.HTML = getBool("html")
	}
	if changed("json") {
		cfg.JSON = getBool("json")
	}
	if changed("force") {
		cfg.Force = getBool("force")
	}
	if changed("backend-collect-timeout") {
		cfg.BackendCollectTimeout = getInt("backend-collect-timeout")
	}
	if changed("additional-content") {
		cfg.AdditionalContent = getString("additional-content")
	}
	if changed("assetname-support") {
		cfg.AssetnameSupport = getInt("assetname-support")
	}
	if changed("partial") {
		cfg.Partial = getString("partial")
	}
	if changed("credentials") {
		cfg.Credentials = append(cfg.Credentials, getStrArray("credentials")...)
	}
	if changed("full-inventory-postpone") {
		cfg.FullInventoryPostpone = getInt("full-inventory-postpone")
	}
	if changed("full") {
		cfg.Full = getBool("full")
	}
	if changed("required-category") {
		cfg.RequiredCategory = append(cfg.RequiredCategory, getStrSlice("required-category")...)
	}
	if changed("itemtype") {
		cfg.Itemtype = getString("itemtype")
	}
	if changed("proxy") {
		cfg.Proxy = getString("proxy")
	}
	if changed("user") {
		cfg.User = getString("user")
	}
	if changed("password") {
		cfg.Password = getString("password")
	}
	if changed("ca-cert-dir") {
		cfg.CACertDir = getString("ca-cert-dir")
	}
	if changed("ca-cert-file") {
		cfg.CACertFile = getString("ca-cert-file")
	}
	if changed("no-ssl-check") {
		cfg.NoSSLCheck = getBool("no-ssl-check")
	}
	if changed("ssl-fingerprint") {
		cfg.SSLFingerprint = append(cfg.SSLFingerprint, getStrSlice("ssl-fingerprint")...)
	}
	if changed("no-compression") {
		cfg.NoCompression = getBool("no-compression")
	}
	if changed("timeout") {
		cfg.Timeout = getInt("timeout")
	}
	if changed("no-httpd") {
		cfg.NoHTTPD = getBool("no-httpd")
	}
	if changed("httpd-ip") {
		cfg.HTTPDIP = getString("httpd-ip")
	}
	if changed("httpd-port") {
		cfg.HTTPDPort = getInt("httpd-port")
	}
	if changed("httpd-trust") {
		cfg.HTTPDTrust = append(cfg.HTTPDTrust, getStrArray("httpd-trust")...)
	}
	if changed("listen") {
		cfg.Listen = getBool("listen")
	}
	if changed("oauth-client-id") {
		cfg.OAuthClientID = getString("oauth-client-id")
	}
	if changed("oauth-client-secret") {
		cfg.OAuthClientSecret = getString("oauth-client-secret")
	}
	if changed("logger") {
		cfg.Logger = append(cfg.Logger, getStrSlice("logger")...)
	}
	if changed("logfile") {
		cfg.Logfile = getString("logfile")
	}
	if changed("logfile-maxsize") {
		cfg.LogfileMaxsize = getInt("logfile-maxsize")
	}
	if changed("logfacility") {
		cfg.Logfacility = getString("logfacility")
	}
	if changed("color") {
		cfg.Color = getBool("color")
	}
	if changed("config") {
		cfg.ConfigBackend = getString("config")
	}
	if changed("conf-file") {
		cfg.ConfFile = getString("conf-file")
		cfg.ConfigBackend = "file"
	}
	if changed("conf-reload-interval") {
		cfg.ConfReloadInterval = getInt("conf-reload-interval")
	}
	if changed("wait") {
		cfg.Wait = getInt("wait")
	}
	if changed("daemon") {
		cfg.Daemon = getBool("daemon")
	}
	if changed("no-fork") {
		cfg.NoFork = getBool("no-fork")
	}
	if changed("pidfile") {
		cfg.Pidfile = getString("pidfile")
	}
	if changed("tag") {
		cfg.Tag = getString("tag")
	}
	if changed("debug") {
		cfg.Debug, _ = fs.GetCount("debug")
	}
	if changed("setup") {
		cfg.Setup = getBool("setup")
	}
	if changed("vardir") {
		cfg.Vardir = getString("vardir")
	}
	if changed("glpi-version") {
		cfg.GlpiVersion = getString("glpi-version")
	}
	if changed("version") {
		cfg.ShowVersion = getBool("version")
	}
}

// RegisterFlags declares the full CLI surface from spec §6 onto fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringArrayP("server", "s", nil, "inventory/contact server URI (repeatable)")
	fs.StringP("local", "l", "", "write inventory locally to a path, or - for stdout")
	fs.Int("delaytime", 3600, "maximum random initial delay, in seconds")
	fs.Bool("lazy", false, "only run a target if its next run date has elapsed")
	fs.Bool("set-forcerun", false, "force a run on next start, then exit")
	fs.Bool("list-tasks", false, "list discovered tasks and exit")
	fs.StringSlice("no-task", nil, "disable tasks by name")
	fs.StringSlice("tasks", nil, "order of tasks to run, ... means \"all remaining\"")
	fs.StringSlice("no-category", nil, "disable inventory categories by name")
	fs.Bool("list-categories", false, "list inventory categories and exit")
	fs.Bool("scan-homedirs", false, "scan user home directories")
	fs.Bool("scan-profiles", false, "scan user profiles")
	fs.Bool("html", false, "write local inventory as HTML")
	fs.Bool("json", false, "write local inventory as JSON")
	fs.BoolP("force", "f", false, "force a run even if not due")
	fs.Int("backend-collect-timeout", 180, "per-module collection timeout, in seconds")
	fs.String("additional-content", "", "path to a file merged into every inventory")
	fs.Int("assetname-support", 1, "asset name policy version")
	fs.String("partial", "", "run a partial inventory restricted to one category")
	fs.StringArray("credentials", nil, "key:value collection credential (repeatable)")
	fs.Int("full-inventory-postpone", 0, "consecutive partial runs before forcing a full inventory")
	fs.Bool("full", false, "force a full inventory")
	fs.StringSlice("required-category", nil, "categories that are never postponed")
	fs.String("itemtype", "Computer", "GLPI item type")
	fs.StringP("proxy", "P", "", "HTTP proxy URL")
	fs.StringP("user", "u", "", "basic auth user")
	fs.StringP("password", "p", "", "basic auth password")
	fs.String("ca-cert-dir", "", "directory of trusted CA certificates")
	fs.String("ca-cert-file", "", "trusted CA bundle file")
	fs.Bool("no-ssl-check", false, "disable TLS certificate verification")
	fs.StringSlice("ssl-fingerprint", nil, "pinned SHA-256 certificate fingerprint")
	fs.BoolP("no-compression", "C", false, "disable request body compression")
	fs.Int("timeout", 180, "HTTP connection timeout, in seconds")
	fs.Bool("no-httpd", false, "disable the embedded HTTP server")
	fs.String("httpd-ip", "", "embedded HTTP server bind address")
	fs.Int("httpd-port", 62354, "embedded HTTP server port")
	fs.StringArray("httpd-trust", nil, "trusted IP or CIDR for the embedded HTTP server")
	fs.Bool("listen", false, "run as a listener target")
	fs.String("oauth-client-id", "", "OAuth2 client id")
	fs.String("oauth-client-secret", "", "OAuth2 client secret")
	fs.StringSlice("logger", nil, "log sinks: stderr,file,syslog")
	fs.String("logfile", "", "log file path")
	fs.Int("logfile-maxsize", 10, "log file rotation threshold, in MB")
	fs.String("logfacility", "LOG_USER", "syslog facility")
	fs.Bool("color", false, "force colorized console output")
	fs.String("config", "file", "config backend: file, registry, or none")
	fs.String("conf-file", "", "explicit config file path (forces backend=file)")
	fs.Int("conf-reload-interval", 0, "config reload interval, in seconds (0 or >=60)")
	fs.IntP("wait", "w", 0, "random delay before first run, in seconds")
	fs.BoolP("daemon", "d", false, "run as a long-lived daemon")
	fs.Bool("no-fork", false, "do not fork into the background under --daemon")
	fs.String("pidfile", "", "write the daemon pid to this file")
	fs.StringP("tag", "t", "", "free-form inventory tag")
	fs.Count("debug", "raise debug verbosity (repeatable)")
	fs.Bool("setup", false, "print resolved setup and exit")
	fs.String("vardir", "/var/lib/fleetagent", "persistent state directory")
	fs.String("glpi-version", "", "target GLPI server version")
	fs.Bool("version", false, "print version and exit")
}

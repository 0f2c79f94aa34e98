package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// listKeys are the options the spec (§4.B) rewrites from a
// comma-separated scalar into a sequence; the parser splits them as
// each line is read.
var listKeys = map[string]bool{
	"logger":            true,
	"local":             true,
	"server":            true,
	"httpd-trust":       true,
	"no-task":           true,
	"no-category":       true,
	"required-category": true,
	"tasks":             true,
	"ssl-fingerprint":   true,
	"credentials":       true,
}

// LoadFile reads a `key = value` configuration file into cfg, honoring
// `#` comments, single/double-quoted values, and `include <path>`
// directives (path may be a file or a directory of `*.cfg` files,
// applied lexicographically). Re-includes of an already-loaded
// canonical path within one LoadFile call are silently skipped, so
// diamond-shaped includes load each file once; every call starts with
// an empty set and reads all its files again.
func LoadFile(path string, cfg *Config) error {
	seen := make(map[string]bool)
	cfg.confDir = filepath.Dir(path)
	return loadFileInto(path, cfg, seen)
}

func loadFileInto(path string, cfg *Config, seen map[string]bool) error {
	canon, err := filepath.Abs(path)
	if err != nil {
		canon = path
	}
	if seen[canon] {
		return nil
	}
	seen[canon] = true

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if rest, ok := strings.CutPrefix(line, "include "); ok {
			if err := includePath(strings.TrimSpace(rest), filepath.Dir(path), cfg, seen); err != nil {
				return fmt.Errorf("config: %s:%d: %w", path, lineNo, err)
			}
			continue
		}

		key, value, ok := splitKV(line)
		if !ok {
			return fmt.Errorf("config: %s:%d: malformed line %q", path, lineNo, line)
		}
		setOption(cfg, key, unquote(value))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	return nil
}

func includePath(raw, relativeTo string, cfg *Config, seen map[string]bool) error {
	path := raw
	if !filepath.IsAbs(path) {
		path = filepath.Join(relativeTo, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("include %s: %w", raw, err)
	}

	if !info.IsDir() {
		return loadFileInto(path, cfg, seen)
	}

	entries, err := filepath.Glob(filepath.Join(path, "*.cfg"))
	if err != nil {
		return err
	}
	sort.Strings(entries)
	for _, e := range entries {
		if err := loadFileInto(e, cfg, seen); err != nil {
			return err
		}
	}
	return nil
}

func splitKV(line string) (key, value string, ok bool) {
	idx := strings.Index(line, "=")
	if idx < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:idx])
	value = strings.TrimSpace(line[idx+1:])
	if key == "" {
		return "", "", false
	}
	return key, value, true
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// setOption applies one parsed key/value pair onto cfg. List keys are
// comma-split as they're read (rather than deferred to Validate) so
// repeated `key = a` / `key = b` style lines and a single
// `key = a,b` line behave the same: each call appends.
func setOption(cfg *Config, key, value string) {
	if listKeys[key] {
		appendList(cfg, key, splitCSV(value))
		return
	}

	switch key {
	case "delaytime":
		cfg.DelayTime = atoiOr(value, cfg.DelayTime)
	case "lazy":
		cfg.Lazy = boolOr(value, cfg.Lazy)
	case "no-httpd":
		cfg.NoHTTPD = boolOr(value, cfg.NoHTTPD)
	case "httpd-ip":
		cfg.HTTPDIP = value
	case "httpd-port":
		cfg.HTTPDPort = atoiOr(value, cfg.HTTPDPort)
	case "listen":
		cfg.Listen = boolOr(value, cfg.Listen)
	case "scan-homedirs":
		cfg.ScanHomedirs = boolOr(value, cfg.ScanHomedirs)
	case "scan-profiles":
		cfg.ScanProfiles = boolOr(value, cfg.ScanProfiles)
	case "html":
		cfg.HTML = boolOr(value, cfg.HTML)
	case "json":
		cfg.JSON = boolOr(value, cfg.JSON)
	case "force":
		cfg.Force = boolOr(value, cfg.Force)
	case "backend-collect-timeout":
		cfg.BackendCollectTimeout = atoiOr(value, cfg.BackendCollectTimeout)
	case "additional-content":
		cfg.AdditionalContent = value
	case "assetname-support":
		cfg.AssetnameSupport = atoiOr(value, cfg.AssetnameSupport)
	case "partial":
		cfg.Partial = value
	case "full-inventory-postpone":
		cfg.FullInventoryPostpone = atoiOr(value, cfg.FullInventoryPostpone)
	case "full":
		cfg.Full = boolOr(value, cfg.Full)
	case "itemtype":
		cfg.Itemtype = value
	case "proxy":
		cfg.Proxy = value
	case "user":
		cfg.User = value
	case "password":
		cfg.Password = value
	case "ca-cert-dir":
		cfg.CACertDir = value
	case "ca-cert-file":
		cfg.CACertFile = value
	case "no-ssl-check":
		cfg.NoSSLCheck = boolOr(value, cfg.NoSSLCheck)
	case "no-compression":
		cfg.NoCompression = boolOr(value, cfg.NoCompression)
	case "timeout":
		cfg.Timeout = atoiOr(value, cfg.Timeout)
	case "oauth-client-id":
		cfg.OAuthClientID = value
	case "oauth-client-secret":
		cfg.OAuthClientSecret = value
	case "logfile":
		cfg.Logfile = value
	case "logfile-maxsize":
		cfg.LogfileMaxsize = atoiOr(value, cfg.LogfileMaxsize)
	case "logfacility":
		cfg.Logfacility = value
	case "color":
		cfg.Color = boolOr(value, cfg.Color)
	case "config":
		cfg.ConfigBackend = value
	case "conf-reload-interval":
		cfg.ConfReloadInterval = atoiOr(value, cfg.ConfReloadInterval)
	case "wait":
		cfg.Wait = atoiOr(value, cfg.Wait)
	case "daemon":
		cfg.Daemon = boolOr(value, cfg.Daemon)
	case "no-fork":
		cfg.NoFork = boolOr(value, cfg.NoFork)
	case "pidfile":
		cfg.Pidfile = value
	case "tag":
		cfg.Tag = value
	case "debug":
		cfg.Debug = atoiOr(value, cfg.Debug)
	case "vardir":
		cfg.Vardir = value
	case "glpi-version":
		cfg.GlpiVersion = value
	}
}

func appendList(cfg *Config, key string, values []string) {
	switch key {
	case "logger":
		cfg.Logger = append(cfg.Logger, values...)
	case "local":
		cfg.Local = append(cfg.Local, values...)
	case "server":
		cfg.Servers = append(cfg.Servers, values...)
	case "httpd-trust":
		cfg.HTTPDTrust = append(cfg.HTTPDTrust, values...)
	case "no-task":
		cfg.NoTask = append(cfg.NoTask, values...)
	case "no-category":
		cfg.NoCategory = append(cfg.NoCategory, values...)
	case "required-category":
		cfg.RequiredCategory = append(cfg.RequiredCategory, values...)
	case "tasks":
		cfg.Tasks = append(cfg.Tasks, values...)
	case "ssl-fingerprint":
		cfg.SSLFingerprint = append(cfg.SSLFingerprint, values...)
	case "credentials":
		cfg.Credentials = append(cfg.Credentials, values...)
	}
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func atoiOr(v string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func boolOr(v string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off", "":
		return false
	default:
		return fallback
	}
}

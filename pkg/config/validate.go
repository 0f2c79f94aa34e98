package config

import (
	"errors"
	"fmt"
	"path/filepath"
)

// Configuration errors are returned from Validate; they are fatal at
// startup (spec §7 "Configuration... Fatal at startup").
var (
	ErrMutuallyExclusiveCACert   = errors.New("config: ca-cert-file and ca-cert-dir are mutually exclusive")
	ErrMutuallyExclusivePartial  = errors.New("config: partial and daemon are mutually exclusive")
	ErrMutuallyExclusiveCreds    = errors.New("config: credentials and daemon are mutually exclusive")
	ErrFileLoggerNoPath          = errors.New("config: logger=file requires logfile to be set")
)

const minReloadInterval = 60

// Validate applies the spec's post-validation rewrites (§4.B): path
// resolution to absolute, conf-reload-interval clamping, and the
// mutually-exclusive-option checks. It mutates cfg in place.
func Validate(cfg *Config) error {
	if cfg.CACertFile != "" && cfg.CACertDir != "" {
		return ErrMutuallyExclusiveCACert
	}
	if cfg.Partial != "" && cfg.Daemon {
		return ErrMutuallyExclusivePartial
	}
	if len(cfg.Credentials) > 0 && cfg.Daemon {
		return ErrMutuallyExclusiveCreds
	}
	if containsString(cfg.Logger, "file") && cfg.Logfile == "" {
		return ErrFileLoggerNoPath
	}
	// conf-file forces the file backend, whatever --config said.
	if cfg.ConfFile != "" {
		cfg.ConfigBackend = "file"
	}

	if cfg.ConfReloadInterval != 0 && cfg.ConfReloadInterval < minReloadInterval {
		cfg.ConfReloadInterval = minReloadInterval
	}

	for _, p := range []*string{&cfg.Vardir, &cfg.Logfile, &cfg.AdditionalContent, &cfg.CACertFile, &cfg.CACertDir, &cfg.Pidfile} {
		if *p != "" && !filepath.IsAbs(*p) {
			abs, err := filepath.Abs(*p)
			if err != nil {
				return fmt.Errorf("config: resolve %q: %w", *p, err)
			}
			*p = abs
		}
	}

	return nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

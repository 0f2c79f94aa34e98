package config

import "github.com/creasty/defaults"

// applyDefaults populates every "default" struct tag onto cfg, the
// same mechanism jkilzi-assisted-migration-agent's go.mod declares
// (github.com/creasty/defaults) for its own configuration defaults.
func applyDefaults(cfg *Config) error {
	return defaults.Set(cfg)
}

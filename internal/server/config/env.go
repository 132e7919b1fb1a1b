package config

import "github.com/kelseyhightower/envconfig"

// parseEnv overlays MEDIAVAULT_* environment variables. Unset variables keep
// the value already in config; malformed values panic like a malformed file.
func parseEnv(config *Config) {
	if err := envconfig.Process(envPrefix, config); err != nil {
		panic(err)
	}
}

package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

const envPrefix = "TEMPFILES_"

// parseEnv overlays variables such as TEMPFILES_HTTP_ADDR. Unset variables
// leave the current value alone.
func parseEnv(config *Config) error {
	if err := env.ParseWithOptions(config, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	return nil
}

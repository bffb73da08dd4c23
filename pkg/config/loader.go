package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load parses environment variables into the provided struct.
// The struct should use `env` tags to define mappings. Durations use Go
// duration syntax ("100ms", "5m").
//
// Example:
//
//	type Config struct {
//	    Port     int           `env:"AGENT_HTTP_PORT" envDefault:"8090"`
//	    CacheTTL time.Duration `env:"COUNTER_CACHE_TTL" envDefault:"5m"`
//	}
func Load(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// LoadWithPrefix is Load with every variable name prefixed, so several
// agents can share one environment ("SHOP_A_", "SHOP_B_").
func LoadWithPrefix(cfg any, prefix string) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: prefix}); err != nil {
		return fmt.Errorf("parse config with prefix %q: %w", prefix, err)
	}
	return nil
}

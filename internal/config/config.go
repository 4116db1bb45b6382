package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the server startup configuration.
type Config struct {
	GamePort       int     `mapstructure:"gamePort"`       // Binary UDP
	WSPort         int     `mapstructure:"wsPort"`         // Text WebSocket
	AdminPort      int     `mapstructure:"adminPort"`      // Read-only HTTP
	MaxSessions    int     `mapstructure:"maxSessions"`
	TickRateHz     int     `mapstructure:"tickRateHz"`
	SnapshotRateHz int     `mapstructure:"snapshotRateHz"`
	WorldBounds    float64 `mapstructure:"worldBounds"`
}

// Load reads configuration with priority: environment variables
// (TOPSAIL_ prefix), then an optional config file, then defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix("TOPSAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("gamePort", 8080)
	v.SetDefault("wsPort", 8082)
	v.SetDefault("adminPort", 8081)
	v.SetDefault("maxSessions", 100)
	v.SetDefault("tickRateHz", 30)
	v.SetDefault("snapshotRateHz", 20)
	v.SetDefault("worldBounds", 4096.0)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// Missing config file is fine; env vars and defaults apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.MaxSessions <= 0 {
		return fmt.Errorf("config: maxSessions must be positive, got %d", c.MaxSessions)
	}
	if c.TickRateHz <= 0 || c.TickRateHz > 240 {
		return fmt.Errorf("config: tickRateHz out of range: %d", c.TickRateHz)
	}
	if c.SnapshotRateHz <= 0 || c.SnapshotRateHz > c.TickRateHz {
		return fmt.Errorf("config: snapshotRateHz must be in 1..tickRateHz, got %d", c.SnapshotRateHz)
	}
	if c.WorldBounds <= 0 {
		return fmt.Errorf("config: worldBounds must be positive")
	}
	return nil
}

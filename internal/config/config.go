// Package config loads and validates harvest configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all run configuration knobs loaded via Viper.
type Config struct {
	Harvest HarvestConfig `mapstructure:"harvest"`
	Pool    PoolConfig    `mapstructure:"pool"`
	Group   GroupConfig   `mapstructure:"group"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// HarvestConfig governs pacing, retries and the batch runner.
type HarvestConfig struct {
	InputDir           string        `mapstructure:"input_dir"`
	MinDelay           time.Duration `mapstructure:"min_delay"`
	MaxDelay           time.Duration `mapstructure:"max_delay"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	MaxRetries         int           `mapstructure:"max_retries"`
	BackoffMultiplier  float64       `mapstructure:"backoff_multiplier"`
	MaxBackoff         time.Duration `mapstructure:"max_backoff"`
	UserAgent          string        `mapstructure:"user_agent"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	MaxRedirects       int           `mapstructure:"max_redirects"`
	Workers            int           `mapstructure:"workers"`
	Verbose            bool          `mapstructure:"verbose"`
}

// PoolConfig sizes the connection handle pool.
type PoolConfig struct {
	Capacity    int           `mapstructure:"capacity"`
	AcquireWait time.Duration `mapstructure:"acquire_wait"`
}

// GroupConfig controls the host grouping stage.
type GroupConfig struct {
	OutputDir string `mapstructure:"output_dir"`
	MinURLs   int    `mapstructure:"min_urls"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DefaultUserAgent is the identity string sent with every liveness check.
const DefaultUserAgent = "Clippers-Harvest/1.0"

// Load builds a Config from disk/environment. Flags bound on v before the
// call take precedence over file and environment values.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("harvest.input_dir", "clean")
	v.SetDefault("harvest.min_delay", "500ms")
	v.SetDefault("harvest.max_delay", "5s")
	v.SetDefault("harvest.request_timeout", "10s")
	v.SetDefault("harvest.max_retries", 3)
	v.SetDefault("harvest.backoff_multiplier", 2.0)
	v.SetDefault("harvest.max_backoff", "0s")
	v.SetDefault("harvest.user_agent", DefaultUserAgent)
	v.SetDefault("harvest.insecure_skip_verify", false)
	v.SetDefault("harvest.max_redirects", 10)
	v.SetDefault("harvest.workers", 1)
	v.SetDefault("harvest.verbose", false)
	v.SetDefault("pool.capacity", 8)
	v.SetDefault("pool.acquire_wait", "2s")
	v.SetDefault("group.output_dir", "clean")
	v.SetDefault("group.min_urls", 2)
	v.SetDefault("server.addr", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	h := c.Harvest
	switch {
	case strings.TrimSpace(h.InputDir) == "":
		return errors.New("harvest.input_dir must be set")
	case h.MinDelay < 0:
		return errors.New("harvest.min_delay must be >= 0")
	case h.MaxDelay < h.MinDelay:
		return errors.New("harvest.max_delay must be >= harvest.min_delay")
	case h.RequestTimeout <= 0:
		return errors.New("harvest.request_timeout must be > 0")
	case h.MaxRetries < 0:
		return errors.New("harvest.max_retries must be >= 0")
	case h.BackoffMultiplier < 1:
		return errors.New("harvest.backoff_multiplier must be >= 1")
	case h.MaxBackoff < 0:
		return errors.New("harvest.max_backoff must be >= 0")
	case strings.TrimSpace(h.UserAgent) == "":
		return errors.New("harvest.user_agent must be set")
	case h.MaxRedirects < 0:
		return errors.New("harvest.max_redirects must be >= 0")
	case h.Workers <= 0:
		return errors.New("harvest.workers must be > 0")
	}
	if c.Pool.Capacity <= 0 {
		return errors.New("pool.capacity must be > 0")
	}
	if c.Pool.AcquireWait < 0 {
		return errors.New("pool.acquire_wait must be >= 0")
	}
	if c.Group.MinURLs < 1 {
		return errors.New("group.min_urls must be >= 1")
	}
	return nil
}

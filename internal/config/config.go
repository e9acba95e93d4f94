// Package config loads and validates craftwatch configuration via Viper.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Cache backends.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Results ResultsConfig `mapstructure:"results"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the read-only HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlConfig governs job tree traversal.
type CrawlConfig struct {
	MaxDepth int           `mapstructure:"max_depth"`
	Stagger  time.Duration `mapstructure:"stagger"`
}

// FetchConfig configures each per-brewery fetch channel.
type FetchConfig struct {
	UserAgent       string        `mapstructure:"user_agent"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RateLimitPeriod time.Duration `mapstructure:"rate_limit_period"`
	MaxRetries      int           `mapstructure:"max_retries"`
	QueueDepth      int           `mapstructure:"queue_depth"`
	Allow404        bool          `mapstructure:"allow_404"`
	// Allow404For lists brewery IDs whose channels fail fast on 404 when
	// Allow404 is off.
	Allow404For []string `mapstructure:"allow_404_breweries"`
	// HostRPS enables a shared per-host token bucket when positive.
	HostRPS   float64 `mapstructure:"host_rps"`
	HostBurst int     `mapstructure:"host_burst"`
}

// Allows404 reports whether the channel for breweryID fails fast on 404.
func (f FetchConfig) Allows404(breweryID string) bool {
	return f.Allow404 || slices.Contains(f.Allow404For, breweryID)
}

// CacheConfig selects where fetched pages are kept.
type CacheConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
	LRUSize int    `mapstructure:"lru_size"`
}

// ResultsConfig sets where inventory snapshots are written. They share the
// cache backend.
type ResultsConfig struct {
	Prefix string `mapstructure:"prefix"`
}

// DBConfig controls the optional Postgres run store.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// PubSubConfig holds metadata for publish notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAFTWATCH")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("crawl.max_depth", 10)
	v.SetDefault("crawl.stagger", 50*time.Millisecond)
	v.SetDefault("fetch.user_agent", "craftwatch/0.1 (+https://craftwatch.example)")
	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.rate_limit_period", 3*time.Second)
	v.SetDefault("fetch.max_retries", 5)
	v.SetDefault("fetch.queue_depth", 16)
	v.SetDefault("fetch.allow_404", false)
	v.SetDefault("fetch.host_rps", 0)
	v.SetDefault("fetch.host_burst", 1)
	v.SetDefault("cache.backend", BackendLocal)
	v.SetDefault("cache.dir", ".craftwatch")
	v.SetDefault("cache.prefix", "cache")
	v.SetDefault("cache.lru_size", 256)
	v.SetDefault("results.prefix", "inventory")
	v.SetDefault("db.table", "runs")
	v.SetDefault("db.max_open_conns", 4)
	v.SetDefault("pubsub.topic", "inventory-published")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Crawl.MaxDepth <= 0 {
		return fmt.Errorf("crawl.max_depth must be > 0")
	}
	if c.Crawl.Stagger < 0 {
		return fmt.Errorf("crawl.stagger must be >= 0")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Fetch.RateLimitPeriod < 0 {
		return fmt.Errorf("fetch.rate_limit_period must be >= 0")
	}
	if c.Fetch.MaxRetries <= 0 {
		return fmt.Errorf("fetch.max_retries must be > 0")
	}
	if c.Fetch.QueueDepth <= 0 {
		return fmt.Errorf("fetch.queue_depth must be > 0")
	}
	if c.Fetch.HostRPS < 0 {
		return fmt.Errorf("fetch.host_rps must be >= 0")
	}
	switch c.Cache.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Cache.Dir == "" {
			return fmt.Errorf("cache.dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Cache.Bucket == "" {
			return fmt.Errorf("cache.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("cache.backend %q must be one of memory, local, gcs", c.Cache.Backend)
	}
	if c.PubSub.ProjectID != "" && c.PubSub.Topic == "" {
		return fmt.Errorf("pubsub.topic must be set when pubsub.project_id is")
	}
	return nil
}

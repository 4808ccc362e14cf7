// Package config binds the ROUTER_* environment to the runtime
// configuration and watches the policy/catalog documents for changes.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved runtime configuration.
type Config struct {
	Bind        string `mapstructure:"bind"`
	Workers     int    `mapstructure:"workers"`
	Dev         bool   `mapstructure:"dev"`
	PolicyPath  string `mapstructure:"policy_path"`
	CatalogPath string `mapstructure:"catalog_path"`
	OverlayDir  string `mapstructure:"overlay_dir"`

	CacheTTLMs   int64  `mapstructure:"cache_ttl_ms"`
	CacheSize    int    `mapstructure:"cache_size"`
	StickySecret string `mapstructure:"sticky_secret"`

	MaxBodyBytes int64   `mapstructure:"max_body_bytes"`
	RateRPS      float64 `mapstructure:"rate_rps"`
	RateBurst    int     `mapstructure:"rate_burst"`

	Embeddings EmbeddingsConfig `mapstructure:",squash"`

	TracingEnabled bool   `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`

	WatchDocuments bool `mapstructure:"watch_documents"`
}

// EmbeddingsConfig maps the ROUTER_EMBEDDINGS_* variables.
type EmbeddingsConfig struct {
	Enabled        bool   `mapstructure:"embeddings_enabled"`
	Provider       string `mapstructure:"embeddings_provider"`
	BaseURL        string `mapstructure:"embeddings_base_url"`
	FastembedModel string `mapstructure:"embeddings_fastembed_model"`
	TopK           int    `mapstructure:"embeddings_top_k"`
	CacheMs        int64  `mapstructure:"embeddings_cache_ms"`
	AllowHashed    bool   `mapstructure:"embeddings_allow_hashed"`
	RedisAddr      string `mapstructure:"embeddings_redis_addr"`
	CanonicalTasks string `mapstructure:"canonical_tasks"`
}

// Load resolves configuration from the environment. Every key is also
// readable from an optional ROUTER_CONFIG_FILE yaml for local dev; the
// environment always wins.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ROUTER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Every key carries a default: viper only surfaces automatic-env
	// values through Unmarshal for keys it already knows about.
	v.SetDefault("bind", ":8090")
	v.SetDefault("workers", 0)
	v.SetDefault("dev", false)
	v.SetDefault("policy_path", "")
	v.SetDefault("catalog_path", "")
	v.SetDefault("overlay_dir", "")
	v.SetDefault("cache_ttl_ms", 30_000)
	v.SetDefault("cache_size", 4096)
	v.SetDefault("sticky_secret", "")
	v.SetDefault("max_body_bytes", 1<<20)
	v.SetDefault("rate_rps", 100.0)
	v.SetDefault("rate_burst", 50)
	v.SetDefault("embeddings_enabled", false)
	v.SetDefault("embeddings_provider", "")
	v.SetDefault("embeddings_base_url", "")
	v.SetDefault("embeddings_fastembed_model", "")
	v.SetDefault("embeddings_top_k", 3)
	v.SetDefault("embeddings_cache_ms", 300_000)
	v.SetDefault("embeddings_allow_hashed", false)
	v.SetDefault("embeddings_redis_addr", "")
	v.SetDefault("canonical_tasks", "")
	v.SetDefault("tracing_enabled", false)
	v.SetDefault("otlp_endpoint", "")
	v.SetDefault("watch_documents", true)

	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.PolicyPath == "" {
		return nil, fmt.Errorf("ROUTER_POLICY_PATH is required")
	}
	if cfg.CatalogPath == "" {
		return nil, fmt.Errorf("ROUTER_CATALOG_PATH is required")
	}
	return &cfg, nil
}

// EmbeddingsCacheTTL returns the vector cache TTL as a duration.
func (c *Config) EmbeddingsCacheTTL() time.Duration {
	return time.Duration(c.Embeddings.CacheMs) * time.Millisecond
}

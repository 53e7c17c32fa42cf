// Package config handles configuration loading for ThreatLens.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"threatlens/internal/geo"
	"threatlens/internal/history"
	"threatlens/internal/ioc"
	"threatlens/internal/kb"
	"threatlens/internal/pipeline"
	"threatlens/internal/publish"
	"threatlens/internal/schema"
)

// Config holds the complete engine configuration.
type Config struct {
	Pipeline      pipeline.Config        `yaml:"pipeline"`
	Validation    schema.ValidatorConfig `yaml:"validation"`
	KnowledgeBase KnowledgeBaseConfig    `yaml:"knowledge_base"`
	Ledger        LedgerConfig           `yaml:"ledger"`
	History       HistoryConfig          `yaml:"history"`
	Publish       PublishConfig          `yaml:"publish"`
	Geo           GeoConfig              `yaml:"geo"`
	Logging       LoggingConfig          `yaml:"logging"`
}

// KnowledgeBaseConfig locates the static knowledge base. When Source is
// "s3" the document is fetched from object storage, otherwise from Path.
type KnowledgeBaseConfig struct {
	Source string      `yaml:"source"` // file or s3
	Path   string      `yaml:"path"`
	S3     kb.S3Config `yaml:"s3"`
}

// LedgerConfig selects the IOC ledger backend. Backend "redis" persists
// indicator confidence across runs; "memory" is per-process.
type LedgerConfig struct {
	Backend string          `yaml:"backend"` // memory or redis
	Redis   ioc.RedisConfig `yaml:"redis"`
}

// HistoryConfig selects the assessment history backend feeding the
// historical-similarity feature.
type HistoryConfig struct {
	Backend    string                   `yaml:"backend"` // memory or clickhouse
	ClickHouse history.ClickHouseConfig `yaml:"clickhouse"`
}

// PublishConfig controls the ranked-output Kafka publisher.
type PublishConfig struct {
	Enabled bool           `yaml:"enabled"`
	Kafka   publish.Config `yaml:"kafka"`
}

// GeoConfig carries the static geolocation prefix table.
type GeoConfig struct {
	Entries []geo.Entry `yaml:"entries"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		Pipeline:   pipeline.DefaultConfig(),
		Validation: schema.DefaultValidatorConfig(),
		KnowledgeBase: KnowledgeBaseConfig{
			Source: "file",
			Path:   "configs/knowledge-base.yaml",
			S3:     kb.DefaultS3Config(),
		},
		Ledger: LedgerConfig{
			Backend: "memory",
			Redis:   ioc.DefaultRedisConfig(),
		},
		History: HistoryConfig{
			Backend:    "memory",
			ClickHouse: history.DefaultClickHouseConfig(),
		},
		Publish: PublishConfig{
			Enabled: false,
			Kafka:   publish.DefaultConfig(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a file or returns defaults. The path comes
// from THREATLENS_CONFIG_PATH, falling back to configs/config.yaml; a
// missing file means defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("THREATLENS_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if level := os.Getenv("THREATLENS_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if path := os.Getenv("THREATLENS_KB_PATH"); path != "" {
		c.KnowledgeBase.Source = "file"
		c.KnowledgeBase.Path = path
	}
	if addr := os.Getenv("THREATLENS_REDIS_ADDR"); addr != "" {
		c.Ledger.Backend = "redis"
		c.Ledger.Redis.Addr = addr
	}
	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.History.Backend = "clickhouse"
		c.History.ClickHouse.Hosts = []string{host}
	}
	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.History.ClickHouse.Password = pass
	}
	if brokers := os.Getenv("THREATLENS_KAFKA_BROKERS"); brokers != "" {
		c.Publish.Enabled = true
		c.Publish.Kafka.Brokers = splitAndTrim(brokers, ",")
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.KnowledgeBase.Source {
	case "file":
		if c.KnowledgeBase.Path == "" {
			return fmt.Errorf("knowledge_base.path is required for file source")
		}
	case "s3":
		if c.KnowledgeBase.S3.Bucket == "" {
			return fmt.Errorf("knowledge_base.s3.bucket is required for s3 source")
		}
	default:
		return fmt.Errorf("unknown knowledge_base.source: %q", c.KnowledgeBase.Source)
	}

	switch c.Ledger.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown ledger.backend: %q", c.Ledger.Backend)
	}

	switch c.History.Backend {
	case "memory", "clickhouse":
	default:
		return fmt.Errorf("unknown history.backend: %q", c.History.Backend)
	}

	if c.Publish.Enabled {
		if err := c.Publish.Kafka.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// splitAndTrim splits a string by separator and trims whitespace from each part.
func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

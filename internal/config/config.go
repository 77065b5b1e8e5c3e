// Package config provides configuration loading for brain.
//
// Configuration is read from an optional YAML file and overridden by
// BRAIN_-prefixed environment variables. Every section has defaults that
// run the daemon fully offline: in-memory store, hash embeddings, no LLM.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete brain configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	Store         StoreConfig         `koanf:"store"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	Text          TextConfig          `koanf:"text"`
	Events        EventsConfig        `koanf:"events"`
	Git           GitConfig           `koanf:"git"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig selects level and encoding. The logging package owns the rest.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	Endpoint        string `koanf:"endpoint"`
	Protocol        string `koanf:"protocol"`
	Insecure        bool   `koanf:"insecure"`
}

// StoreConfig selects the node store and its optional vector index.
type StoreConfig struct {
	// Provider is "memory" or "sqlite".
	Provider   string `koanf:"provider"`
	SQLitePath string `koanf:"sqlite_path"`

	// Index is "none", "chromem" or "qdrant".
	Index              string `koanf:"index"`
	ChromemPath        string `koanf:"chromem_path"`
	Collection         string `koanf:"collection"`
	QdrantHost         string `koanf:"qdrant_host"`
	QdrantPort         int    `koanf:"qdrant_port"`
	QdrantUseTLS       bool   `koanf:"qdrant_use_tls"`
	EmbeddingDimension int    `koanf:"embedding_dimension"`
}

// EmbeddingsConfig selects the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "hash", "fastembed" or "tei".
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	CacheDir string `koanf:"cache_dir"`
}

// TextConfig configures the LLM used for suggestions and refinement.
type TextConfig struct {
	APIKey        Secret  `koanf:"api_key"`
	Model         string  `koanf:"model"`
	MaxTokens     int     `koanf:"max_tokens"`
	RatePerSecond float64 `koanf:"rate_per_second"`
}

// EventsConfig controls audit event fan-out over NATS.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// GitConfig points diff inspection at a repository.
type GitConfig struct {
	RepoPath string `koanf:"repo_path"`
}

// Load returns the defaults overridden by environment variables only.
func Load() (*Config, error) {
	return load(nil)
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "brain"
	}
	if cfg.Observability.Endpoint == "" {
		cfg.Observability.Endpoint = "localhost:4317"
	}
	if cfg.Observability.Protocol == "" {
		cfg.Observability.Protocol = "grpc"
	}

	if cfg.Store.Provider == "" {
		cfg.Store.Provider = "memory"
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = "~/.config/brain/brain.db"
	}
	if cfg.Store.Index == "" {
		cfg.Store.Index = "none"
	}
	if cfg.Store.ChromemPath == "" {
		cfg.Store.ChromemPath = "~/.config/brain/index"
	}
	if cfg.Store.Collection == "" {
		cfg.Store.Collection = "brain_nodes"
	}
	if cfg.Store.QdrantHost == "" {
		cfg.Store.QdrantHost = "localhost"
	}
	if cfg.Store.QdrantPort == 0 {
		cfg.Store.QdrantPort = 6334
	}
	if cfg.Store.EmbeddingDimension == 0 {
		cfg.Store.EmbeddingDimension = 384
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "hash"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}

	if cfg.Text.Model == "" {
		cfg.Text.Model = "claude-3-5-haiku-latest"
	}
	if cfg.Text.MaxTokens == 0 {
		cfg.Text.MaxTokens = 1024
	}
	if cfg.Text.RatePerSecond == 0 {
		cfg.Text.RatePerSecond = 2
	}

	if cfg.Events.NATSURL == "" {
		cfg.Events.NATSURL = "nats://127.0.0.1:4222"
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "brain.events"
	}

	if cfg.Git.RepoPath == "" {
		cfg.Git.RepoPath = "."
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	if c.Observability.Protocol != "grpc" && c.Observability.Protocol != "http/protobuf" {
		return fmt.Errorf("unsupported telemetry protocol %q", c.Observability.Protocol)
	}

	switch c.Store.Provider {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unsupported store provider %q (must be memory or sqlite)", c.Store.Provider)
	}
	switch c.Store.Index {
	case "none", "chromem", "qdrant":
	default:
		return fmt.Errorf("unsupported store index %q (must be none, chromem or qdrant)", c.Store.Index)
	}
	if c.Store.Index != "none" && c.Store.Provider != "sqlite" {
		return fmt.Errorf("store index %q requires the sqlite provider", c.Store.Index)
	}
	if c.Store.QdrantPort < 1 || c.Store.QdrantPort > 65535 {
		return fmt.Errorf("invalid qdrant port: %d", c.Store.QdrantPort)
	}
	if c.Store.EmbeddingDimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.Store.EmbeddingDimension)
	}

	switch c.Embeddings.Provider {
	case "hash", "fastembed", "tei":
	default:
		return fmt.Errorf("unsupported embeddings provider %q", c.Embeddings.Provider)
	}

	if c.Text.MaxTokens <= 0 {
		return fmt.Errorf("text max tokens must be positive, got %d", c.Text.MaxTokens)
	}
	if c.Text.RatePerSecond < 0 {
		return fmt.Errorf("text rate must not be negative, got %v", c.Text.RatePerSecond)
	}

	if c.Events.Enabled && c.Events.NATSURL == "" {
		return errors.New("nats url required when events are enabled")
	}

	return nil
}

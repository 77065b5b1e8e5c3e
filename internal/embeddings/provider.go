// Package embeddings turns text into dense vectors.
//
// Three providers exist: a deterministic feature-hashing provider that needs
// no model or network ("hash"), local ONNX models through FastEmbed
// ("fastembed", cgo builds only), and a Text Embeddings Inference server
// ("tei"). NewProvider wraps whichever is chosen with metrics.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider generates embeddings.
type Provider interface {
	// EmbedDocuments embeds texts destined for storage.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the native vector length.
	Dimension() int
	// Close releases provider resources.
	Close() error
}

// ProviderConfig selects and configures a provider.
type ProviderConfig struct {
	// Provider is "hash", "fastembed" or "tei". Empty means "hash".
	Provider string
	// Model is the model name for fastembed and tei.
	Model string
	// BaseURL is the TEI server URL.
	BaseURL string
	// CacheDir is the FastEmbed model cache.
	CacheDir string
	// Dimension is the hash provider's vector length.
	Dimension int
}

// NewProvider creates the configured provider wrapped with metrics.
func NewProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		p     Provider
		err   error
		model = cfg.Model
	)
	switch cfg.Provider {
	case "hash", "":
		p = NewHashProvider(cfg.Dimension)
		model = "hash"
	case "fastembed":
		p, err = NewFastEmbedProvider(FastEmbedConfig{Model: cfg.Model, CacheDir: cfg.CacheDir})
	case "tei":
		p, err = NewTEIProvider(TEIConfig{BaseURL: cfg.BaseURL, Model: cfg.Model})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("embedding provider ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", model),
		zap.Int("dimension", p.Dimension()))

	return &instrumented{Provider: p, model: model, metrics: NewMetrics(logger)}, nil
}

// detectDimension guesses a model's vector length from its name.
func detectDimension(model string) int {
	if dim, ok := knownModelDimensions[model]; ok {
		return dim
	}
	switch lower := strings.ToLower(model); {
	case strings.Contains(lower, "large"):
		return 1024
	case strings.Contains(lower, "base"):
		return 768
	default:
		return 384
	}
}

var knownModelDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
}

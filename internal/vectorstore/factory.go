package vectorstore

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/brain/internal/config"
	"go.uber.org/zap"
)

// NewStore builds the Store selected by cfg:
//   - "memory" (default): MemoryStore, nothing persisted
//   - "sqlite": SQLiteStore at cfg.SQLitePath, optionally indexed by
//     chromem ("chromem") or a Qdrant server ("qdrant")
func NewStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EmbeddingDimension != 0 && cfg.EmbeddingDimension != EmbeddingDimension {
		return nil, fmt.Errorf("%w: embedding dimension must be %d, got %d",
			ErrInvalidConfig, EmbeddingDimension, cfg.EmbeddingDimension)
	}

	switch cfg.Provider {
	case "memory", "":
		if cfg.Index != "" && cfg.Index != "none" {
			return nil, fmt.Errorf("%w: index %q requires the sqlite provider", ErrInvalidConfig, cfg.Index)
		}
		logger.Info("using in-memory store")
		return NewMemoryStore(), nil

	case "sqlite":
		path, err := config.ExpandPath(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("expanding sqlite path: %w", err)
		}
		index, err := newIndex(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		store, err := NewSQLiteStore(SQLiteConfig{Path: path, Index: index}, logger)
		if err != nil {
			if index != nil {
				_ = index.Close()
			}
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("%w: unsupported store provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

func newIndex(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (VectorIndex, error) {
	switch cfg.Index {
	case "none", "":
		return nil, nil
	case "chromem":
		path, err := config.ExpandPath(cfg.ChromemPath)
		if err != nil {
			return nil, fmt.Errorf("expanding chromem path: %w", err)
		}
		idx, err := NewChromemIndex(ChromemConfig{Path: path, Collection: cfg.Collection, Compress: true}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating chromem index: %w", err)
		}
		return idx, nil
	case "qdrant":
		idx, err := NewQdrantIndex(ctx, QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			Collection: cfg.Collection,
			VectorSize: EmbeddingDimension,
			UseTLS:     cfg.QdrantUseTLS,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating qdrant index: %w", err)
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("%w: unsupported vector index %q", ErrInvalidConfig, cfg.Index)
	}
}

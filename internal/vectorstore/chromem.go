package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// ChromemConfig configures ChromemIndex.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps the index in memory.
	Path string
	// Collection is the chromem collection name.
	Collection string
	// Compress gzips persisted documents.
	Compress bool
}

// ChromemIndex is an embedded VectorIndex backed by chromem-go.
//
// Only embeddings and node ids are indexed; node rows stay in SQLite.
type ChromemIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	logger     *zap.Logger
}

// NewChromemIndex opens or creates the index.
func NewChromemIndex(cfg ChromemConfig, logger *zap.Logger) (*ChromemIndex, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("%w: chromem collection is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(cfg.Path, 0700); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", cfg.Path, err)
		}
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", cfg.Collection, err)
	}

	logger.Info("chromem index ready",
		zap.String("path", cfg.Path),
		zap.String("collection", cfg.Collection),
		zap.Int("documents", collection.Count()),
	)
	return &ChromemIndex{db: db, collection: collection, logger: logger}, nil
}

// noEmbedding is handed to chromem so it never tries to embed text itself;
// every document and query arrives with its vector.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem index requires precomputed embeddings")
}

func (c *ChromemIndex) Upsert(ctx context.Context, id string, vec []float32) error {
	if isZero(vec) {
		return c.Remove(ctx, id)
	}
	doc := chromem.Document{
		ID:        id,
		Content:   id,
		Embedding: append([]float32(nil), vec...),
	}
	if err := c.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("adding document %s: %w", id, err)
	}
	return nil
}

func (c *ChromemIndex) Remove(ctx context.Context, id string) error {
	if _, err := c.collection.GetByID(ctx, id); err != nil {
		return nil
	}
	if err := c.collection.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	return nil
}

func (c *ChromemIndex) Nearest(ctx context.Context, vec []float32, limit int) ([]string, error) {
	if limit <= 0 || isZero(vec) {
		return []string{}, nil
	}
	// chromem requires nResults <= document count.
	count := c.collection.Count()
	if count == 0 {
		return []string{}, nil
	}
	if limit > count {
		limit = count
	}

	results, err := c.collection.QueryEmbedding(ctx, vec, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying chromem: %w", err)
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	c.logger.Debug("chromem nearest", zap.Int("limit", limit), zap.Int("results", len(ids)))
	return ids, nil
}

// Close is a no-op; chromem persists on every write.
func (c *ChromemIndex) Close() error {
	return nil
}

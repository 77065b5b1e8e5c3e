package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteConfig configures SQLiteStore.
type SQLiteConfig struct {
	// Path is the database file. ":memory:" opens a private in-memory database.
	Path string
	// Index, when set, serves QueryNodesByVector instead of a table scan.
	Index VectorIndex
}

// SQLiteStore persists nodes and edges in SQLite. Embeddings are stored as
// little-endian float32 blobs next to the row.
type SQLiteStore struct {
	db     *sql.DB
	index  VectorIndex
	logger *zap.Logger
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS nodes (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	type       TEXT NOT NULL,
	content    TEXT NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	embedding  BLOB,
	has_vector INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nodes_type_content ON nodes(type, content);

CREATE TABLE IF NOT EXISTS edges (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	from_id    TEXT NOT NULL REFERENCES nodes(id),
	to_id      TEXT NOT NULL REFERENCES nodes(id),
	type       TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(from_id);
CREATE INDEX IF NOT EXISTS idx_edges_to ON edges(to_id);
`

// NewSQLiteStore opens (creating if needed) the database and migrates it.
func NewSQLiteStore(cfg SQLiteConfig, logger *zap.Logger) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := cfg.Path
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		dsn = "file:" + cfg.Path +
			"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)" +
			"&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	if cfg.Path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enabling foreign keys: %w", err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	logger.Info("sqlite store ready", zap.String("path", cfg.Path), zap.Bool("vector_index", cfg.Index != nil))
	return &SQLiteStore{db: db, index: cfg.Index, logger: logger}, nil
}

func (s *SQLiteStore) CreateNode(ctx context.Context, in NodeInput) (*Node, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	meta, err := normalizeMetadata(in.Metadata)
	if err != nil {
		return nil, err
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}

	now := time.Now().UTC()
	n := &Node{
		ID:        uuid.NewString(),
		Type:      in.Type,
		Content:   in.Content,
		Metadata:  meta,
		Embedding: NormalizeEmbedding(in.Embedding),
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO nodes (id, type, content, metadata, embedding, has_vector, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Type, n.Content, string(metaJSON), encodeVector(n.Embedding), boolInt(!isZero(n.Embedding)),
		formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("inserting node: %w", err)
	}

	if err := s.syncIndex(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *SQLiteStore) UpdateNode(ctx context.Context, id string, patch NodePatch) (*Node, error) {
	meta, err := normalizeMetadata(patch.Metadata)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	n, err := scanNode(tx.QueryRowContext(ctx, selectNode+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if patch.Content != nil {
		n.Content = *patch.Content
	}
	for k, v := range meta {
		n.Metadata[k] = v
	}
	embeddingChanged := patch.Embedding != nil
	if embeddingChanged {
		n.Embedding = NormalizeEmbedding(patch.Embedding)
	}
	n.UpdatedAt = time.Now().UTC()

	metaJSON, err := json.Marshal(n.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE nodes SET content = ?, metadata = ?, embedding = ?, has_vector = ?, updated_at = ? WHERE id = ?`,
		n.Content, string(metaJSON), encodeVector(n.Embedding), boolInt(!isZero(n.Embedding)),
		formatTime(n.UpdatedAt), id)
	if err != nil {
		return nil, fmt.Errorf("updating node: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing update: %w", err)
	}

	if embeddingChanged {
		if err := s.syncIndex(ctx, n); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (s *SQLiteStore) GetNode(ctx context.Context, id string) (*Node, error) {
	n, err := scanNode(s.db.QueryRowContext(ctx, selectNode+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return n, err
}

func (s *SQLiteStore) QueryNodes(ctx context.Context, filter Filter) ([]*Node, error) {
	cf := compileFilter(filter)
	if cf.impossible {
		return []*Node{}, nil
	}

	query := selectNode + ` WHERE 1 = 1`
	var args []any
	if cf.typ != nil {
		query += ` AND type = ?`
		args = append(args, *cf.typ)
	}
	if cf.content != nil {
		query += ` AND content = ?`
		args = append(args, *cf.content)
	}
	query += ` ORDER BY seq`

	nodes, err := s.queryNodes(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(cf.metadata) == 0 {
		return nodes, nil
	}
	out := nodes[:0]
	for _, n := range nodes {
		if cf.matches(n) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *SQLiteStore) QueryNodesByVector(ctx context.Context, vec []float32, limit int) ([]*Node, error) {
	query := NormalizeEmbedding(vec)
	if limit <= 0 || isZero(query) {
		return []*Node{}, nil
	}

	if s.index == nil {
		candidates, err := s.queryNodes(ctx, selectNode+` WHERE has_vector = 1 ORDER BY seq`)
		if err != nil {
			return nil, err
		}
		return rankByCosine(candidates, query, limit), nil
	}

	ids, err := s.index.Nearest(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("vector index query: %w", err)
	}
	out := make([]*Node, 0, len(ids))
	for _, id := range ids {
		n, err := s.GetNode(ctx, id)
		if err != nil {
			return nil, err
		}
		if n == nil {
			s.logger.Warn("vector index references missing node", zap.String("node_id", id))
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *SQLiteStore) CreateEdge(ctx context.Context, fromID, toID, edgeType string) (*Edge, error) {
	if err := validateEdge(fromID, toID, edgeType); err != nil {
		return nil, err
	}
	for _, id := range []string{fromID, toID} {
		var one int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM nodes WHERE id = ?`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
		}
		if err != nil {
			return nil, fmt.Errorf("checking node %s: %w", id, err)
		}
	}

	e := &Edge{FromID: fromID, ToID: toID, Type: edgeType, CreatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO edges (from_id, to_id, type, created_at) VALUES (?, ?, ?, ?)`,
		e.FromID, e.ToID, e.Type, formatTime(e.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("inserting edge: %w", err)
	}
	return e, nil
}

func (s *SQLiteStore) Edges(ctx context.Context, nodeID string) ([]*Edge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_id, to_id, type, created_at FROM edges WHERE from_id = ? OR to_id = ? ORDER BY seq`,
		nodeID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("querying edges: %w", err)
	}
	defer rows.Close()

	out := []*Edge{}
	for rows.Next() {
		var e Edge
		var created string
		if err := rows.Scan(&e.FromID, &e.ToID, &e.Type, &created); err != nil {
			return nil, fmt.Errorf("scanning edge: %w", err)
		}
		e.CreatedAt = parseTime(created)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Close closes the index, then the database.
func (s *SQLiteStore) Close() error {
	var errs []error
	if s.index != nil {
		errs = append(errs, s.index.Close())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

func (s *SQLiteStore) syncIndex(ctx context.Context, n *Node) error {
	if s.index == nil {
		return nil
	}
	var err error
	if isZero(n.Embedding) {
		err = s.index.Remove(ctx, n.ID)
	} else {
		err = s.index.Upsert(ctx, n.ID, n.Embedding)
	}
	if err != nil {
		return fmt.Errorf("vector index sync for %s: %w", n.ID, err)
	}
	return nil
}

const selectNode = `SELECT id, type, content, metadata, embedding, created_at, updated_at FROM nodes`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*Node, error) {
	var (
		n                Node
		metaJSON         string
		blob             []byte
		created, updated string
	)
	if err := row.Scan(&n.ID, &n.Type, &n.Content, &metaJSON, &blob, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning node: %w", err)
	}
	n.Metadata = map[string]any{}
	if err := json.Unmarshal([]byte(metaJSON), &n.Metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata for %s: %w", n.ID, err)
	}
	n.Embedding = NormalizeEmbedding(decodeVector(blob))
	n.CreatedAt = parseTime(created)
	n.UpdatedAt = parseTime(updated)
	return &n, nil
}

func (s *SQLiteStore) queryNodes(ctx context.Context, query string, args ...any) ([]*Node, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	defer rows.Close()

	out := []*Node{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

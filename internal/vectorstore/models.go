// Package vectorstore persists brain's graph: typed nodes with content,
// JSON metadata and a fixed-length embedding, plus typed edges between them.
//
// Two Store implementations exist. MemoryStore keeps everything in process.
// SQLiteStore persists to a modernc SQLite file and can delegate nearest-
// neighbour search to a VectorIndex (chromem or qdrant).
package vectorstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EmbeddingDimension is the length of every stored embedding.
const EmbeddingDimension = 384

var (
	// ErrNodeNotFound indicates the referenced node does not exist.
	ErrNodeNotFound = errors.New("node not found")

	// ErrInvalidNode indicates a node input failed validation.
	ErrInvalidNode = errors.New("invalid node")

	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid store configuration")

	// ErrClosed indicates the store was used after Close.
	ErrClosed = errors.New("store closed")
)

// Node is a stored record. ID is assigned by the store and never changes.
type Node struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	Embedding []float32      `json:"-"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Edge is a directed, typed link between two nodes.
type Edge struct {
	FromID    string         `json:"from_id"`
	ToID      string         `json:"to_id"`
	Type      string         `json:"type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NodeInput describes a node to create. A nil Embedding stores a zero vector.
type NodeInput struct {
	Type      string
	Content   string
	Metadata  map[string]any
	Embedding []float32
}

// NodePatch describes an update. Nil fields are left unchanged; Metadata
// keys are merged over the existing metadata.
type NodePatch struct {
	Content   *string
	Metadata  map[string]any
	Embedding []float32
}

// Filter selects nodes by equality. The keys "type" and "content" match the
// node's columns; every other key matches the metadata value under the same
// key. An empty filter matches every node.
type Filter map[string]any

func (in NodeInput) validate() error {
	if in.Type == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidNode)
	}
	return nil
}

// NormalizeEmbedding returns a copy of vec zero-padded or truncated to
// EmbeddingDimension. A nil vec yields a zero vector.
func NormalizeEmbedding(vec []float32) []float32 {
	out := make([]float32, EmbeddingDimension)
	copy(out, vec)
	return out
}

func isZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

// normalizeMetadata round-trips m through JSON so in-memory and persisted
// metadata have identical shapes (numbers become float64, structs become maps).
func normalizeMetadata(m map[string]any) (map[string]any, error) {
	if len(m) == 0 {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata is not JSON-encodable: %v", ErrInvalidNode, err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrInvalidNode, err)
	}
	return out, nil
}

func normalizeValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// clone returns a deep copy of n so callers cannot mutate stored state.
func (n *Node) clone() *Node {
	c := *n
	c.Metadata = cloneMap(n.Metadata)
	c.Embedding = append([]float32(nil), n.Embedding...)
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	// Values are JSON-shaped; a round trip is a deep copy.
	data, err := json.Marshal(m)
	if err != nil {
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	out := make(map[string]any, len(m))
	_ = json.Unmarshal(data, &out)
	return out
}

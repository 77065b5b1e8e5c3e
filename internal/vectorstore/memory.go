package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps nodes and edges in process. Vector queries are exact
// brute-force cosine ranking.
type MemoryStore struct {
	mu     sync.RWMutex
	nodes  map[string]*Node
	order  []string
	edges  []*Edge
	now    func() time.Time
	closed bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[string]*Node),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) CreateNode(ctx context.Context, in NodeInput) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	meta, err := normalizeMetadata(in.Metadata)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	now := s.now()
	n := &Node{
		ID:        uuid.NewString(),
		Type:      in.Type,
		Content:   in.Content,
		Metadata:  meta,
		Embedding: NormalizeEmbedding(in.Embedding),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.nodes[n.ID] = n
	s.order = append(s.order, n.ID)
	return n.clone(), nil
}

func (s *MemoryStore) UpdateNode(ctx context.Context, id string, patch NodePatch) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	meta, err := normalizeMetadata(patch.Metadata)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if patch.Content != nil {
		n.Content = *patch.Content
	}
	for k, v := range meta {
		n.Metadata[k] = v
	}
	if patch.Embedding != nil {
		n.Embedding = NormalizeEmbedding(patch.Embedding)
	}
	n.UpdatedAt = s.now()
	return n.clone(), nil
}

func (s *MemoryStore) GetNode(ctx context.Context, id string) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	n, ok := s.nodes[id]
	if !ok {
		return nil, nil
	}
	return n.clone(), nil
}

func (s *MemoryStore) QueryNodes(ctx context.Context, filter Filter) ([]*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cf := compileFilter(filter)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	out := []*Node{}
	for _, id := range s.order {
		if n := s.nodes[id]; cf.matches(n) {
			out = append(out, n.clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) QueryNodesByVector(ctx context.Context, vec []float32, limit int) ([]*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query := NormalizeEmbedding(vec)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	candidates := make([]*Node, 0, len(s.order))
	for _, id := range s.order {
		candidates = append(candidates, s.nodes[id])
	}
	ranked := rankByCosine(candidates, query, limit)
	for i, n := range ranked {
		ranked[i] = n.clone()
	}
	return ranked, nil
}

func (s *MemoryStore) CreateEdge(ctx context.Context, fromID, toID, edgeType string) (*Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateEdge(fromID, toID, edgeType); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	for _, id := range []string{fromID, toID} {
		if _, ok := s.nodes[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
		}
	}

	e := &Edge{FromID: fromID, ToID: toID, Type: edgeType, CreatedAt: s.now()}
	s.edges = append(s.edges, e)
	c := *e
	return &c, nil
}

func (s *MemoryStore) Edges(ctx context.Context, nodeID string) ([]*Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := []*Edge{}
	for _, e := range s.edges {
		if e.FromID == nodeID || e.ToID == nodeID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

package vectorstore

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
)

// Store is the node/edge capability handed to action handlers.
//
// Implementations must be safe for concurrent use. Returned nodes are
// copies; mutating them does not change stored state.
type Store interface {
	// CreateNode stores a new node and returns it with ID and timestamps set.
	CreateNode(ctx context.Context, in NodeInput) (*Node, error)

	// UpdateNode applies patch to node id. Unknown ids return ErrNodeNotFound.
	UpdateNode(ctx context.Context, id string, patch NodePatch) (*Node, error)

	// GetNode returns node id, or (nil, nil) when it does not exist.
	GetNode(ctx context.Context, id string) (*Node, error)

	// QueryNodes returns nodes matching filter in creation order.
	QueryNodes(ctx context.Context, filter Filter) ([]*Node, error)

	// QueryNodesByVector returns up to limit nodes nearest to vec, nearest
	// first. Nodes with a zero embedding are never returned.
	QueryNodesByVector(ctx context.Context, vec []float32, limit int) ([]*Node, error)

	// CreateEdge links fromID to toID. Both nodes must exist.
	CreateEdge(ctx context.Context, fromID, toID, edgeType string) (*Edge, error)

	// Edges returns every edge touching nodeID, oldest first.
	Edges(ctx context.Context, nodeID string) ([]*Edge, error)

	// Close releases resources.
	Close() error
}

// VectorIndex is an approximate or exact nearest-neighbour index over node
// embeddings. SQLiteStore keeps it in sync on create and update.
type VectorIndex interface {
	// Upsert indexes or re-indexes a node embedding.
	Upsert(ctx context.Context, id string, vec []float32) error
	// Remove drops a node from the index; unknown ids are ignored.
	Remove(ctx context.Context, id string) error
	// Nearest returns up to limit ids ordered nearest first.
	Nearest(ctx context.Context, vec []float32, limit int) ([]string, error)
	// Close releases index resources.
	Close() error
}

// compiledFilter is a Filter with values normalised for comparison.
type compiledFilter struct {
	typ, content *string
	metadata     map[string]any
	impossible   bool
}

func compileFilter(f Filter) compiledFilter {
	var cf compiledFilter
	for k, v := range f {
		switch k {
		case "type", "content":
			s, ok := v.(string)
			if !ok {
				cf.impossible = true
				continue
			}
			if k == "type" {
				cf.typ = &s
			} else {
				cf.content = &s
			}
		default:
			nv, err := normalizeValue(v)
			if err != nil {
				cf.impossible = true
				continue
			}
			if cf.metadata == nil {
				cf.metadata = map[string]any{}
			}
			cf.metadata[k] = nv
		}
	}
	return cf
}

func (cf compiledFilter) matches(n *Node) bool {
	if cf.impossible {
		return false
	}
	if cf.typ != nil && n.Type != *cf.typ {
		return false
	}
	if cf.content != nil && n.Content != *cf.content {
		return false
	}
	for k, want := range cf.metadata {
		got, ok := n.Metadata[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type scored struct {
	node  *Node
	score float64
}

// rankByCosine orders candidates by similarity to vec, keeping input order
// for ties, and returns at most limit of them. Zero embeddings are skipped.
func rankByCosine(candidates []*Node, vec []float32, limit int) []*Node {
	if limit <= 0 || isZero(vec) {
		return []*Node{}
	}
	ranked := make([]scored, 0, len(candidates))
	for _, n := range candidates {
		if isZero(n.Embedding) {
			continue
		}
		ranked = append(ranked, scored{node: n, score: cosine(vec, n.Embedding)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]*Node, len(ranked))
	for i, r := range ranked {
		out[i] = r.node
	}
	return out
}

func validateEdge(fromID, toID, edgeType string) error {
	if strings.TrimSpace(fromID) == "" || strings.TrimSpace(toID) == "" {
		return ErrNodeNotFound
	}
	if edgeType == "" {
		return fmt.Errorf("%w: edge type is required", ErrInvalidNode)
	}
	return nil
}

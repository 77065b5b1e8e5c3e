package dispatch

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/brain/internal/action"
	"github.com/fyrsmithlabs/brain/internal/vectorstore"
	"go.uber.org/zap"
)

// Node types written by handlers.
const (
	HelloNodeType   = "hello"
	ThoughtNodeType = "thought"
	TagNodeType     = "tag"

	TaggedEdgeType = "tagged"
)

func (d *Dispatcher) hello(ctx context.Context, p action.HelloPayload, deps Deps) (action.Result, error) {
	name := p.NameOrDefault()
	message := fmt.Sprintf("Hello from %s Architecture!", name)

	node, err := deps.Store.CreateNode(ctx, vectorstore.NodeInput{
		Type:     HelloNodeType,
		Content:  message,
		Metadata: map[string]any{"name": name, "timestamp": d.timestamp()},
	})
	if err != nil {
		return nil, fmt.Errorf("creating hello node: %w", err)
	}
	return action.HelloResult{Message: message, NodeID: node.ID}, nil
}

// captureThought stores the thought, then links it to one tag node per tag,
// reusing existing tag nodes by content. Nothing is rolled back on failure.
func (d *Dispatcher) captureThought(ctx context.Context, p action.CaptureThoughtPayload, deps Deps) (action.Result, error) {
	vec, err := deps.Text.GenerateEmbedding(ctx, p.Text)
	if err != nil {
		return nil, err
	}

	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	thought, err := deps.Store.CreateNode(ctx, vectorstore.NodeInput{
		Type:      ThoughtNodeType,
		Content:   p.Text,
		Metadata:  map[string]any{"tags": tags, "timestamp": d.timestamp()},
		Embedding: vec,
	})
	if err != nil {
		return nil, fmt.Errorf("creating thought node: %w", err)
	}

	for _, tag := range p.Tags {
		tagID, err := d.findOrCreateTag(ctx, deps.Store, tag)
		if err != nil {
			return nil, err
		}
		if _, err := deps.Store.CreateEdge(ctx, thought.ID, tagID, TaggedEdgeType); err != nil {
			return nil, fmt.Errorf("linking thought %s to tag %q: %w", thought.ID, tag, err)
		}
	}

	d.logger.Debug(ctx, "thought captured", zap.String("node_id", thought.ID), zap.Int("tags", len(p.Tags)))
	return action.CaptureThoughtResult{
		NodeID:  thought.ID,
		Message: fmt.Sprintf("Captured thought with %d tags", len(p.Tags)),
	}, nil
}

func (d *Dispatcher) findOrCreateTag(ctx context.Context, store vectorstore.Store, tag string) (string, error) {
	existing, err := store.QueryNodes(ctx, vectorstore.Filter{"type": TagNodeType, "content": tag})
	if err != nil {
		return "", fmt.Errorf("looking up tag %q: %w", tag, err)
	}
	if len(existing) > 0 {
		return existing[0].ID, nil
	}
	node, err := store.CreateNode(ctx, vectorstore.NodeInput{Type: TagNodeType, Content: tag})
	if err != nil {
		return "", fmt.Errorf("creating tag %q: %w", tag, err)
	}
	return node.ID, nil
}

func (d *Dispatcher) queryNodes(ctx context.Context, p action.QueryNodesPayload, deps Deps) (action.Result, error) {
	filter := vectorstore.Filter(p.Filter)
	if filter == nil {
		filter = vectorstore.Filter{}
	}
	nodes, err := deps.Store.QueryNodes(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}

	if limit := p.LimitOrDefault(); len(nodes) > limit {
		nodes = nodes[:limit]
	}
	out := make([]action.NodeSummary, len(nodes))
	for i, n := range nodes {
		out[i] = action.NodeSummary{ID: n.ID, Type: n.Type, Content: n.Content, CreatedAt: n.CreatedAt}
	}
	return action.QueryNodesResult{Nodes: out, Count: len(out)}, nil
}

func (d *Dispatcher) vectorSearch(ctx context.Context, p action.VectorSearchPayload, deps Deps) (action.Result, error) {
	vec, err := deps.Text.GenerateEmbedding(ctx, p.Query)
	if err != nil {
		return nil, err
	}
	nodes, err := deps.Store.QueryNodesByVector(ctx, vec, p.LimitOrDefault())
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	hits := make([]action.SearchHit, len(nodes))
	for i, n := range nodes {
		hits[i] = action.SearchHit{ID: n.ID, Content: n.Content}
	}
	return action.VectorSearchResult{Results: hits, Count: len(hits)}, nil
}

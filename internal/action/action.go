// Package action defines the closed set of actions brain dispatches: their
// kinds, payloads and result shapes, plus parsing and validation of both.
package action

import (
	"math"
	"time"
)

// Kind discriminates actions.
type Kind string

const (
	KindHello          Kind = "hello"
	KindCaptureThought Kind = "capture_thought"
	KindQueryNodes     Kind = "query_nodes"
	KindVectorSearch   Kind = "vector_search"
)

// Defaults applied when optional payload fields are absent.
const (
	DefaultHelloName   = "Brain"
	DefaultQueryLimit  = 50
	DefaultSearchLimit = 10
)

// Kinds returns every recognised kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindHello, KindCaptureThought, KindQueryNodes, KindVectorSearch}
}

// Valid reports whether k is a recognised kind.
func (k Kind) Valid() bool {
	switch k {
	case KindHello, KindCaptureThought, KindQueryNodes, KindVectorSearch:
		return true
	}
	return false
}

// Action is a validated action. Build it with Parse or ParseValue.
type Action struct {
	Kind    Kind    `json:"kind"`
	Payload Payload `json:"payload"`
}

// Payload is implemented by the four payload types.
type Payload interface {
	Kind() Kind
}

// Result is implemented by the four result types.
type Result interface {
	Kind() Kind
}

type HelloPayload struct {
	Name *string `json:"name,omitempty"`
}

func (HelloPayload) Kind() Kind { return KindHello }

// NameOrDefault returns Name, or DefaultHelloName when absent. An empty name
// is kept as given.
func (p HelloPayload) NameOrDefault() string {
	if p.Name == nil {
		return DefaultHelloName
	}
	return *p.Name
}

type CaptureThoughtPayload struct {
	Text string   `json:"text" validate:"required"`
	Tags []string `json:"tags,omitempty"`
}

func (CaptureThoughtPayload) Kind() Kind { return KindCaptureThought }

type QueryNodesPayload struct {
	Filter map[string]any `json:"filter,omitempty"`
	Limit  *float64       `json:"limit,omitempty" validate:"omitnil,gt=0"`
}

func (QueryNodesPayload) Kind() Kind { return KindQueryNodes }

// LimitOrDefault returns Limit truncated toward zero, or DefaultQueryLimit
// when absent.
func (p QueryNodesPayload) LimitOrDefault() int {
	return truncLimit(p.Limit, DefaultQueryLimit)
}

type VectorSearchPayload struct {
	Query string   `json:"query" validate:"required"`
	Limit *float64 `json:"limit,omitempty" validate:"omitnil,gt=0"`
}

func (VectorSearchPayload) Kind() Kind { return KindVectorSearch }

// LimitOrDefault returns Limit truncated toward zero, or DefaultSearchLimit
// when absent.
func (p VectorSearchPayload) LimitOrDefault() int {
	return truncLimit(p.Limit, DefaultSearchLimit)
}

// truncLimit converts a JSON number limit to a count. Fractions are dropped,
// so 2.5 means 2 and 0.5 means 0. Values past MaxInt32 are capped.
func truncLimit(limit *float64, def int) int {
	switch {
	case limit == nil:
		return def
	case *limit >= math.MaxInt32:
		return math.MaxInt32
	default:
		return int(*limit)
	}
}

type HelloResult struct {
	Message string `json:"message" validate:"required"`
	NodeID  string `json:"node_id" validate:"required"`
}

func (HelloResult) Kind() Kind { return KindHello }

type CaptureThoughtResult struct {
	NodeID  string `json:"node_id" validate:"required"`
	Message string `json:"message" validate:"required"`
}

func (CaptureThoughtResult) Kind() Kind { return KindCaptureThought }

// NodeSummary is the projection of a node returned by query_nodes.
type NodeSummary struct {
	ID        string    `json:"id" validate:"required"`
	Type      string    `json:"type" validate:"required"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type QueryNodesResult struct {
	Nodes []NodeSummary `json:"nodes" validate:"dive"`
	Count int           `json:"count" validate:"gte=0"`
}

func (QueryNodesResult) Kind() Kind { return KindQueryNodes }

// SearchHit is one vector_search match. Score is never populated by the
// current stores and is omitted from JSON while nil.
type SearchHit struct {
	ID      string   `json:"id" validate:"required"`
	Content string   `json:"content"`
	Score   *float32 `json:"score,omitempty"`
}

type VectorSearchResult struct {
	Results []SearchHit `json:"results" validate:"dive"`
	Count   int         `json:"count" validate:"gte=0"`
}

func (VectorSearchResult) Kind() Kind { return KindVectorSearch }

package vectorstore

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("brain.vectorstore")

// Metrics holds Prometheus collectors for store operations.
type Metrics struct {
	// OperationsTotal counts store calls.
	// Labels: operation, result (success, error)
	OperationsTotal *prometheus.CounterVec

	// OperationDuration tracks store call latency in seconds.
	// Labels: operation
	OperationDuration *prometheus.HistogramVec
}

// NewMetrics registers store collectors with reg. A nil reg uses the
// default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		OperationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "brain",
				Subsystem: "vectorstore",
				Name:      "operations_total",
				Help:      "Total number of store operations",
			},
			[]string{"operation", "result"},
		),
		OperationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "brain",
				Subsystem: "vectorstore",
				Name:      "operation_duration_seconds",
				Help:      "Duration of store operations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// InstrumentedStore wraps a Store with tracing spans and Prometheus metrics.
type InstrumentedStore struct {
	next    Store
	metrics *Metrics
}

// Instrument wraps next. A nil metrics records spans only.
func Instrument(next Store, metrics *Metrics) *InstrumentedStore {
	return &InstrumentedStore{next: next, metrics: metrics}
}

// Unwrap returns the wrapped store.
func (s *InstrumentedStore) Unwrap() Store { return s.next }

func (s *InstrumentedStore) observe(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := tracer.Start(ctx, "Store."+op, trace.WithAttributes(attrs...))
	start := time.Now()
	return ctx, func(err error) {
		result := "success"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
		if s.metrics != nil {
			s.metrics.OperationsTotal.WithLabelValues(op, result).Inc()
			s.metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		}
	}
}

func (s *InstrumentedStore) CreateNode(ctx context.Context, in NodeInput) (n *Node, err error) {
	ctx, done := s.observe(ctx, "CreateNode", attribute.String("node.type", in.Type))
	defer func() { done(err) }()
	return s.next.CreateNode(ctx, in)
}

func (s *InstrumentedStore) UpdateNode(ctx context.Context, id string, patch NodePatch) (n *Node, err error) {
	ctx, done := s.observe(ctx, "UpdateNode", attribute.String("node.id", id))
	defer func() { done(err) }()
	return s.next.UpdateNode(ctx, id, patch)
}

func (s *InstrumentedStore) GetNode(ctx context.Context, id string) (n *Node, err error) {
	ctx, done := s.observe(ctx, "GetNode", attribute.String("node.id", id))
	defer func() { done(err) }()
	return s.next.GetNode(ctx, id)
}

func (s *InstrumentedStore) QueryNodes(ctx context.Context, filter Filter) (nodes []*Node, err error) {
	ctx, done := s.observe(ctx, "QueryNodes", attribute.Int("filter.keys", len(filter)))
	defer func() { done(err) }()
	return s.next.QueryNodes(ctx, filter)
}

func (s *InstrumentedStore) QueryNodesByVector(ctx context.Context, vec []float32, limit int) (nodes []*Node, err error) {
	ctx, done := s.observe(ctx, "QueryNodesByVector", attribute.Int("limit", limit))
	defer func() { done(err) }()
	return s.next.QueryNodesByVector(ctx, vec, limit)
}

func (s *InstrumentedStore) CreateEdge(ctx context.Context, fromID, toID, edgeType string) (e *Edge, err error) {
	ctx, done := s.observe(ctx, "CreateEdge", attribute.String("edge.type", edgeType))
	defer func() { done(err) }()
	return s.next.CreateEdge(ctx, fromID, toID, edgeType)
}

func (s *InstrumentedStore) Edges(ctx context.Context, nodeID string) (edges []*Edge, err error) {
	ctx, done := s.observe(ctx, "Edges", attribute.String("node.id", nodeID))
	defer func() { done(err) }()
	return s.next.Edges(ctx, nodeID)
}

func (s *InstrumentedStore) Close() error {
	return s.next.Close()
}

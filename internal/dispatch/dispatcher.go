// Package dispatch runs actions through brain's audited pipeline:
//
//  1. validate the raw action against the closed action set
//  2. open an audit event node in the store
//  3. route to the kind's handler
//  4. validate the handler's result shape
//  5. close the audit event with the output or the error
//
// The original error is always returned unchanged on the failure path.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/brain/internal/action"
	"github.com/fyrsmithlabs/brain/internal/events"
	"github.com/fyrsmithlabs/brain/internal/logging"
	"github.com/fyrsmithlabs/brain/internal/textservice"
	"github.com/fyrsmithlabs/brain/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/brain/internal/dispatch"

// Audit node fields and statuses.
const (
	EventNodeType = "event"

	StatusSuccess = "success"
	StatusFailure = "failure"
)

var (
	// ErrUnknownAction is returned when routing finds no handler for a kind.
	ErrUnknownAction = errors.New("unknown action type")

	// ErrMissingDependency indicates Deps lacks a capability.
	ErrMissingDependency = errors.New("missing dispatch dependency")
)

// UnknownActionError carries the kind that failed to route.
type UnknownActionError struct {
	Kind action.Kind
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("Unknown action type: %s", e.Kind)
}

func (e *UnknownActionError) Unwrap() error { return ErrUnknownAction }

// Deps are the capabilities a single dispatch may use.
type Deps struct {
	Store vectorstore.Store
	Text  textservice.Service
}

func (d Deps) validate() error {
	if d.Store == nil {
		return fmt.Errorf("%w: store", ErrMissingDependency)
	}
	if d.Text == nil {
		return fmt.Errorf("%w: text service", ErrMissingDependency)
	}
	return nil
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) { d.tracer = tp.Tracer(instrumentationName) }
}

// WithMeterProvider sets the meter provider. Defaults to the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(d *Dispatcher) { d.meter = mp.Meter(instrumentationName) }
}

// WithPublisher fans closed audit events out through p.
func WithPublisher(p events.Publisher) Option {
	return func(d *Dispatcher) { d.publisher = p }
}

// WithClock overrides time.Now for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher holds only immutable collaborators and is safe for concurrent use.
type Dispatcher struct {
	logger    *logging.Logger
	tracer    trace.Tracer
	meter     metric.Meter
	metrics   *dispatchMetrics
	publisher events.Publisher
	now       func() time.Time
}

// New returns a Dispatcher.
func New(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		logger:    logging.NewNop(),
		tracer:    otel.Tracer(instrumentationName),
		meter:     otel.Meter(instrumentationName),
		publisher: events.Noop{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	m, err := newDispatchMetrics(d.meter)
	if err != nil {
		return nil, err
	}
	d.metrics = m
	return d, nil
}

// Dispatch parses raw JSON of the form {"kind": ..., "payload": {...}} and
// runs it. Input validation failures return a *action.ValidationError before
// any store write.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte, deps Deps) (action.Result, error) {
	act, err := action.Parse(raw)
	if err != nil {
		d.reject(ctx, err)
		return nil, err
	}
	return d.Execute(ctx, act, deps)
}

// DispatchValue is Dispatch for an already-decoded value.
func (d *Dispatcher) DispatchValue(ctx context.Context, v any, deps Deps) (action.Result, error) {
	act, err := action.ParseValue(v)
	if err != nil {
		d.reject(ctx, err)
		return nil, err
	}
	return d.Execute(ctx, act, deps)
}

// DispatchPayload runs kind with a payload-only body.
func (d *Dispatcher) DispatchPayload(ctx context.Context, kind action.Kind, rawPayload []byte, deps Deps) (action.Result, error) {
	act, err := action.ParsePayload(kind, rawPayload)
	if err != nil {
		d.reject(ctx, err)
		return nil, err
	}
	return d.Execute(ctx, act, deps)
}

// Execute runs a validated action through audit-open, routing, result
// validation and audit-close.
func (d *Dispatcher) Execute(ctx context.Context, act action.Action, deps Deps) (action.Result, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	kind := string(act.Kind)
	ctx = logging.WithActionKind(ctx, kind)
	ctx, span := d.tracer.Start(ctx, "Dispatcher.Dispatch", trace.WithAttributes(attribute.String("action.kind", kind)))
	defer span.End()
	start := time.Now()

	eventID, err := d.openAudit(ctx, act, deps.Store)
	if err != nil {
		err = fmt.Errorf("opening audit event: %w", err)
		d.finish(ctx, span, kind, StatusFailure, start, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("audit.event_id", eventID))

	result, err := d.route(ctx, act, deps)
	if err == nil {
		err = action.ValidateResult(act.Kind, result)
	}
	if err != nil {
		d.closeFailure(ctx, eventID, act.Kind, err, deps.Store)
		d.finish(ctx, span, kind, StatusFailure, start, err)
		return nil, err
	}

	if err := d.closeSuccess(ctx, eventID, result, deps.Store); err != nil {
		err = fmt.Errorf("closing audit event %s: %w", eventID, err)
		d.finish(ctx, span, kind, StatusFailure, start, err)
		return nil, err
	}
	d.publish(ctx, events.Audit{EventID: eventID, Kind: kind, Status: StatusSuccess, Timestamp: d.now().UTC()})
	d.finish(ctx, span, kind, StatusSuccess, start, nil)
	return result, nil
}

// route is the switch from kind to handler.
func (d *Dispatcher) route(ctx context.Context, act action.Action, deps Deps) (action.Result, error) {
	ctx, span := d.tracer.Start(ctx, "Dispatcher.handle")
	defer span.End()

	var (
		result action.Result
		err    error
	)
	switch p := act.Payload.(type) {
	case action.HelloPayload:
		result, err = d.hello(ctx, p, deps)
	case action.CaptureThoughtPayload:
		result, err = d.captureThought(ctx, p, deps)
	case action.QueryNodesPayload:
		result, err = d.queryNodes(ctx, p, deps)
	case action.VectorSearchPayload:
		result, err = d.vectorSearch(ctx, p, deps)
	default:
		err = &UnknownActionError{Kind: act.Kind}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (d *Dispatcher) openAudit(ctx context.Context, act action.Action, store vectorstore.Store) (string, error) {
	ctx, span := d.tracer.Start(ctx, "Dispatcher.auditOpen")
	defer span.End()

	node, err := store.CreateNode(ctx, vectorstore.NodeInput{
		Type:    EventNodeType,
		Content: string(act.Kind),
		Metadata: map[string]any{
			"action":    string(act.Kind),
			"input":     act.Payload,
			"timestamp": d.timestamp(),
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	d.logger.Debug(ctx, "audit event opened", zap.String("event_id", node.ID))
	return node.ID, nil
}

func (d *Dispatcher) closeSuccess(ctx context.Context, eventID string, result action.Result, store vectorstore.Store) error {
	ctx, span := d.tracer.Start(ctx, "Dispatcher.auditClose")
	defer span.End()

	_, err := store.UpdateNode(ctx, eventID, vectorstore.NodePatch{
		Metadata: map[string]any{"output": result, "status": StatusSuccess},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// closeFailure records cause on the audit event. A failing write is logged
// and otherwise ignored; the caller returns cause either way.
func (d *Dispatcher) closeFailure(ctx context.Context, eventID string, kind action.Kind, cause error, store vectorstore.Store) {
	ctx, span := d.tracer.Start(ctx, "Dispatcher.auditClose")
	defer span.End()

	_, err := store.UpdateNode(ctx, eventID, vectorstore.NodePatch{
		Metadata: map[string]any{"error": cause.Error(), "status": StatusFailure},
	})
	if err != nil {
		span.RecordError(err)
		d.logger.Warn(ctx, "failed to record action failure on audit event",
			zap.String("event_id", eventID),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
	}
	d.publish(ctx, events.Audit{
		EventID:   eventID,
		Kind:      string(kind),
		Status:    StatusFailure,
		Error:     cause.Error(),
		Timestamp: d.now().UTC(),
	})
}

func (d *Dispatcher) publish(ctx context.Context, a events.Audit) {
	if err := d.publisher.Publish(ctx, a); err != nil {
		d.logger.Warn(ctx, "failed to publish audit event", zap.String("event_id", a.EventID), zap.Error(err))
	}
}

func (d *Dispatcher) reject(ctx context.Context, err error) {
	d.metrics.record(ctx, "invalid", "rejected", 0)
	d.logger.Info(ctx, "action rejected", zap.Error(err))
}

func (d *Dispatcher) finish(ctx context.Context, span trace.Span, kind, status string, start time.Time, err error) {
	elapsed := time.Since(start)
	d.metrics.record(ctx, kind, status, elapsed)
	span.SetAttributes(attribute.String("action.status", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Warn(ctx, "action failed", zap.Duration("duration", elapsed), zap.Error(err))
		return
	}
	span.SetStatus(codes.Ok, "")
	d.logger.Info(ctx, "action completed", zap.Duration("duration", elapsed))
}

func (d *Dispatcher) timestamp() string {
	return d.now().UTC().Format(time.RFC3339Nano)
}

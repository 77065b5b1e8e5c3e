// Package events fans completed audit events out to NATS so other processes
// can follow what brain does without polling the store.
//
// Each closed audit event is published once to
//
//	<prefix>.<kind>.<status>
//
// for example brain.events.capture_thought.success. Publishing is
// best-effort: failures are returned to the caller, which logs them.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "brain.events"

// ErrInvalidConfig indicates invalid publisher configuration.
var ErrInvalidConfig = errors.New("invalid events configuration")

// Audit summarises one closed audit event.
type Audit struct {
	EventID   string    `json:"event_id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher publishes audit summaries.
type Publisher interface {
	Publish(ctx context.Context, a Audit) error
	Close() error
}

// Noop discards everything.
type Noop struct{}

func (Noop) Publish(context.Context, Audit) error { return nil }
func (Noop) Close() error                         { return nil }

// Subject returns the subject an audit summary is published on.
func Subject(prefix string, a Audit) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return fmt.Sprintf("%s.%s.%s", prefix, token(a.Kind), token(a.Status))
}

// token keeps subject tokens free of separators and wildcards.
func token(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

// NATSPublisher publishes audit summaries as JSON on a NATS connection.
type NATSPublisher struct {
	nc     *nats.Conn
	owned  bool
	prefix string
	logger *zap.Logger
}

// NewNATSPublisher wraps an existing connection. The caller keeps ownership
// of nc; Close does not close it.
func NewNATSPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	if nc == nil {
		return nil, fmt.Errorf("%w: nats connection is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger}, nil
}

// Connect dials url and returns a publisher that owns the connection.
func Connect(url, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: nats url is required", ErrInvalidConfig)
	}
	nc, err := nats.Connect(url,
		nats.Name("brain"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	p, err := NewNATSPublisher(nc, prefix, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	p.owned = true
	p.logger.Info("connected to NATS", zap.String("url", url), zap.String("subject_prefix", p.prefix))
	return p, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, a Audit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	subject := Subject(p.prefix, a)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug("published audit event", zap.String("subject", subject), zap.String("event_id", a.EventID))
	return nil
}

// Close drains the connection when the publisher owns it.
func (p *NATSPublisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.nc.Drain()
}

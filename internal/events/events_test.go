package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	server, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "brain.events.hello.success", Subject("", Audit{Kind: "hello", Status: "success"}))
	assert.Equal(t, "x.capture_thought.failure", Subject("x", Audit{Kind: "capture_thought", Status: "failure"}))
	assert.Equal(t, "x.a_b_.unknown", Subject("x", Audit{Kind: "a.b*"}))
}

func TestNATSPublisher_Publish(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("brain.events.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	pub, err := NewNATSPublisher(nc, "", nil)
	require.NoError(t, err)

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err = pub.Publish(context.Background(), Audit{
		EventID:   "evt-1",
		Kind:      "capture_thought",
		Status:    "failure",
		Error:     "embedding failed",
		Timestamp: ts,
	})
	require.NoError(t, err)

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "brain.events.capture_thought.failure", msg.Subject)

	var got Audit
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "evt-1", got.EventID)
	assert.Equal(t, "embedding failed", got.Error)
	assert.True(t, ts.Equal(got.Timestamp))

	// Borrowed connections stay open.
	require.NoError(t, pub.Close())
	assert.False(t, nc.IsClosed())
}

func TestConnect(t *testing.T) {
	server := startTestNATSServer(t)

	pub, err := Connect(server.ClientURL(), "audit", nil)
	require.NoError(t, err)
	assert.Equal(t, "audit", pub.prefix)
	require.NoError(t, pub.Publish(context.Background(), Audit{Kind: "hello", Status: "success"}))
	require.NoError(t, pub.Close())

	_, err = Connect("", "", nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNATSPublisher_CancelledContext(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	pub, err := NewNATSPublisher(nc, "", nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.Publish(ctx, Audit{}), context.Canceled)
}

func TestNewNATSPublisher_RequiresConn(t *testing.T) {
	_, err := NewNATSPublisher(nil, "", nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNoop(t *testing.T) {
	var p Publisher = Noop{}
	assert.NoError(t, p.Publish(context.Background(), Audit{}))
	assert.NoError(t, p.Close())
}

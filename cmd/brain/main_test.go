package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/brain/internal/action"
	"github.com/fyrsmithlabs/brain/internal/config"
	"github.com/fyrsmithlabs/brain/internal/dispatch"
	"github.com/fyrsmithlabs/brain/internal/vectorstore"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Logging.Level = "error"
	cfg.Git.RepoPath = t.TempDir()
	return cfg
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestNewApp_Defaults(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(t), true)
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.Close(context.Background())) }()

	_, ok := a.store.(*vectorstore.InstrumentedStore)
	assert.True(t, ok, "store is instrumented")
	assert.NotNil(t, a.git)

	result, err := a.dispatcher.Dispatch(context.Background(), []byte(`{"kind":"hello","payload":{}}`), a.deps)
	require.NoError(t, err)
	assert.Equal(t, "Hello from Brain Architecture!", result.(action.HelloResult).Message)

	events, err := a.store.QueryNodes(context.Background(), vectorstore.Filter{"type": dispatch.EventNodeType})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestNewApp_SQLiteWithChromem(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.Store.Provider = "sqlite"
	cfg.Store.SQLitePath = filepath.Join(dir, "brain.db")
	cfg.Store.Index = "chromem"
	cfg.Store.ChromemPath = filepath.Join(dir, "index")

	a, err := newApp(context.Background(), cfg, true)
	require.NoError(t, err)

	_, err = a.dispatcher.Dispatch(context.Background(),
		[]byte(`{"kind":"capture_thought","payload":{"text":"buy milk"}}`), a.deps)
	require.NoError(t, err)
	require.NoError(t, a.Close(context.Background()))

	a, err = newApp(context.Background(), cfg, true)
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.Close(context.Background())) }()

	result, err := a.dispatcher.Dispatch(context.Background(),
		[]byte(`{"kind":"vector_search","payload":{"query":"milk"}}`), a.deps)
	require.NoError(t, err)
	found := result.(action.VectorSearchResult)
	require.Equal(t, 1, found.Count)
	assert.Equal(t, "buy milk", found.Results[0].Content)
}

func TestNewApp_InvalidStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Provider = "cassandra"

	_, err := newApp(context.Background(), cfg, true)
	assert.Error(t, err)
}

func TestServe(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Port = freePort(t)
	base := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- serve(ctx, cfg) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Post(base+"/api/v1/actions/hello", "application/json", strings.NewReader(`{"name":"Ada"}`))
	require.NoError(t, err)
	var hello action.HelloResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hello))
	resp.Body.Close()
	assert.Equal(t, "Hello from Ada Architecture!", hello.Message)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Contains(t, body.String(), "brain_vectorstore_operations_total")
	assert.Contains(t, body.String(), "brain_http_requests_total")

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, out.String(), "Version:    dev")
}

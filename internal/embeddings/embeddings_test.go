package embeddings

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashProvider_Deterministic(t *testing.T) {
	p := NewHashProvider(0)
	ctx := context.Background()

	a, err := p.EmbedQuery(ctx, "Buy milk")
	require.NoError(t, err)
	b, err := p.EmbedQuery(ctx, "buy MILK!")
	require.NoError(t, err)

	assert.Len(t, a, DefaultHashDimension)
	assert.Equal(t, a, b, "case and punctuation do not change tokens")
	assert.InDelta(t, 1.0, cosine(a, a), 1e-6)
}

func TestHashProvider_SharedWordsRankHigher(t *testing.T) {
	p := NewHashProvider(384)
	ctx := context.Background()

	docs, err := p.EmbedDocuments(ctx, []string{"buy milk", "walk the dog"})
	require.NoError(t, err)
	query, err := p.EmbedQuery(ctx, "milk")
	require.NoError(t, err)

	assert.Greater(t, cosine(query, docs[0]), cosine(query, docs[1]))
	assert.Greater(t, cosine(query, docs[0]), 0.5)
}

func TestHashProvider_EmptyText(t *testing.T) {
	p := NewHashProvider(8)
	vec, err := p.EmbedQuery(context.Background(), "  ...  ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), vec)

	_, err = p.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestHashProvider_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHashProvider(8).EmbedQuery(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func newTEIServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed", r.URL.Path)
		if status != http.StatusOK {
			http.Error(w, "model overloaded", status)
			return
		}
		var req teiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Truncate)

		n := 1
		if list, ok := req.Inputs.([]interface{}); ok {
			n = len(list)
		}
		out := make([][]float32, n)
		for i := range out {
			out[i] = []float32{float32(i), 0.5, 0.25}
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTEIProvider(t *testing.T) {
	srv := newTEIServer(t, http.StatusOK)
	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL + "/", Model: "BAAI/bge-base-en-v1.5"})
	require.NoError(t, err)
	assert.Equal(t, 768, p.Dimension())

	ctx := context.Background()
	vec, err := p.EmbedQuery(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0.5, 0.25}, vec)

	docs, err := p.EmbedDocuments(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	assert.Equal(t, float32(1), docs[1][0])

	_, err = p.EmbedQuery(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestTEIProvider_ServerError(t *testing.T) {
	srv := newTEIServer(t, http.StatusServiceUnavailable)
	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.EmbedQuery(context.Background(), "hello")
	require.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "503")
}

func TestNewTEIProvider_RequiresURL(t *testing.T) {
	_, err := NewTEIProvider(TEIConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(ProviderConfig{Provider: "hash", Dimension: 16}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 16, p.Dimension())

	vec, err := p.EmbedQuery(context.Background(), "thought")
	require.NoError(t, err)
	assert.Len(t, vec, 16)
	require.NoError(t, p.Close())

	srv := newTEIServer(t, http.StatusOK)
	p, err = NewProvider(ProviderConfig{Provider: "tei", BaseURL: srv.URL}, nil)
	require.NoError(t, err)
	assert.Equal(t, 384, p.Dimension())

	_, err = NewProvider(ProviderConfig{Provider: "word2vec"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDetectDimension(t *testing.T) {
	assert.Equal(t, 384, detectDimension("BAAI/bge-small-en-v1.5"))
	assert.Equal(t, 512, detectDimension("BAAI/bge-small-zh-v1.5"))
	assert.Equal(t, 1024, detectDimension("intfloat/e5-large"))
	assert.Equal(t, 768, detectDimension("nomic-embed-text-base"))
	assert.Equal(t, 384, detectDimension("unknown"))
}

package textservice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/fyrsmithlabs/brain/internal/config"
	"github.com/fyrsmithlabs/brain/internal/embeddings"
	"github.com/fyrsmithlabs/brain/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	reply   string
	err     error
	system  string
	prompts []string
}

func (f *fakeCompleter) Complete(_ context.Context, system, prompt string) (string, error) {
	f.system = system
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func newService(t *testing.T, c Completer) *TextService {
	t.Helper()
	svc, err := New(embeddings.NewHashProvider(64), c, nil)
	require.NoError(t, err)
	return svc
}

func TestGenerateEmbedding_FitsDimension(t *testing.T) {
	svc := newService(t, nil)
	vec, err := svc.GenerateEmbedding(context.Background(), "buy milk")
	require.NoError(t, err)
	assert.Len(t, vec, vectorstore.EmbeddingDimension)

	var nonZero int
	for _, v := range vec[64:] {
		if v != 0 {
			nonZero++
		}
	}
	assert.Zero(t, nonZero, "padding is zero")
}

func TestGenerateEmbedding_Error(t *testing.T) {
	svc := newService(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.GenerateEmbedding(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_RequiresEmbedder(t *testing.T) {
	_, err := New(nil, nil, nil)
	assert.ErrorIs(t, err, embeddings.ErrInvalidConfig)
}

func TestGenerateSuggestion(t *testing.T) {
	ctx := context.Background()

	t.Run("no completer", func(t *testing.T) {
		sug, err := newService(t, nil).GenerateSuggestion(ctx, "buy milk", "")
		require.NoError(t, err)
		assert.Nil(t, sug)
	})

	t.Run("parses fenced json", func(t *testing.T) {
		fc := &fakeCompleter{reply: "```json\n{\"suggestion\": \"add eggs\", \"confidence\": 1.7}\n```"}
		sug, err := newService(t, fc).GenerateSuggestion(ctx, "buy milk", "groceries")
		require.NoError(t, err)
		require.NotNil(t, sug)
		assert.Equal(t, "add eggs", sug.Suggestion)
		assert.Equal(t, 1.0, sug.Confidence)
		assert.Contains(t, fc.prompts[0], "groceries")
		assert.Contains(t, fc.system, "JSON")
	})

	t.Run("unusable reply", func(t *testing.T) {
		sug, err := newService(t, &fakeCompleter{reply: "I think you should add eggs."}).GenerateSuggestion(ctx, "x", "")
		require.NoError(t, err)
		assert.Nil(t, sug)

		sug, err = newService(t, &fakeCompleter{reply: `{"suggestion": "  "}`}).GenerateSuggestion(ctx, "x", "")
		require.NoError(t, err)
		assert.Nil(t, sug)
	})

	t.Run("completer error", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := newService(t, &fakeCompleter{err: boom}).GenerateSuggestion(ctx, "x", "")
		assert.ErrorIs(t, err, boom)
	})
}

func TestRefineContent(t *testing.T) {
	ctx := context.Background()

	out, err := newService(t, nil).RefineContent(ctx, "buy milk", "make it formal")
	require.NoError(t, err)
	assert.Equal(t, "buy milk", out)

	out, err = newService(t, &fakeCompleter{reply: "  Purchase milk.\n"}).RefineContent(ctx, "buy milk", "make it formal")
	require.NoError(t, err)
	assert.Equal(t, "Purchase milk.", out)

	out, err = newService(t, &fakeCompleter{reply: "   "}).RefineContent(ctx, "buy milk", "x")
	require.NoError(t, err)
	assert.Equal(t, "buy milk", out)
}

func TestNewFromConfig(t *testing.T) {
	p := embeddings.NewHashProvider(0)

	svc, err := NewFromConfig(config.TextConfig{}, p, nil)
	require.NoError(t, err)
	assert.Nil(t, svc.completer)

	var key config.Secret
	require.NoError(t, key.UnmarshalText([]byte("sk-ant-test")))
	svc, err = NewFromConfig(config.TextConfig{APIKey: key, RatePerSecond: 5}, p, nil)
	require.NoError(t, err)
	assert.IsType(t, &AnthropicCompleter{}, svc.completer)
}

func TestAnthropicCompleter(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-haiku-latest",
			"content": [{"type": "text", "text": "Purchase "}, {"type": "text", "text": "milk."}],
			"stop_reason": "end_turn",
			"stop_sequence": null,
			"usage": {"input_tokens": 12, "output_tokens": 3}
		}`))
	}))
	defer srv.Close()

	c, err := NewAnthropicCompleter(
		AnthropicConfig{APIKey: "sk-ant-test", MaxTokens: 64},
		option.WithBaseURL(srv.URL),
		option.WithMaxRetries(0),
	)
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), "be formal", "buy milk")
	require.NoError(t, err)
	assert.Equal(t, "Purchase milk.", out)
	assert.Equal(t, "claude-3-5-haiku-latest", got["model"])
	assert.Equal(t, float64(64), got["max_tokens"])
	assert.NotNil(t, got["system"])
}

func TestAnthropicCompleter_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`))
	}))
	defer srv.Close()

	c, err := NewAnthropicCompleter(AnthropicConfig{APIKey: "k"}, option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), "", "x")
	assert.ErrorIs(t, err, ErrCompletionFailed)
}

func TestNewAnthropicCompleter_RequiresKey(t *testing.T) {
	_, err := NewAnthropicCompleter(AnthropicConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

// Package textservice provides the text capabilities handed to action
// handlers: embeddings for storage and search, plus LLM-backed suggestion
// and refinement of content.
package textservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/brain/internal/config"
	"github.com/fyrsmithlabs/brain/internal/embeddings"
	"github.com/fyrsmithlabs/brain/internal/vectorstore"
	"go.uber.org/zap"
)

var (
	// ErrNotConfigured indicates a completer was requested without credentials.
	ErrNotConfigured = errors.New("text completion not configured")

	// ErrCompletionFailed indicates the LLM call failed.
	ErrCompletionFailed = errors.New("text completion failed")
)

// Service is the text capability.
type Service interface {
	// GenerateEmbedding returns an embedding of exactly
	// vectorstore.EmbeddingDimension components.
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)

	// GenerateSuggestion proposes a follow-up for content. It returns nil when
	// no completer is configured or the reply is unusable.
	GenerateSuggestion(ctx context.Context, content, hint string) (*Suggestion, error)

	// RefineContent rewrites content per prompt. Without a completer the
	// content is returned unchanged.
	RefineContent(ctx context.Context, content, prompt string) (string, error)
}

// Suggestion is a model-proposed follow-up with self-reported confidence in [0, 1].
type Suggestion struct {
	Suggestion string  `json:"suggestion"`
	Confidence float64 `json:"confidence"`
}

// Completer produces a text completion for a system and user prompt.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// TextService implements Service over an embeddings.Provider and an
// optional Completer.
type TextService struct {
	embedder  embeddings.Provider
	completer Completer
	logger    *zap.Logger
}

// New returns a TextService. completer may be nil.
func New(embedder embeddings.Provider, completer Completer, logger *zap.Logger) (*TextService, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", embeddings.ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TextService{embedder: embedder, completer: completer, logger: logger}, nil
}

// NewFromConfig wires an Anthropic completer when an API key is set.
func NewFromConfig(cfg config.TextConfig, embedder embeddings.Provider, logger *zap.Logger) (*TextService, error) {
	var completer Completer
	if cfg.APIKey.IsSet() {
		c, err := NewAnthropicCompleter(AnthropicConfig{
			APIKey:        cfg.APIKey.Value(),
			Model:         cfg.Model,
			MaxTokens:     cfg.MaxTokens,
			RatePerSecond: cfg.RatePerSecond,
		})
		if err != nil {
			return nil, err
		}
		completer = c
	}
	if logger != nil {
		logger.Info("text service ready", zap.Bool("completer", completer != nil), zap.String("model", cfg.Model))
	}
	return New(embedder, completer, logger)
}

func (s *TextService) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("generating embedding: %w", err)
	}
	if len(vec) != vectorstore.EmbeddingDimension {
		s.logger.Debug("fitting embedding dimension",
			zap.Int("from", len(vec)),
			zap.Int("to", vectorstore.EmbeddingDimension),
		)
	}
	return vectorstore.NormalizeEmbedding(vec), nil
}

const suggestionSystem = `You help a user grow a personal knowledge graph.
Reply with a single JSON object: {"suggestion": "<one short follow-up>", "confidence": <number between 0 and 1>}.
Do not add any other text.`

func (s *TextService) GenerateSuggestion(ctx context.Context, content, hint string) (*Suggestion, error) {
	if s.completer == nil {
		return nil, nil
	}
	prompt := "Content:\n" + content
	if hint != "" {
		prompt += "\n\nHint:\n" + hint
	}
	reply, err := s.completer.Complete(ctx, suggestionSystem, prompt)
	if err != nil {
		return nil, err
	}
	sug := parseSuggestion(reply)
	if sug == nil {
		s.logger.Debug("discarding unusable suggestion reply", zap.Int("reply_len", len(reply)))
	}
	return sug, nil
}

const refineSystem = `Rewrite the user's content as instructed. Reply with the rewritten content only.`

func (s *TextService) RefineContent(ctx context.Context, content, prompt string) (string, error) {
	if s.completer == nil {
		return content, nil
	}
	reply, err := s.completer.Complete(ctx, refineSystem, "Instruction:\n"+prompt+"\n\nContent:\n"+content)
	if err != nil {
		return "", err
	}
	if refined := strings.TrimSpace(reply); refined != "" {
		return refined, nil
	}
	return content, nil
}

// parseSuggestion extracts the first JSON object in reply. Models sometimes
// wrap it in prose or code fences.
func parseSuggestion(reply string) *Suggestion {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return nil
	}
	var sug Suggestion
	if err := json.Unmarshal([]byte(reply[start:end+1]), &sug); err != nil {
		return nil
	}
	sug.Suggestion = strings.TrimSpace(sug.Suggestion)
	if sug.Suggestion == "" {
		return nil
	}
	sug.Confidence = min(max(sug.Confidence, 0), 1)
	return &sug
}

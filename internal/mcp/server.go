package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/brain/internal/dispatch"
	"github.com/fyrsmithlabs/brain/internal/gitdiff"
)

// Server exposes the dispatcher and git inspection as MCP tools.
type Server struct {
	mcp        *mcp.Server
	dispatcher *dispatch.Dispatcher
	deps       dispatch.Deps
	git        *gitdiff.Inspector
	metrics    *Metrics
	logger     *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "brain")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *zap.Logger

	// MeterProvider for tool metrics. Nil uses the global provider.
	MeterProvider metric.MeterProvider

	// Git backs brain_git_diff. The tool is not registered when nil.
	Git *gitdiff.Inspector
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "brain",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates an MCP server that runs every action through d with deps.
func NewServer(cfg *Config, d *dispatch.Dispatcher, deps dispatch.Deps) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if d == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Text == nil {
		return nil, fmt.Errorf("text service is required")
	}

	name, version := cfg.Name, cfg.Version
	if name == "" {
		name = "brain"
	}
	if version == "" {
		version = "dev"
	}

	s := &Server{
		mcp:        mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil),
		dispatcher: d,
		deps:       deps,
		git:        cfg.Git,
		metrics:    NewMetrics(cfg.MeterProvider, cfg.Logger),
		logger:     cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP on the stdio transport until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves one session over t. Used with in-memory transports.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}

// Brain is the audited action daemon.
//
// By default it serves the HTTP API. "brain mcp" serves the same tools over
// MCP on stdio instead.
//
// Configuration comes from ~/.config/brain/config.yaml (or --config) and
// BRAIN_* environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the HTTP daemon with defaults (in-memory store, hash embeddings)
//	brain
//
//	# Persist to SQLite and search through chromem
//	BRAIN_STORE_PROVIDER=sqlite BRAIN_STORE_INDEX=chromem brain
//
//	# Serve MCP on stdio
//	brain mcp
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/brain/internal/config"
	brainhttp "github.com/fyrsmithlabs/brain/internal/http"
	"github.com/fyrsmithlabs/brain/internal/mcp"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "brain",
	Short: "Audited action daemon over a node and vector store",
	Long: `brain runs actions (hello, capture_thought, query_nodes, vector_search)
through an audited dispatcher and serves them over HTTP.

Every action is recorded as an event node before it runs and closed with its
output or error afterwards.`,
	Version:      version,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE:         runServe,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve brain tools over MCP on stdio",
	Long: `Serve brain over the Model Context Protocol on stdin/stdout.

Logs go to stderr; stdout carries only the protocol.

Examples:
  brain mcp
  BRAIN_STORE_PROVIDER=sqlite brain mcp`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "brain by Fyrsmith Labs\n")
		fmt.Fprintf(out, "Version:    %s\n", version)
		fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
		fmt.Fprintf(out, "Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/brain/config.yaml)")
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return serve(cmd.Context(), cfg)
}

// serve runs the HTTP daemon until ctx is cancelled, then shuts the server
// down within the configured timeout and closes every component.
func serve(ctx context.Context, cfg *config.Config) (err error) {
	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		err = errors.Join(err, a.Close(shutdownCtx))
	}()

	logger := a.logger.Underlying()
	srv, err := brainhttp.NewServer(a.dispatcher, a.deps, logger.Named("http"),
		&brainhttp.Config{Host: cfg.Server.Host, Port: cfg.Server.Port},
		brainhttp.WithGit(a.git),
		brainhttp.WithRegistry(a.registry),
		brainhttp.WithTelemetry(a.telemetry),
		brainhttp.WithVersion(version),
	)
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	logger.Info("server shutdown complete")
	return nil
}

func runMCP(cmd *cobra.Command, _ []string) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		err = errors.Join(err, a.Close(shutdownCtx))
	}()

	server, err := mcp.NewServer(&mcp.Config{
		Name:          "brain",
		Version:       version,
		Logger:        a.logger.Underlying().Named("mcp"),
		MeterProvider: a.telemetry.MeterProvider(),
		Git:           a.git,
	}, a.dispatcher, a.deps)
	if err != nil {
		return fmt.Errorf("failed to create mcp server: %w", err)
	}

	fmt.Fprintf(os.Stderr, "brain MCP server started on stdio (store: %s)\n", cfg.Store.Provider)
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Underlying().Error("mcp server stopped", zap.Error(err))
		return err
	}
	return nil
}

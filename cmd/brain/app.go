package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/brain/internal/config"
	"github.com/fyrsmithlabs/brain/internal/dispatch"
	"github.com/fyrsmithlabs/brain/internal/embeddings"
	"github.com/fyrsmithlabs/brain/internal/events"
	"github.com/fyrsmithlabs/brain/internal/gitdiff"
	"github.com/fyrsmithlabs/brain/internal/logging"
	"github.com/fyrsmithlabs/brain/internal/telemetry"
	"github.com/fyrsmithlabs/brain/internal/textservice"
	"github.com/fyrsmithlabs/brain/internal/vectorstore"
)

// app holds every long-lived component. Build it with newApp and release it
// with Close.
type app struct {
	cfg        *config.Config
	logger     *logging.Logger
	telemetry  *telemetry.Telemetry
	registry   *prometheus.Registry
	embedder   embeddings.Provider
	store      vectorstore.Store
	publisher  events.Publisher
	dispatcher *dispatch.Dispatcher
	deps       dispatch.Deps
	git        *gitdiff.Inspector
}

// newApp initializes components in dependency order:
//  1. logger and telemetry
//  2. embedding provider and text service
//  3. node store (wrapped with metrics)
//  4. audit event publisher
//  5. dispatcher and git inspector
//
// On error everything already built is closed. stdio keeps stdout free for
// a protocol by logging to stderr.
func newApp(ctx context.Context, cfg *config.Config, stdio bool) (_ *app, err error) {
	a := &app{cfg: cfg, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to build logging config: %w", err)
	}
	logCfg.Stderr = stdio
	if a.logger, err = logging.NewLogger(logCfg, nil); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	z := a.logger.Underlying()

	if a.telemetry, err = telemetry.New(ctx, telemetry.FromAppConfig(cfg.Observability, version)); err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if h := a.telemetry.Health(); h.Degraded {
		z.Warn("telemetry degraded, continuing without export", zap.String("error", h.Error))
	}

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if a.embedder, err = embeddings.NewProvider(embeddings.ProviderConfig{
		Provider:  cfg.Embeddings.Provider,
		Model:     cfg.Embeddings.Model,
		BaseURL:   cfg.Embeddings.BaseURL,
		CacheDir:  cfg.Embeddings.CacheDir,
		Dimension: cfg.Store.EmbeddingDimension,
	}, z.Named("embeddings")); err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}

	text, err := textservice.NewFromConfig(cfg.Text, a.embedder, z.Named("text"))
	if err != nil {
		return nil, fmt.Errorf("failed to create text service: %w", err)
	}

	store, err := vectorstore.NewStore(ctx, cfg.Store, z.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	a.store = vectorstore.Instrument(store, vectorstore.NewMetrics(a.registry))

	a.publisher = events.Noop{}
	if cfg.Events.Enabled {
		pub, err := events.Connect(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, z.Named("events"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect event publisher: %w", err)
		}
		a.publisher = pub
	}

	if a.dispatcher, err = dispatch.New(
		dispatch.WithLogger(a.logger.Named("dispatch")),
		dispatch.WithTracerProvider(a.telemetry.TracerProvider()),
		dispatch.WithMeterProvider(a.telemetry.MeterProvider()),
		dispatch.WithPublisher(a.publisher),
	); err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}
	a.deps = dispatch.Deps{Store: a.store, Text: text}

	repoPath, err := config.ExpandPath(cfg.Git.RepoPath)
	if err != nil {
		return nil, err
	}
	a.git = gitdiff.NewInspector(repoPath, z.Named("git"))

	z.Info("brain initialized",
		zap.String("store", cfg.Store.Provider),
		zap.String("index", cfg.Store.Index),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.Bool("events", cfg.Events.Enabled),
		zap.Bool("telemetry", cfg.Observability.EnableTelemetry),
	)
	return a, nil
}

// Close releases components in reverse order of creation.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event publisher close: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}
	if a.embedder != nil {
		if err := a.embedder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("embedding provider close: %w", err))
		}
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}

// Package http serves brain's dispatcher, node reads and git inspection
// over a JSON API.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/brain/internal/action"
	"github.com/fyrsmithlabs/brain/internal/dispatch"
	"github.com/fyrsmithlabs/brain/internal/gitdiff"
	"github.com/fyrsmithlabs/brain/internal/logging"
	"github.com/fyrsmithlabs/brain/internal/telemetry"
	"github.com/fyrsmithlabs/brain/internal/vectorstore"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MaxBodySize bounds request bodies.
const MaxBodySize = "1M"

// Server provides HTTP endpoints for brain.
type Server struct {
	echo       *echo.Echo
	dispatcher *dispatch.Dispatcher
	deps       dispatch.Deps
	git        *gitdiff.Inspector
	registry   *prometheus.Registry
	telemetry  *telemetry.Telemetry
	version    string
	logger     *zap.Logger
	config     *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Option configures optional Server collaborators.
type Option func(*Server)

// WithGit enables GET /api/v1/git/diff.
func WithGit(i *gitdiff.Inspector) Option {
	return func(s *Server) { s.git = i }
}

// WithRegistry enables GET /metrics and request metrics on reg.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// WithTelemetry reports t's state on /health.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(s *Server) { s.telemetry = t }
}

// WithVersion reports v on /health.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// NewServer creates a new HTTP server.
func NewServer(d *dispatch.Dispatcher, deps dispatch.Deps, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if d == nil {
		return nil, fmt.Errorf("dispatcher cannot be nil")
	}
	if deps.Store == nil || deps.Text == nil {
		return nil, fmt.Errorf("store and text service are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9191,
		}
	}

	s := &Server{
		dispatcher: d,
		deps:       deps,
		logger:     logger,
		config:     cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(MaxBodySize))
	e.Use(s.requestLogger)
	if s.registry != nil {
		e.Use(NewHTTPMetrics(s.registry).MetricsMiddleware())
	}

	s.echo = e
	s.registerRoutes()
	return s, nil
}

// requestLogger logs one line per request and carries the request id into
// the request context for downstream loggers.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		requestID := c.Response().Header().Get(echo.HeaderXRequestID)
		c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), requestID)))

		if err := next(c); err != nil {
			c.Error(err)
		}

		s.logger.Info("http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", requestID),
		)
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.registry != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}

	v1 := s.echo.Group("/api/v1")
	v1.POST("/dispatch", s.handleDispatch)
	v1.POST("/actions/:kind", s.handleAction)
	v1.GET("/nodes/:id", s.handleGetNode)
	if s.git != nil {
		v1.GET("/git/diff", s.handleGitDiff)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Version: s.version}
	if s.telemetry != nil {
		h := s.telemetry.Health()
		resp.Telemetry = &h
	}
	return c.JSON(http.StatusOK, resp)
}

// handleDispatch runs a full {"kind", "payload"} action.
func (s *Server) handleDispatch(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	result, err := s.dispatcher.Dispatch(c.Request().Context(), body, s.deps)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// handleAction runs the kind named in the path with the body as its payload.
func (s *Server) handleAction(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	kind := action.Kind(c.Param("kind"))
	result, err := s.dispatcher.DispatchPayload(c.Request().Context(), kind, body, s.deps)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// NodeResponse is the response body for GET /api/v1/nodes/:id.
type NodeResponse struct {
	Node  *vectorstore.Node   `json:"node"`
	Edges []*vectorstore.Edge `json:"edges"`
}

func (s *Server) handleGetNode(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	node, err := s.deps.Store.GetNode(ctx, id)
	if err != nil {
		return err
	}
	if node == nil {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("node %s not found", id))
	}
	edges, err := s.deps.Store.Edges(ctx, id)
	if err != nil {
		return err
	}
	if edges == nil {
		edges = []*vectorstore.Edge{}
	}
	return c.JSON(http.StatusOK, NodeResponse{Node: node, Edges: edges})
}

func (s *Server) handleGitDiff(c echo.Context) error {
	opts := gitdiff.Options{
		Ref:  c.QueryParam("ref"),
		Base: c.QueryParam("base"),
	}

	var violations []action.Violation
	if raw := c.QueryParam("log"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > gitdiff.MaxLog {
			violations = append(violations, action.Violation{
				Field:   "log",
				Message: fmt.Sprintf("log must be an integer between 0 and %d", gitdiff.MaxLog),
			})
		}
		opts.Log = n
	}
	if raw := c.QueryParam("status"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			violations = append(violations, action.Violation{Field: "status", Message: "status must be a boolean"})
		}
		opts.Status = b
	}
	if len(violations) > 0 {
		return &action.ValidationError{Stage: action.StageInput, Violations: violations}
	}

	report, err := s.git.Diff(c.Request().Context(), opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// handleError writes the error envelope. Input validation failures are 400;
// anything a handler or capability returned is 500.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	resp := ErrorResponse{Error: err.Error()}

	var (
		verr    *action.ValidationError
		httpErr *echo.HTTPError
	)
	switch {
	case errors.As(err, &verr):
		if verr.Stage == action.StageInput {
			status = http.StatusBadRequest
		}
		resp.Violations = verr.Violations
	case errors.As(err, &httpErr):
		status = httpErr.Code
		resp.Error = fmt.Sprint(httpErr.Message)
	case errors.Is(err, gitdiff.ErrNotRepository),
		errors.Is(err, gitdiff.ErrNoCommits),
		errors.Is(err, gitdiff.ErrRevisionNotFound):
		status = http.StatusNotFound
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("uri", c.Request().RequestURI),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			zap.Error(err),
		)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, resp)
	}
	if err != nil {
		s.logger.Warn("failed to write error response", zap.Error(err))
	}
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

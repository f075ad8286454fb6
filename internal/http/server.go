// Package http provides the operator HTTP API of the learning daemon.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Lightming99/RaSa-Metaconverse/internal/backup"
	"github.com/Lightming99/RaSa-Metaconverse/internal/feedback"
	"github.com/Lightming99/RaSa-Metaconverse/internal/kbhistory"
	"github.com/Lightming99/RaSa-Metaconverse/internal/logging"
	"github.com/Lightming99/RaSa-Metaconverse/internal/operations"
	"github.com/Lightming99/RaSa-Metaconverse/internal/pipeline"
)

// FeedbackStore is the part of the ledger the API exposes.
type FeedbackStore interface {
	Append(ctx context.Context, item *feedback.Item) error
	Stats(ctx context.Context) (*feedback.Stats, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
	Records(ctx context.Context, state feedback.Status) ([]feedback.Record, error)
	ClearRecords(ctx context.Context, state feedback.Status) (int64, error)
}

// ThresholdStore reads and writes the training threshold.
type ThresholdStore interface {
	Threshold(ctx context.Context) (int, error)
	SetThreshold(ctx context.Context, n int) error
}

// Queue schedules background learning cycles.
type Queue interface {
	Trigger(reason string) bool
	Depth() int
}

// OperationStore lists tracked pipeline runs.
type OperationStore interface {
	Get(id string) (operations.Operation, error)
	List(limit int) []operations.Operation
}

// BackupStore lists and prunes knowledge-base backups.
type BackupStore interface {
	List(ctx context.Context) ([]backup.Backup, error)
	Prune(ctx context.Context, keep int) ([]string, error)
}

// HistoryStore reads the git history of the knowledge base.
type HistoryStore interface {
	Log(ctx context.Context, limit int) ([]kbhistory.Entry, error)
}

// Deps are the services behind the API. Operations and History may be nil.
type Deps struct {
	Feedback   FeedbackStore
	Threshold  ThresholdStore
	Pipeline   pipeline.Service
	Queue      Queue
	Operations OperationStore
	Backups    BackupStore
	History    HistoryStore
}

// Server provides the operator HTTP endpoints.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	switch {
	case deps.Feedback == nil:
		return nil, fmt.Errorf("feedback store cannot be nil")
	case deps.Threshold == nil:
		return nil, fmt.Errorf("threshold store cannot be nil")
	case deps.Pipeline == nil:
		return nil, fmt.Errorf("pipeline cannot be nil")
	case deps.Queue == nil:
		return nil, fmt.Errorf("queue cannot be nil")
	case deps.Backups == nil:
		return nil, fmt.Errorf("backup store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 8088,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger,
		config: cfg,
	}
	metrics, err := newRequestMetrics(defaultMeter())
	if err != nil {
		return nil, fmt.Errorf("failed to create request metrics: %w", err)
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(metrics.middleware())
	// request logging sits innermost and resolves errors, so the metrics
	// middleware sees the final status
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			if logging.ValidID(id) {
				req := c.Request()
				c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))
			}

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", id),
			)
			return nil
		}
	})

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/feedback", s.handleSubmitFeedback)
	v1.GET("/feedback/stats", s.handleStats)
	v1.POST("/feedback/cleanup", s.handleCleanup)

	v1.GET("/threshold", s.handleGetThreshold)
	v1.PUT("/threshold", s.handleSetThreshold)

	v1.POST("/process", s.handleProcess)
	v1.POST("/train", s.handleTrain)

	v1.POST("/records/rejected/retry", s.handleRetryRejected)
	v1.GET("/records/:state", s.handleListRecords)
	v1.DELETE("/records/:state", s.handleClearRecords)

	v1.GET("/operations", s.handleListOperations)
	v1.GET("/operations/:id", s.handleGetOperation)

	v1.GET("/backups", s.handleListBackups)
	v1.POST("/backups/prune", s.handlePruneBackups)

	v1.GET("/history", s.handleHistory)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It returns nil after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// errorHandler maps domain errors to status codes and writes them as
// {"error": "..."}.
func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status := http.StatusInternalServerError
		msg := err.Error()

		var he *echo.HTTPError
		switch {
		case errors.As(err, &he):
			status = he.Code
			msg = fmt.Sprint(he.Message)
		case errors.Is(err, feedback.ErrInvalidState),
			errors.Is(err, errInvalidInput):
			status = http.StatusBadRequest
		case errors.Is(err, operations.ErrNotFound),
			errors.Is(err, feedback.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, pipeline.ErrClosed):
			status = http.StatusServiceUnavailable
		}

		if status >= http.StatusInternalServerError {
			logger.Error("request failed", append(logging.ContextFields(c.Request().Context()),
				zap.String("uri", c.Request().RequestURI),
				zap.Error(err),
			)...)
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, ErrorResponse{Error: msg})
	}
}

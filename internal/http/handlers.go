package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Lightming99/RaSa-Metaconverse/internal/feedback"
	"github.com/Lightming99/RaSa-Metaconverse/internal/pipeline"
)

const (
	defaultCleanupDays = 30
	maxCleanupDays     = 36500
	defaultKeepBackups = 10
	defaultOpsLimit    = 20
	defaultHistory     = 20
)

var errInvalidInput = errors.New("invalid input")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errInvalidInput, fmt.Sprintf(format, args...))
}

// intParam reads an optional non-negative integer query parameter.
func intParam(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest("%s must be a non-negative integer", name)
	}
	return n, nil
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", QueueDepth: s.deps.Queue.Depth()})
}

// handleSubmitFeedback appends to the ledger and schedules a learning cycle.
// The caller is acknowledged without waiting for the cycle.
func (s *Server) handleSubmitFeedback(c echo.Context) error {
	var req FeedbackRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid feedback request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	item := &feedback.Item{
		MessageIndex:     req.MessageIndex,
		UserQuery:        req.UserQuery,
		PriorResponse:    req.BotResponse,
		ResponseSource:   req.ModelSource,
		Sentiment:        req.FeedbackType,
		IssueDescription: req.IssueDescription,
		ExpectedAnswer:   req.ExpectedAnswer,
	}
	if err := item.Validate(); err != nil {
		return badRequest("%v", err)
	}

	ctx := c.Request().Context()
	if err := s.deps.Feedback.Append(ctx, item); err != nil {
		return err
	}
	triggered := s.deps.Queue.Trigger("feedback")

	s.logger.Debug("feedback recorded",
		zap.String("feedback.id", item.ID),
		zap.String("sentiment", string(item.Sentiment)),
		zap.Bool("triggered", triggered),
	)
	return c.JSON(http.StatusAccepted, FeedbackResponse{ID: item.ID, Triggered: triggered})
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.deps.Feedback.Stats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleCleanup(c echo.Context) error {
	days, err := intParam(c, "days", defaultCleanupDays)
	if err != nil {
		return err
	}
	if days > maxCleanupDays {
		return badRequest("days must be at most %d", maxCleanupDays)
	}
	deleted, err := s.deps.Feedback.Cleanup(c.Request().Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		return err
	}
	s.logger.Info("removed old feedback", zap.Int("days", days), zap.Int64("deleted", deleted))
	return c.JSON(http.StatusOK, CleanupResponse{Days: days, Deleted: deleted})
}

func (s *Server) handleGetThreshold(c echo.Context) error {
	n, err := s.deps.Threshold.Threshold(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ThresholdBody{Threshold: n})
}

func (s *Server) handleSetThreshold(c echo.Context) error {
	var body ThresholdBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if body.Threshold < 1 {
		return badRequest("threshold must be a positive integer")
	}
	if err := s.deps.Threshold.SetThreshold(c.Request().Context(), body.Threshold); err != nil {
		return err
	}
	s.logger.Info("training threshold updated", zap.Int("threshold", body.Threshold))
	return c.JSON(http.StatusOK, body)
}

// handleProcess runs a learning cycle synchronously: a pass followed by the
// threshold check.
func (s *Server) handleProcess(c echo.Context) error {
	res, err := s.deps.Pipeline.RunCycle(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// handleTrain runs manual training. A failed build still returns the result,
// including the build output, with status 500.
func (s *Server) handleTrain(c echo.Context) error {
	res, err := s.deps.Pipeline.Train(c.Request().Context())
	if err != nil {
		if errors.Is(err, pipeline.ErrTraining) && res != nil {
			return c.JSON(http.StatusInternalServerError, res)
		}
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleListRecords(c echo.Context) error {
	state, err := feedback.ParseDisposition(c.Param("state"))
	if err != nil {
		return err
	}
	records, err := s.deps.Feedback.Records(c.Request().Context(), state)
	if err != nil {
		return err
	}
	if records == nil {
		records = []feedback.Record{}
	}
	return c.JSON(http.StatusOK, RecordsResponse{State: state, Count: len(records), Records: records})
}

func (s *Server) handleClearRecords(c echo.Context) error {
	state, err := feedback.ParseDisposition(c.Param("state"))
	if err != nil {
		return err
	}
	n, err := s.deps.Feedback.ClearRecords(c.Request().Context(), state)
	if err != nil {
		return err
	}
	s.logger.Info("cleared records", zap.String("state", string(state)), zap.Int64("cleared", n))
	return c.JSON(http.StatusOK, ClearResponse{State: state, Cleared: n})
}

func (s *Server) handleRetryRejected(c echo.Context) error {
	var req RetryRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	reset, err := s.deps.Pipeline.RetryRejected(c.Request().Context(), req.IDs)
	if err != nil {
		return err
	}
	if reset == nil {
		reset = []string{}
	}
	triggered := false
	if len(reset) > 0 {
		triggered = s.deps.Queue.Trigger("retry")
	}
	return c.JSON(http.StatusOK, RetryResponse{Reset: reset, Triggered: triggered})
}

func (s *Server) handleListOperations(c echo.Context) error {
	if s.deps.Operations == nil {
		return c.JSON(http.StatusOK, []any{})
	}
	limit, err := intParam(c, "limit", defaultOpsLimit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.deps.Operations.List(limit))
}

func (s *Server) handleGetOperation(c echo.Context) error {
	if s.deps.Operations == nil {
		return echo.NewHTTPError(http.StatusNotFound, "operation tracking is disabled")
	}
	op, err := s.deps.Operations.Get(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, op)
}

func (s *Server) handleListBackups(c echo.Context) error {
	list, err := s.deps.Backups.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handlePruneBackups(c echo.Context) error {
	keep, err := intParam(c, "keep", defaultKeepBackups)
	if err != nil {
		return err
	}
	removed, err := s.deps.Backups.Prune(c.Request().Context(), keep)
	if err != nil {
		return err
	}
	if removed == nil {
		removed = []string{}
	}
	return c.JSON(http.StatusOK, PruneResponse{Kept: keep, Removed: removed})
}

func (s *Server) handleHistory(c echo.Context) error {
	if s.deps.History == nil {
		return echo.NewHTTPError(http.StatusNotFound, "knowledge-base history is disabled")
	}
	limit, err := intParam(c, "limit", defaultHistory)
	if err != nil {
		return err
	}
	entries, err := s.deps.History.Log(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entries)
}

// Package pipeline turns accumulated feedback into knowledge-base additions
// and retrains the assistant once enough feedback has been learned.
//
// A pass takes every unprocessed item, drafts additions for it, validates
// and merges them, and persists the result under a backup. Items that keep
// failing are rejected after a fixed number of passes. A cycle is a pass
// followed by a threshold check that may start training.
//
// All knowledge-base mutation goes through one Service, which serializes
// passes, cycles and training runs behind a single mutex.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Lightming99/RaSa-Metaconverse/internal/artifact"
	"github.com/Lightming99/RaSa-Metaconverse/internal/backup"
	"github.com/Lightming99/RaSa-Metaconverse/internal/feedback"
	"github.com/Lightming99/RaSa-Metaconverse/internal/generator"
	"github.com/Lightming99/RaSa-Metaconverse/internal/kb"
	"github.com/Lightming99/RaSa-Metaconverse/internal/logging"
	"github.com/Lightming99/RaSa-Metaconverse/internal/merge"
	"github.com/Lightming99/RaSa-Metaconverse/internal/trainer"
)

const instrumentationName = "github.com/Lightming99/RaSa-Metaconverse/internal/pipeline"

const (
	// MaxRegenerationAttempts is the number of drafts tried for an item in one pass.
	MaxRegenerationAttempts = 3

	// MaxProcessingRetries is the number of failed passes before an item is rejected.
	MaxProcessingRetries = 3
)

// Item outcomes reported in PassResult.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

// Training triggers.
const (
	TriggerThreshold = "threshold"
	TriggerManual    = "manual"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("pipeline is closed")

// Ledger is the feedback store the pipeline reads and transitions.
type Ledger interface {
	ListUnprocessed(ctx context.Context) ([]*feedback.Item, error)
	DisposedIDs(ctx context.Context) (map[string]struct{}, error)
	MarkProcessed(ctx context.Context, ids []string) error
	RecordFailedPass(ctx context.Context, id string) (int, error)
	Reject(ctx context.Context, id, reason string) error
	RetryRejected(ctx context.Context, ids []string) ([]string, error)
	ArchiveProcessed(ctx context.Context) ([]string, error)
}

// Settings supplies the training threshold.
type Settings interface {
	Threshold(ctx context.Context) (int, error)
}

// KnowledgeStore reads, writes and verifies the knowledge-base files.
type KnowledgeStore interface {
	Root() string
	Snapshot(ctx context.Context) (*kb.KnowledgeBase, error)
	Write(ctx context.Context, next *kb.KnowledgeBase, sections []kb.Section) error
	Verify(ctx context.Context) error
}

// Backups snapshots the knowledge base before a write and restores it.
type Backups interface {
	Create(ctx context.Context, reason string) (*backup.Backup, error)
	Restore(ctx context.Context, b *backup.Backup) error
}

// Trainer builds and loads a model from the knowledge base.
type Trainer interface {
	Train(ctx context.Context, kbRoot string) (*trainer.Output, error)
	Reload(ctx context.Context) error
}

// History records knowledge-base changes. Optional.
type History interface {
	Commit(ctx context.Context, message string) (string, error)
}

// Operations tracks pipeline runs for operators. Optional.
type Operations interface {
	Create(ctx context.Context, kind string, params any) string
	Started(id string) error
	Complete(id string, result any) error
	Fail(id string, err error) error
}

// Service runs learning passes and training.
type Service interface {
	// RunPass processes every unprocessed feedback item once.
	RunPass(ctx context.Context) (*PassResult, error)

	// RunCycle runs a pass and trains when the number of items processed
	// by that pass reaches the threshold.
	RunCycle(ctx context.Context) (*CycleResult, error)

	// Train verifies the knowledge base and trains regardless of threshold.
	Train(ctx context.Context) (*TrainResult, error)

	// RetryRejected returns rejected items to the unprocessed queue. An empty
	// ids list means every rejected item.
	RetryRejected(ctx context.Context, ids []string) ([]string, error)

	// Close stops the service from accepting work.
	Close() error
}

// Config configures the pipeline service.
type Config struct {
	// MaxAttempts is the number of drafts per item per pass (default: 3)
	MaxAttempts int

	// MaxPasses is the number of failed passes before rejection (default: 3)
	MaxPasses int
}

// DefaultServiceConfig returns sensible defaults.
func DefaultServiceConfig() *Config {
	return &Config{
		MaxAttempts: MaxRegenerationAttempts,
		MaxPasses:   MaxProcessingRetries,
	}
}

// Deps are the collaborators of the service. History, Operations and
// Metrics are optional.
type Deps struct {
	Ledger     Ledger
	Settings   Settings
	Store      KnowledgeStore
	Backups    Backups
	Drafter    generator.Drafter
	Trainer    Trainer
	History    History
	Operations Operations
	Metrics    *Metrics
	Telemetry  Telemetry
}

// Telemetry supplies tracers and meters. *telemetry.Telemetry satisfies it;
// the global otel providers are used when it is nil.
type Telemetry interface {
	Tracer(name string, opts ...trace.TracerOption) trace.Tracer
	Meter(name string, opts ...metric.MeterOption) metric.Meter
}

// ItemOutcome is what happened to one item in a pass.
type ItemOutcome struct {
	ID         string       `json:"id"`
	Outcome    string       `json:"outcome"`
	Attempts   int          `json:"attempts"`
	Added      merge.Counts `json:"added"`
	RetryCount int          `json:"retry_count,omitempty"`
	RolledBack bool         `json:"rolled_back,omitempty"`
	Error      string       `json:"error,omitempty"`

	// Err is the failure, matching one of the package sentinels.
	Err error `json:"-"`
}

// PassResult summarises one pass.
type PassResult struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Candidates int           `json:"candidates"`

	// Processed lists every item that became Processed, duplicates included.
	Processed  []string      `json:"processed"`
	Duplicates int           `json:"duplicates"`
	Failed     int           `json:"failed"`
	Rejected   []string      `json:"rejected"`
	RolledBack int           `json:"rolled_back"`
	Added      merge.Counts  `json:"added"`
	Items      []ItemOutcome `json:"items"`
}

// TrainResult summarises one training run.
type TrainResult struct {
	ID          string          `json:"id"`
	Trigger     string          `json:"trigger"`
	StartedAt   time.Time       `json:"started_at"`
	Duration    time.Duration   `json:"duration"`
	Success     bool            `json:"success"`
	Output      *trainer.Output `json:"output,omitempty"`
	Archived    []string        `json:"archived"`
	Reloaded    bool            `json:"reloaded"`
	ReloadError string          `json:"reload_error,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// CycleResult is a pass plus the threshold decision.
type CycleResult struct {
	*PassResult
	Threshold int          `json:"threshold"`
	Training  *TrainResult `json:"training,omitempty"`
}

// service implements the Service interface.
type service struct {
	config   *Config
	ledger   Ledger
	settings Settings
	store    KnowledgeStore
	backups  Backups
	drafter  generator.Drafter
	trainer  Trainer
	history  History
	ops      Operations
	metrics  *Metrics
	logger   *zap.Logger

	// Telemetry
	tracer          trace.Tracer
	meter           metric.Meter
	passCounter     metric.Int64Counter
	itemCounter     metric.Int64Counter
	rollbackCounter metric.Int64Counter
	trainCounter    metric.Int64Counter

	// mu serializes every knowledge-base writer.
	mu     sync.Mutex
	closed bool
}

// NewService creates a new pipeline service.
func NewService(cfg *Config, deps Deps, logger *zap.Logger) (Service, error) {
	if cfg == nil {
		cfg = DefaultServiceConfig()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = MaxRegenerationAttempts
	}
	if cfg.MaxPasses <= 0 {
		cfg.MaxPasses = MaxProcessingRetries
	}
	switch {
	case deps.Ledger == nil:
		return nil, errors.New("ledger is required")
	case deps.Settings == nil:
		return nil, errors.New("settings store is required")
	case deps.Store == nil:
		return nil, errors.New("knowledge store is required")
	case deps.Backups == nil:
		return nil, errors.New("backup manager is required")
	case deps.Drafter == nil:
		return nil, errors.New("drafter is required")
	case deps.Trainer == nil:
		return nil, errors.New("trainer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}

	s := &service{
		config:   cfg,
		ledger:   deps.Ledger,
		settings: deps.Settings,
		store:    deps.Store,
		backups:  deps.Backups,
		drafter:  deps.Drafter,
		trainer:  deps.Trainer,
		history:  deps.History,
		ops:      deps.Operations,
		metrics:  deps.Metrics,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
	}
	if deps.Telemetry != nil {
		s.tracer = deps.Telemetry.Tracer(instrumentationName)
		s.meter = deps.Telemetry.Meter(instrumentationName)
	}

	s.initMetrics()

	return s, nil
}

// initMetrics initializes OpenTelemetry metrics.
func (s *service) initMetrics() {
	var err error

	s.passCounter, err = s.meter.Int64Counter(
		"learning.pipeline.passes_total",
		metric.WithDescription("Total number of learning passes"),
		metric.WithUnit("{pass}"),
	)
	if err != nil {
		s.logger.Warn("failed to create pass counter", zap.Error(err))
	}

	s.itemCounter, err = s.meter.Int64Counter(
		"learning.pipeline.items_total",
		metric.WithDescription("Total number of feedback items handled"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		s.logger.Warn("failed to create item counter", zap.Error(err))
	}

	s.rollbackCounter, err = s.meter.Int64Counter(
		"learning.pipeline.rollbacks_total",
		metric.WithDescription("Total number of knowledge-base rollbacks"),
		metric.WithUnit("{rollback}"),
	)
	if err != nil {
		s.logger.Warn("failed to create rollback counter", zap.Error(err))
	}

	s.trainCounter, err = s.meter.Int64Counter(
		"learning.pipeline.training_runs_total",
		metric.WithDescription("Total number of training runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		s.logger.Warn("failed to create training counter", zap.Error(err))
	}
}

// acquire takes the writer lock. Cancellation is honoured only here; once
// the lock is held the work runs to completion.
func (s *service) acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return err
	}
	return nil
}

// RunPass implements Service.
func (s *service) RunPass(ctx context.Context) (*PassResult, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	id := s.beginOp(ctx, "pass")
	res, err := s.runPass(ctx, id)
	s.endOp(id, res, err)
	return res, err
}

// RunCycle implements Service.
func (s *service) RunCycle(ctx context.Context) (*CycleResult, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	id := s.beginOp(ctx, "cycle")
	res, err := s.runCycle(ctx, id)
	s.endOp(id, res, err)
	return res, err
}

// Train implements Service.
func (s *service) Train(ctx context.Context) (*TrainResult, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	id := s.beginOp(ctx, "training")
	res, err := s.train(ctx, id, TriggerManual)
	s.endOp(id, res, err)
	return res, err
}

// RetryRejected implements Service.
func (s *service) RetryRejected(ctx context.Context, ids []string) ([]string, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	reset, err := s.ledger.RetryRejected(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("retry rejected feedback: %w", err)
	}
	s.logger.Info("rejected feedback reset for retry", zap.Int("count", len(reset)))
	return reset, nil
}

// Close implements Service. It waits for the running operation to finish.
func (s *service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *service) runCycle(ctx context.Context, id string) (*CycleResult, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.cycle")
	defer span.End()

	pass, err := s.runPass(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pass failed")
		return nil, err
	}
	res := &CycleResult{PassResult: pass}

	threshold, err := s.settings.Threshold(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "threshold unavailable")
		return res, fmt.Errorf("read threshold: %w", err)
	}
	res.Threshold = threshold
	s.metrics.Threshold.Set(float64(threshold))

	k := len(pass.Processed)
	span.SetAttributes(
		attribute.Int("processed", k),
		attribute.Int("threshold", threshold),
	)
	if k == 0 || k < threshold {
		s.logger.Debug("training threshold not reached",
			zap.String("pass.id", id),
			zap.Int("processed", k),
			zap.Int("threshold", threshold))
		return res, nil
	}

	s.logger.Info("training threshold reached",
		zap.String("pass.id", id),
		zap.Int("processed", k),
		zap.Int("threshold", threshold))

	// A failed training run is reported in the result; the pass itself stands.
	res.Training, _ = s.train(ctx, id, TriggerThreshold)
	return res, nil
}

// pass carries the state threaded through one pass.
type pass struct {
	id       string
	snapshot *kb.KnowledgeBase
	result   *PassResult
}

func (s *service) runPass(ctx context.Context, id string) (*PassResult, error) {
	ctx = logging.WithPassID(ctx, id)
	ctx, span := s.tracer.Start(ctx, "pipeline.pass")
	defer span.End()

	start := time.Now()
	res := &PassResult{
		ID:        id,
		StartedAt: start.UTC(),
		Processed: []string{},
		Rejected:  []string{},
		Items:     []ItemOutcome{},
	}
	defer func() {
		res.Duration = time.Since(start)
	}()

	fail := func(err error) (*PassResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("learning pass aborted", append(logging.ContextFields(ctx), zap.Error(err))...)
		return nil, err
	}

	unprocessed, err := s.ledger.ListUnprocessed(ctx)
	if err != nil {
		return fail(fmt.Errorf("list unprocessed feedback: %w", err))
	}
	disposed, err := s.ledger.DisposedIDs(ctx)
	if err != nil {
		return fail(fmt.Errorf("list disposed feedback: %w", err))
	}
	candidates := Intake(unprocessed, disposed)
	res.Candidates = len(candidates)
	span.SetAttributes(attribute.Int("candidates", len(candidates)))

	if len(candidates) == 0 {
		s.logger.Debug("no unprocessed feedback", logging.ContextFields(ctx)...)
		s.recordPass(start)
		return res, nil
	}

	snapshot, err := s.store.Snapshot(ctx)
	if err != nil {
		return fail(fmt.Errorf("load knowledge base: %w", err))
	}
	// Merging into an already broken knowledge base would charge every item
	// a retry for a fault that is not theirs.
	if err := snapshot.Validate(); err != nil {
		return fail(fmt.Errorf("knowledge base is invalid before the pass: %w", err))
	}

	p := &pass{id: id, snapshot: snapshot, result: res}
	for _, item := range candidates {
		out := s.processItem(ctx, p, item)
		res.Items = append(res.Items, out)
		s.metrics.RecordItem(out.Outcome)
		if s.itemCounter != nil {
			s.itemCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", out.Outcome)))
		}
	}

	s.recordPass(start)
	span.SetAttributes(
		attribute.Int("processed", len(res.Processed)),
		attribute.Int("rejected", len(res.Rejected)),
		attribute.Int("rolled_back", res.RolledBack),
	)
	s.logger.Info("learning pass completed", append(logging.ContextFields(ctx),
		zap.Int("candidates", res.Candidates),
		zap.Int("processed", len(res.Processed)),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("failed", res.Failed),
		zap.Int("rejected", len(res.Rejected)),
		zap.Int("rolled_back", res.RolledBack),
		zap.Int("added", res.Added.Total()),
		zap.Duration("duration", time.Since(start)),
	)...)

	return res, nil
}

func (s *service) recordPass(start time.Time) {
	s.metrics.PassesTotal.Inc()
	s.metrics.PassDuration.Observe(time.Since(start).Seconds())
	if s.passCounter != nil {
		s.passCounter.Add(context.Background(), 1)
	}
}

// processItem runs up to MaxAttempts drafts for item and records the
// disposition.
func (s *service) processItem(ctx context.Context, p *pass, item *feedback.Item) ItemOutcome {
	ctx, span := s.tracer.Start(ctx, "pipeline.item")
	defer span.End()
	span.SetAttributes(attribute.String("feedback.id", item.ID))

	log := s.logger.With(append(logging.ContextFields(ctx), zap.String("feedback.id", item.ID))...)
	out := ItemOutcome{ID: item.ID}

	var lastErr error
	for attempt := 0; attempt < s.config.MaxAttempts; attempt++ {
		out.Attempts = attempt + 1
		counts, rolledBack, err := s.attempt(ctx, p, item, attempt, log)
		s.metrics.RecordAttempt(err)
		if rolledBack {
			out.RolledBack = true
		}
		if err == nil {
			out.Added = counts
			return s.succeed(ctx, p, item, out, log)
		}
		lastErr = err
		log.Warn("attempt failed",
			zap.Int("attempt", attempt+1),
			zap.String("kind", kindLabel(err)),
			zap.Error(err))
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "all attempts failed")
	return s.fail(ctx, p, item, out, lastErr, log)
}

// attempt drafts, validates, merges and persists once. rolledBack reports
// whether a partial write was undone.
func (s *service) attempt(ctx context.Context, p *pass, item *feedback.Item, attempt int, log *zap.Logger) (merge.Counts, bool, error) {
	raw, err := s.drafter.Draft(ctx, item, attempt)
	if err != nil {
		return merge.Counts{}, false, &AttemptError{Kind: ErrGeneration, Attempt: attempt, Err: err}
	}
	if strings.TrimSpace(raw) == "" {
		return merge.Counts{}, false, &AttemptError{Kind: ErrGeneration, Attempt: attempt, Err: generator.ErrEmptyOutput}
	}

	bundle, err := artifact.Validate(raw)
	if err != nil {
		return merge.Counts{}, false, &AttemptError{Kind: ErrValidation, Attempt: attempt, Err: err}
	}

	merged, counts, err := merge.Merge(p.snapshot, bundle)
	if err != nil {
		return merge.Counts{}, false, &AttemptError{Kind: ErrMerge, Attempt: attempt, Err: err}
	}
	if counts.Total() == 0 {
		log.Info("feedback already covered by the knowledge base")
		return counts, false, nil
	}

	rolledBack, err := s.persist(ctx, p, item, merged, counts, log)
	if err != nil {
		return merge.Counts{}, rolledBack, &AttemptError{Kind: ErrMerge, Attempt: attempt, Err: err}
	}
	p.snapshot = merged
	return counts, false, nil
}

// persist writes the changed sections under a fresh backup and verifies the
// files on disk. Any failure after the backup restores it.
func (s *service) persist(ctx context.Context, p *pass, item *feedback.Item, merged *kb.KnowledgeBase, counts merge.Counts, log *zap.Logger) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.persist")
	defer span.End()

	b, err := s.backups.Create(ctx, "feedback "+item.ID)
	if err != nil {
		return false, fmt.Errorf("create backup: %w", err)
	}
	span.SetAttributes(attribute.String("backup.id", b.ID))

	err = s.store.Write(ctx, merged, counts.Sections())
	if err == nil {
		err = s.store.Verify(ctx)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		if rbErr := s.rollback(ctx, p, b, log); rbErr != nil {
			return false, errors.Join(err, rbErr)
		}
		return true, err
	}

	log.Info("knowledge base updated",
		zap.String("backup.id", b.ID),
		zap.Int("intents", counts.Intents),
		zap.Int("responses", counts.Responses),
		zap.Int("stories", counts.Flows),
		zap.Int("rules", counts.Rules))
	s.metrics.RecordAdditions(counts.Intents, counts.Responses, counts.Flows, counts.Rules)
	s.commit(ctx, fmt.Sprintf("Learn from feedback %s\n\nintents: %d, responses: %d, stories: %d, rules: %d",
		item.ID, counts.Intents, counts.Responses, counts.Flows, counts.Rules), log)
	return false, nil
}

func (s *service) rollback(ctx context.Context, p *pass, b *backup.Backup, log *zap.Logger) error {
	if err := s.backups.Restore(ctx, b); err != nil {
		log.Error("knowledge base rollback failed", zap.String("backup.id", b.ID), zap.Error(err))
		return fmt.Errorf("restore backup %s: %w", b.ID, err)
	}
	p.result.RolledBack++
	s.metrics.RollbacksTotal.Inc()
	if s.rollbackCounter != nil {
		s.rollbackCounter.Add(ctx, 1)
	}
	log.Warn("knowledge base rolled back", zap.String("backup.id", b.ID))
	s.commit(ctx, "Restore backup "+b.ID, log)
	return nil
}

func (s *service) commit(ctx context.Context, message string, log *zap.Logger) {
	if s.history == nil {
		return
	}
	hash, err := s.history.Commit(ctx, message)
	if err != nil {
		log.Warn("failed to record knowledge-base history", zap.Error(err))
		return
	}
	if hash != "" {
		log.Debug("knowledge-base history recorded", zap.String("commit", hash))
	}
}

func (s *service) succeed(ctx context.Context, p *pass, item *feedback.Item, out ItemOutcome, log *zap.Logger) ItemOutcome {
	if err := s.ledger.MarkProcessed(ctx, []string{item.ID}); err != nil {
		// The additions are on disk; the next pass merges nothing and marks it.
		out.Outcome = OutcomeFailed
		out.Err = err
		out.Error = err.Error()
		p.result.Failed++
		log.Error("failed to mark feedback processed", zap.Error(err))
		return out
	}

	p.result.Processed = append(p.result.Processed, item.ID)
	p.result.Added = p.result.Added.Add(out.Added)
	if out.Added.Total() == 0 {
		out.Outcome = OutcomeDuplicate
		p.result.Duplicates++
	} else {
		out.Outcome = OutcomeProcessed
	}
	log.Info("feedback processed", zap.String("outcome", out.Outcome), zap.Int("attempts", out.Attempts))
	return out
}

func (s *service) fail(ctx context.Context, p *pass, item *feedback.Item, out ItemOutcome, lastErr error, log *zap.Logger) ItemOutcome {
	out.Outcome = OutcomeFailed
	out.Err = lastErr
	out.Error = lastErr.Error()

	passes, err := s.ledger.RecordFailedPass(ctx, item.ID)
	if err != nil {
		p.result.Failed++
		log.Error("failed to record failed pass", zap.Error(err))
		return out
	}
	out.RetryCount = passes

	if passes < s.config.MaxPasses {
		p.result.Failed++
		log.Warn("feedback left for a later pass",
			zap.Int("retry_count", passes),
			zap.Int("max_passes", s.config.MaxPasses),
			zap.Error(lastErr))
		return out
	}

	reason := fmt.Sprintf("Failed after %d processing passes: %v", s.config.MaxPasses, lastErr)
	if err := s.ledger.Reject(ctx, item.ID, reason); err != nil {
		p.result.Failed++
		log.Error("failed to reject feedback", zap.Error(err))
		return out
	}

	out.Outcome = OutcomeRejected
	out.Err = fmt.Errorf("%w: %w", ErrExhaustedRetries, lastErr)
	out.Error = out.Err.Error()
	p.result.Rejected = append(p.result.Rejected, item.ID)
	log.Warn("feedback rejected", zap.String("reason", reason))
	return out
}

// train verifies the knowledge base, runs the build, archives every
// processed item and reloads the model server. The returned result is
// never nil.
func (s *service) train(ctx context.Context, id, trigger string) (*TrainResult, error) {
	ctx = logging.WithPassID(ctx, id)
	ctx, span := s.tracer.Start(ctx, "pipeline.train")
	defer span.End()
	span.SetAttributes(attribute.String("trigger", trigger))

	start := time.Now()
	res := &TrainResult{
		ID:        id,
		Trigger:   trigger,
		StartedAt: start.UTC(),
		Archived:  []string{},
	}
	log := s.logger.With(append(logging.ContextFields(ctx), zap.String("trigger", trigger))...)

	record := func(success bool) {
		res.Duration = time.Since(start)
		s.metrics.RecordTraining(trigger, success, res.Duration.Seconds())
		if s.trainCounter != nil {
			s.trainCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("trigger", trigger),
				attribute.Bool("success", success),
			))
		}
	}
	fail := func(err error) (*TrainResult, error) {
		err = fmt.Errorf("%w: %w", ErrTraining, err)
		res.Error = err.Error()
		record(false)
		span.RecordError(err)
		span.SetStatus(codes.Error, "training failed")
		fields := []zap.Field{zap.Error(err)}
		if res.Output != nil {
			fields = append(fields, zap.Int("exit_code", res.Output.ExitCode), zap.String("output", res.Output.Log))
		}
		log.Error("training failed", fields...)
		return res, err
	}

	if err := s.store.Verify(ctx); err != nil {
		return fail(fmt.Errorf("verify knowledge base: %w", err))
	}

	log.Info("training started")
	out, err := s.trainer.Train(ctx, s.store.Root())
	res.Output = out
	if err != nil {
		return fail(err)
	}

	archived, err := s.ledger.ArchiveProcessed(ctx)
	if err != nil {
		// The model is built; items stay Processed and are archived by the next run.
		record(true)
		err = fmt.Errorf("archive processed feedback: %w", err)
		res.Success = true
		res.Error = err.Error()
		span.RecordError(err)
		log.Error("training succeeded but archival failed", zap.Error(err))
		return res, err
	}
	res.Success = true
	res.Archived = archived
	s.metrics.ArchivedTotal.Add(float64(len(archived)))
	record(true)

	if err := s.trainer.Reload(ctx); err != nil {
		res.ReloadError = err.Error()
		s.metrics.ReloadFailures.Inc()
		log.Warn("model server reload failed", zap.Error(err))
	} else {
		res.Reloaded = true
	}

	log.Info("training completed",
		zap.Int("archived", len(archived)),
		zap.Bool("reloaded", res.Reloaded),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// beginOp registers an operation and returns its id, which doubles as the
// pass id in logs.
func (s *service) beginOp(ctx context.Context, kind string) string {
	if s.ops == nil {
		return uuid.New().String()
	}
	id := s.ops.Create(ctx, kind, nil)
	if err := s.ops.Started(id); err != nil {
		s.logger.Warn("failed to publish operation start", zap.String("operation.id", id), zap.Error(err))
	}
	return id
}

func (s *service) endOp(id string, result any, err error) {
	if s.ops == nil {
		return
	}
	var pubErr error
	if err != nil {
		pubErr = s.ops.Fail(id, err)
	} else {
		pubErr = s.ops.Complete(id, result)
	}
	if pubErr != nil {
		s.logger.Warn("failed to publish operation result", zap.String("operation.id", id), zap.Error(pubErr))
	}
}

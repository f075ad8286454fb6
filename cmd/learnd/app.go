package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Lightming99/RaSa-Metaconverse/internal/backup"
	"github.com/Lightming99/RaSa-Metaconverse/internal/config"
	"github.com/Lightming99/RaSa-Metaconverse/internal/feedback"
	"github.com/Lightming99/RaSa-Metaconverse/internal/generator"
	apihttp "github.com/Lightming99/RaSa-Metaconverse/internal/http"
	"github.com/Lightming99/RaSa-Metaconverse/internal/kb"
	"github.com/Lightming99/RaSa-Metaconverse/internal/kbhistory"
	"github.com/Lightming99/RaSa-Metaconverse/internal/kbwatch"
	"github.com/Lightming99/RaSa-Metaconverse/internal/operations"
	"github.com/Lightming99/RaSa-Metaconverse/internal/pipeline"
	"github.com/Lightming99/RaSa-Metaconverse/internal/queue"
	"github.com/Lightming99/RaSa-Metaconverse/internal/redact"
	"github.com/Lightming99/RaSa-Metaconverse/internal/settings"
	"github.com/Lightming99/RaSa-Metaconverse/internal/sqlitedb"
	"github.com/Lightming99/RaSa-Metaconverse/internal/trainer"
)

const clientName = "metaconverse-learnd"

// app holds the wired daemon.
type app struct {
	db       *sql.DB
	nc       *nats.Conn
	ledger   *feedback.Ledger
	pipeline pipeline.Service
	worker   *queue.Worker
	watcher  *kbwatch.Watcher
	server   *apihttp.Server
	logger   *zap.Logger
}

// newApp opens storage and builds every component. On error, whatever was
// already opened is released.
func newApp(ctx context.Context, cfg *config.Config, tel pipeline.Telemetry, logger *zap.Logger) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			err = errors.Join(err, a.release())
		}
	}()

	a.db, err = sqlitedb.Open(cfg.Storage.Path, sqlitedb.WithMkdirAll())
	if err != nil {
		return nil, err
	}
	a.ledger, err = feedback.NewLedger(ctx, a.db)
	if err != nil {
		return nil, err
	}
	st, err := settings.NewStore(ctx, a.db, cfg.Learning.Threshold)
	if err != nil {
		return nil, err
	}

	metrics := pipeline.NewMetrics()

	// the watcher must exist before the store so pipeline writes can be
	// announced through the write hooks
	var storeOpts []kb.StoreOption
	var backupOpts []backup.Option
	if cfg.KB.Watch {
		a.watcher, err = kbwatch.New(kb.NewStore(cfg.KB.Root).Paths(), logger.Named("kbwatch"),
			kbwatch.WithCounter(metrics.ExternalEdits))
		if err != nil {
			return nil, err
		}
		storeOpts = append(storeOpts, kb.WithWriteHook(a.watcher.Expect))
		backupOpts = append(backupOpts, backup.WithWriteHook(a.watcher.Expect))
	}
	store := kb.NewStore(cfg.KB.Root, storeOpts...)

	backups, err := backup.NewManager(store, cfg.Storage.BackupDir, logger.Named("backup"), backupOpts...)
	if err != nil {
		return nil, err
	}

	drafter, err := newDrafter(cfg.Generator, logger.Named("generator"))
	if err != nil {
		return nil, err
	}

	runner, err := trainer.New(trainer.Config{
		Command:       cfg.Trainer.Command,
		Timeout:       cfg.Trainer.Timeout.Duration(),
		ModelsDir:     cfg.Trainer.ModelsDir,
		ReloadURL:     cfg.Trainer.ReloadURL,
		ReloadCommand: cfg.Trainer.ReloadCommand,
		ReloadTimeout: cfg.Trainer.ReloadTimeout.Duration(),
	}, logger.Named("trainer"))
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Ledger:    a.ledger,
		Settings:  st,
		Store:     store,
		Backups:   backups,
		Drafter:   drafter,
		Trainer:   runner,
		Metrics:   metrics,
		Telemetry: tel,
	}

	apiDeps := apihttp.Deps{
		Feedback:  a.ledger,
		Threshold: st,
		Backups:   backups,
	}
	if cfg.KB.History {
		rels := make([]string, 0, len(kb.Sections))
		for _, sec := range kb.Sections {
			rels = append(rels, sec.RelPath())
		}
		history, err := kbhistory.Open(cfg.KB.Root, rels, logger.Named("kbhistory"))
		if err != nil {
			return nil, err
		}
		deps.History = history
		apiDeps.History = history
	}

	if cfg.Events.NATSURL != "" {
		a.nc, err = operations.Connect(cfg.Events.NATSURL, clientName, logger.Named("nats"))
		if err != nil {
			return nil, err
		}
	}
	ops := operations.NewRegistry(a.nc, operations.WithSubjectPrefix(cfg.Events.SubjectPrefix))
	deps.Operations = ops

	a.pipeline, err = pipeline.NewService(&pipeline.Config{
		MaxAttempts: cfg.Learning.MaxAttempts,
		MaxPasses:   cfg.Learning.MaxPasses,
	}, deps, logger.Named("pipeline"))
	if err != nil {
		return nil, err
	}

	a.worker, err = queue.NewWorker(func(ctx context.Context) error {
		_, err := a.pipeline.RunCycle(ctx)
		return err
	}, logger.Named("queue"),
		queue.WithInterval(cfg.Learning.Interval.Duration()),
		queue.WithDepthGauge(metrics.QueueDepth),
	)
	if err != nil {
		return nil, err
	}

	apiDeps.Pipeline = a.pipeline
	apiDeps.Queue = a.worker
	apiDeps.Operations = ops
	a.server, err = apihttp.NewServer(apiDeps, logger.Named("http"), &apihttp.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newDrafter builds the configured drafter, wrapped in secret redaction when
// enabled.
func newDrafter(cfg config.GeneratorConfig, logger *zap.Logger) (generator.Drafter, error) {
	var d generator.Drafter = generator.TemplateDrafter{}
	if cfg.Provider == config.ProviderLLM {
		llmCfg := generator.LLMConfig{
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			APIKey:      cfg.APIKey.Value(),
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout.Duration(),
			RateLimit:   cfg.RateLimit,
		}
		model, err := generator.NewOpenAIModel(llmCfg)
		if err != nil {
			return nil, err
		}
		d, err = generator.NewLLMDrafter(model, llmCfg, logger)
		if err != nil {
			return nil, err
		}
	}
	if !cfg.Redact {
		return d, nil
	}

	allowlist, err := redact.LoadAllowlist(cfg.Allowlist)
	if err != nil {
		return nil, err
	}
	scrubber, err := redact.New(allowlist)
	if err != nil {
		return nil, err
	}
	return generator.NewRedactingDrafter(d, scrubber, logger)
}

// Run starts background work and serves HTTP until ctx is done or the
// server fails. Feedback left unprocessed by a previous run is picked up
// immediately.
func (a *app) Run(ctx context.Context) error {
	if a.watcher != nil {
		if err := a.watcher.Start(ctx); err != nil {
			return err
		}
	}
	if err := a.worker.Start(); err != nil {
		return err
	}

	if pending, err := a.ledger.ListUnprocessed(ctx); err != nil {
		a.logger.Warn("failed to check for pending feedback", zap.Error(err))
	} else if len(pending) > 0 {
		a.logger.Info("resuming pending feedback", zap.Int("count", len(pending)))
		a.worker.Trigger("startup")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Start()
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown requested")
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
}

// Close stops accepting requests, waits for the learning cycle in flight and
// releases storage.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.server != nil {
		errs = append(errs, a.server.Shutdown(ctx))
	}
	if a.worker != nil {
		errs = append(errs, a.worker.Stop())
	}
	errs = append(errs, a.release())
	return errors.Join(errs...)
}

// release closes everything opened by newApp.
func (a *app) release() error {
	var errs []error
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.pipeline != nil {
		errs = append(errs, a.pipeline.Close())
	}
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, fmt.Errorf("drain nats: %w", err))
		}
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}

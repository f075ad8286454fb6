// Package logging builds the daemon's zap logger.
//
// Entries go to stdout, to OpenTelemetry through the otelzap bridge, or both.
// The stdout sink masks sensitive keys and values; the OTEL sink receives
// entries unchanged so collectors can apply their own policy. Debug through
// Warn entries are sampled, errors never are.
//
// Pipeline and HTTP code attach correlation IDs to the context with
// WithPassID and WithRequestID; ContextFields turns them, plus the active
// trace and span, into zap fields:
//
//	ctx = logging.WithPassID(ctx, passID)
//	logger.Info("learning pass completed", logging.ContextFields(ctx)...)
package logging

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "metaconverse-learnd"

// New creates a logger from cfg. provider may be nil, in which case the
// OTEL output is skipped.
func New(cfg *Config, provider log.LoggerProvider) (*zap.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	core, err := newCore(cfg, provider, zapcore.AddSync(os.Stdout))
	if err != nil {
		return nil, err
	}
	return build(cfg, core), nil
}

func build(cfg *Config, core zapcore.Core) *zap.Logger {
	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Caller {
		opts = append(opts, zap.AddCaller())
	}
	logger := zap.New(core, opts...)
	if len(cfg.Fields) > 0 {
		fields := make([]zap.Field, 0, len(cfg.Fields))
		for k, v := range cfg.Fields {
			fields = append(fields, zap.String(k, v))
		}
		logger = logger.With(fields...)
	}
	return logger
}

func newCore(cfg *Config, provider log.LoggerProvider, out zapcore.WriteSyncer) (zapcore.Core, error) {
	var cores []zapcore.Core
	if cfg.Output.Stdout {
		enc, err := newRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(enc, out, cfg.Level))
	}
	if cfg.Output.OTEL && provider != nil {
		cores = append(cores, otelzap.NewCore(serviceName, otelzap.WithLoggerProvider(provider)))
	}
	if len(cores) == 0 {
		return nil, fmt.Errorf("no log output available: otel requested without a provider")
	}
	return sampled(zapcore.NewTee(cores...), cfg.Sampling), nil
}

func newEncoder(format string) zapcore.Encoder {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if format == "console" {
		return zapcore.NewConsoleEncoder(encCfg)
	}
	return zapcore.NewJSONEncoder(encCfg)
}

// sampled samples entries below Error and passes the rest through.
func sampled(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}
	low := zapcore.NewSamplerWithOptions(
		&levelRange{Core: core, max: zapcore.WarnLevel},
		cfg.Tick.Duration(), cfg.Initial, cfg.Thereafter,
	)
	return zapcore.NewTee(low, &levelRange{Core: core, min: zapcore.ErrorLevel, hasMin: true})
}

// levelRange restricts a core to [min, max].
type levelRange struct {
	zapcore.Core
	min, max zapcore.Level
	hasMin   bool
}

func (c *levelRange) Enabled(lvl zapcore.Level) bool {
	if c.hasMin && lvl < c.min {
		return false
	}
	if !c.hasMin && lvl > c.max {
		return false
	}
	return c.Core.Enabled(lvl)
}

func (c *levelRange) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelRange) With(fields []zapcore.Field) zapcore.Core {
	return &levelRange{Core: c.Core.With(fields), min: c.min, max: c.max, hasMin: c.hasMin}
}

// Sync flushes logger, ignoring the EINVAL/ENOTTY that Linux returns for
// syncing a terminal or pipe.
func Sync(logger *zap.Logger) error {
	err := logger.Sync()
	var errno syscall.Errno
	if errors.As(err, &errno) && (errno == syscall.EINVAL || errno == syscall.ENOTTY) {
		return nil
	}
	return err
}

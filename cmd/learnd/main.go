// Learnd is the continuous-learning daemon for the support assistant.
//
// It records user feedback, turns negative feedback into knowledge-base
// additions, retrains the assistant once enough changes have accumulated and
// serves the operator API used by learnctl.
//
// Configuration is loaded from ~/.config/metaconverse/config.yaml (or
// --config) and environment variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults
//	learnd
//
//	# Configure via environment
//	KB_ROOT=/srv/bot SERVER_HTTP_PORT=9090 learnd
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Lightming99/RaSa-Metaconverse/internal/config"
	"github.com/Lightming99/RaSa-Metaconverse/internal/logging"
	"github.com/Lightming99/RaSa-Metaconverse/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "learnd",
	Short: "Continuous-learning daemon for the support assistant",
	Long: `learnd records user feedback about assistant answers, folds corrections
into the knowledge base and retrains the assistant once enough of them have
accumulated. Operators drive it through the HTTP API or learnctl.`,
	Version:       fmt.Sprintf("%s (commit %s, built %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx, configPath)
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "config file (default ~/.config/metaconverse/config.yaml)")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "learnd: %v\n", err)
		os.Exit(1)
	}
}

// run loads configuration, builds the daemon and blocks until ctx is
// cancelled or the HTTP server fails.
func run(ctx context.Context, path string) error {
	cfg, err := config.LoadWithFile(path)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	telCfg := telemetry.NewDefaultConfig()
	if err := cfg.Section("telemetry", telCfg); err != nil {
		return err
	}
	tel, err := telemetry.New(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logCfg := logging.NewDefaultConfig()
	if err := cfg.Section("logging", logCfg); err != nil {
		return err
	}
	logger, err := logging.New(logCfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	if h := tel.Health(); h.Degraded {
		logger.Warn("telemetry degraded", zap.String("reason", h.Reason))
	}

	logger.Info("starting learnd",
		zap.String("version", version),
		zap.String("kb_root", cfg.KB.Root),
		zap.Int("port", cfg.Server.Port),
		zap.String("generator", cfg.Generator.Provider),
		zap.Bool("history", cfg.KB.History),
		zap.Bool("watch", cfg.KB.Watch),
	)

	a, err := newApp(ctx, cfg, tel, logger)
	if err != nil {
		shutdownErr := tel.Shutdown(context.Background())
		return errors.Join(fmt.Errorf("failed to initialize daemon: %w", err), shutdownErr)
	}

	runErr := a.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	err = errors.Join(runErr, a.Close(shutdownCtx), tel.Shutdown(shutdownCtx))
	if err != nil {
		logger.Error("shutdown completed with errors", zap.Error(err))
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

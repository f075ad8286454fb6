// Package trainer runs the external model build in the knowledge-base
// directory and tells the model server to load the result.
package trainer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTimeout       = 300 * time.Second
	defaultReloadTimeout = 60 * time.Second
	defaultMaxOutput     = 64 << 10
	waitDelay            = 5 * time.Second
)

var (
	// ErrTimeout is returned when the build exceeds its timeout.
	ErrTimeout = errors.New("training timed out")

	// ErrBuildFailed is returned when the build command exits unsuccessfully.
	ErrBuildFailed = errors.New("training command failed")

	// ErrNoModel is returned by Reload when the models directory is empty.
	ErrNoModel = errors.New("no trained model found")
)

// Config configures a Runner.
type Config struct {
	// Command is the build command, run in the knowledge-base root.
	Command []string
	Timeout time.Duration

	// ModelsDir is where the build writes model archives.
	ModelsDir string

	// ReloadURL is the model server base URL; PUT {ReloadURL}/model loads
	// the newest archive. ReloadCommand is used instead when set.
	ReloadURL     string
	ReloadCommand []string
	ReloadTimeout time.Duration

	// MaxOutput bounds the build output kept for operators.
	MaxOutput int
}

// DefaultConfig returns the stock build settings.
func DefaultConfig() Config {
	return Config{
		Command:       []string{"rasa", "train", "--force"},
		Timeout:       defaultTimeout,
		ModelsDir:     "models",
		ReloadTimeout: defaultReloadTimeout,
		MaxOutput:     defaultMaxOutput,
	}
}

// Output describes one build run.
type Output struct {
	Command  string        `json:"command"`
	Dir      string        `json:"dir"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	Log      string        `json:"log"`
}

// Runner executes build and reload commands.
type Runner struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New returns a Runner. Zero fields in cfg take their defaults.
func New(cfg Config, logger *zap.Logger) (*Runner, error) {
	def := DefaultConfig()
	if len(cfg.Command) == 0 {
		cfg.Command = def.Command
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ModelsDir == "" {
		cfg.ModelsDir = def.ModelsDir
	}
	if cfg.ReloadTimeout <= 0 {
		cfg.ReloadTimeout = def.ReloadTimeout
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = def.MaxOutput
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.ReloadTimeout},
		logger: logger,
	}, nil
}

// Train runs the build command in kbRoot. The returned Output is non-nil
// whenever the command was started, including on failure.
func (r *Runner) Train(ctx context.Context, kbRoot string) (*Output, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	out, err := r.run(ctx, kbRoot, r.cfg.Command)
	if out != nil {
		r.logger.Info("training command finished",
			zap.String("command", out.Command),
			zap.Int("exit_code", out.ExitCode),
			zap.Duration("duration", out.Duration),
			zap.Error(err),
		)
	}
	return out, err
}

// Reload makes the model server load the newest model.
func (r *Runner) Reload(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ReloadTimeout)
	defer cancel()

	if len(r.cfg.ReloadCommand) > 0 {
		_, err := r.run(ctx, "", r.cfg.ReloadCommand)
		return err
	}
	if r.cfg.ReloadURL == "" {
		r.logger.Debug("no reload target configured")
		return nil
	}

	model, err := LatestModel(r.cfg.ModelsDir)
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]string{"model_file": model})
	if err != nil {
		return err
	}

	endpoint := strings.TrimRight(r.cfg.ReloadURL, "/") + "/model"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create reload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("reload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("reload failed: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	r.logger.Info("model server reloaded", zap.String("model", model))
	return nil
}

func (r *Runner) run(ctx context.Context, dir string, argv []string) (*Output, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}

	buf := &limitedBuffer{max: r.cfg.MaxOutput}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = buf
	cmd.Stderr = buf
	cmd.WaitDelay = waitDelay

	out := &Output{Command: strings.Join(argv, " "), Dir: dir}
	start := time.Now()
	err := cmd.Run()
	out.Duration = time.Since(start)
	out.Log = buf.String()
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case err == nil:
		return out, nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return out, fmt.Errorf("%w after %s: %s", ErrTimeout, out.Duration.Round(time.Millisecond), out.Command)
	default:
		return out, fmt.Errorf("%w: %s: %v", ErrBuildFailed, out.Command, err)
	}
}

// LatestModel returns the most recently modified regular file in dir.
func LatestModel(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w in %s", ErrNoModel, dir)
		}
		return "", err
	}

	var (
		newest  string
		newestT time.Time
	)
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestT) {
			newest, newestT = e.Name(), info.ModTime()
		}
	}
	if newest == "" {
		return "", fmt.Errorf("%w in %s", ErrNoModel, dir)
	}
	abs, err := filepath.Abs(filepath.Join(dir, newest))
	if err != nil {
		return "", err
	}
	return abs, nil
}

// limitedBuffer keeps the last max bytes written.
type limitedBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Lightming99/RaSa-Metaconverse/internal/feedback"
)

const (
	defaultTemperature = 0.1
	defaultTopP        = 0.8
	defaultMaxTokens   = 2000
	defaultTimeout     = 60 * time.Second
	defaultRateLimit   = 1.0
	defaultBurst       = 2
)

// ChatModel is the subset of llms.Model the drafter needs.
type ChatModel interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// LLMConfig configures an LLMDrafter.
type LLMConfig struct {
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float64
	TopP        float64
	MaxTokens   int
	Timeout     time.Duration
	RateLimit   float64 // requests per second
	Burst       int
}

func (c *LLMConfig) applyDefaults() {
	if c.Temperature == 0 {
		c.Temperature = defaultTemperature
	}
	if c.TopP == 0 {
		c.TopP = defaultTopP
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = defaultRateLimit
	}
	if c.Burst == 0 {
		c.Burst = defaultBurst
	}
}

// NewOpenAIModel connects to an OpenAI-compatible chat completion endpoint.
func NewOpenAIModel(cfg LLMConfig) (ChatModel, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("generator API key required")
	}
	opts := []openai.Option{openai.WithToken(cfg.APIKey)}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}
	return llm, nil
}

// LLMDrafter drafts additions with a chat model. Attempt 0 uses the structured
// prompt; later attempts use the fallback prompt.
type LLMDrafter struct {
	model   ChatModel
	cfg     LLMConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewLLMDrafter returns a drafter over model.
func NewLLMDrafter(model ChatModel, cfg LLMConfig, logger *zap.Logger) (*LLMDrafter, error) {
	if model == nil {
		return nil, errors.New("chat model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &LLMDrafter{
		model:   model,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		logger:  logger,
	}, nil
}

// Draft implements Drafter.
func (d *LLMDrafter) Draft(ctx context.Context, item *feedback.Item, attempt int) (string, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	var (
		prompt string
		err    error
	)
	if attempt == 0 {
		prompt, err = StructurePrompt(item, PlanFor(item))
	} else {
		prompt, err = FallbackPrompt(item)
	}
	if err != nil {
		return "", fmt.Errorf("build prompt: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := d.model.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(schema.ChatMessageTypeHuman, prompt)},
		llms.WithTemperature(d.cfg.Temperature),
		llms.WithTopP(d.cfg.TopP),
		llms.WithMaxTokens(d.cfg.MaxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", ErrEmptyOutput
	}

	d.logger.Debug("draft generated",
		zap.String("feedback_id", item.ID),
		zap.Int("attempt", attempt),
		zap.Duration("duration", time.Since(start)),
		zap.Int("length", len(resp.Choices[0].Content)),
	)
	return resp.Choices[0].Content, nil
}

package generator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"github.com/Lightming99/RaSa-Metaconverse/internal/feedback"
)

type fakeModel struct {
	reply   string
	err     error
	prompts []string
	roles   []schema.ChatMessageType
	opts    llms.CallOptions
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, m := range messages {
		f.roles = append(f.roles, m.Role)
		for _, p := range m.Parts {
			if tp, ok := p.(llms.TextContent); ok {
				f.prompts = append(f.prompts, tp.Text)
			}
		}
	}
	for _, o := range options {
		o(&f.opts)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func testItem() *feedback.Item {
	return &feedback.Item{
		ID:               "f-9",
		UserQuery:        "Outlook will not sync",
		PriorResponse:    "Please contact IT.",
		Sentiment:        feedback.SentimentNegative,
		IssueDescription: "not specific",
		ExpectedAnswer:   "Remove and re-add the account.",
	}
}

func TestLLMDrafter_StructurePromptFirst(t *testing.T) {
	model := &fakeModel{reply: "=== NLU_DATA ===\n..."}
	d, err := NewLLMDrafter(model, LLMConfig{Timeout: time.Second, RateLimit: 100}, nil)
	require.NoError(t, err)

	out, err := d.Draft(context.Background(), testItem(), 0)
	require.NoError(t, err)
	assert.Equal(t, "=== NLU_DATA ===\n...", out)

	require.Len(t, model.prompts, 1)
	assert.Equal(t, []schema.ChatMessageType{schema.ChatMessageTypeHuman}, model.roles)
	prompt := model.prompts[0]
	assert.Contains(t, prompt, "FEEDBACK ANALYSIS:")
	assert.Contains(t, prompt, "STRUCTURE REQUIREMENTS:")
	assert.Contains(t, prompt, `- User Query: "Outlook will not sync"`)
	assert.Contains(t, prompt, "ask_outlook_not")
	assert.Contains(t, prompt, "utter_ask_outlook_not")
	assert.Contains(t, prompt, "I can help you with that. Remove and re-add the account.")

	assert.InDelta(t, 0.1, model.opts.Temperature, 1e-9)
	assert.InDelta(t, 0.8, model.opts.TopP, 1e-9)
	assert.Equal(t, 2000, model.opts.MaxTokens)
}

func TestLLMDrafter_FallbackPromptOnRetry(t *testing.T) {
	model := &fakeModel{reply: "text"}
	d, err := NewLLMDrafter(model, LLMConfig{RateLimit: 100}, nil)
	require.NoError(t, err)

	_, err = d.Draft(context.Background(), testItem(), 1)
	require.NoError(t, err)
	require.Len(t, model.prompts, 1)
	assert.Contains(t, model.prompts[0], "ask_it_support")
	assert.Contains(t, model.prompts[0], "utter_it_support")
	assert.Contains(t, model.prompts[0], "- Outlook will not sync")
	assert.NotContains(t, model.prompts[0], "FEEDBACK ANALYSIS")
}

func TestLLMDrafter_Errors(t *testing.T) {
	t.Run("empty output", func(t *testing.T) {
		d, err := NewLLMDrafter(&fakeModel{reply: "  \n"}, LLMConfig{RateLimit: 100}, nil)
		require.NoError(t, err)
		_, err = d.Draft(context.Background(), testItem(), 0)
		assert.ErrorIs(t, err, ErrEmptyOutput)
	})

	t.Run("transport", func(t *testing.T) {
		boom := errors.New("503 service unavailable")
		d, err := NewLLMDrafter(&fakeModel{err: boom}, LLMConfig{RateLimit: 100}, nil)
		require.NoError(t, err)
		_, err = d.Draft(context.Background(), testItem(), 0)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("nil model", func(t *testing.T) {
		_, err := NewLLMDrafter(nil, LLMConfig{}, nil)
		assert.EqualError(t, err, "chat model is required")
	})
}

func TestNewOpenAIModel_RequiresKey(t *testing.T) {
	_, err := NewOpenAIModel(LLMConfig{})
	assert.Error(t, err)

	m, err := NewOpenAIModel(LLMConfig{APIKey: "test", Model: "gemini-1.5-flash", BaseURL: "http://127.0.0.1:1/v1"})
	require.NoError(t, err)
	assert.NotNil(t, m)
}

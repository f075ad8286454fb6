package generator

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lightming99/RaSa-Metaconverse/internal/artifact"
	"github.com/Lightming99/RaSa-Metaconverse/internal/feedback"
)

func TestIntentName(t *testing.T) {
	tests := []struct {
		query string
		id    string
		want  string
	}{
		{"How do I reset my password?", "x", "ask_reset_password"},
		{"Printer", "x", "ask_printer_help"},
		{"how can you do it", "1b2c-3d", "ask_support_1b2c3d"},
		{"  VPN keeps dropping  ", "x", "ask_vpn_keeps"},
		{"What is the wi-fi code", "x", "ask_code_help"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, IntentName(tt.query, tt.id))
		})
	}
}

func TestVariations(t *testing.T) {
	got := Variations("My Password expired")
	assert.Equal(t, []string{
		"Can you help me with my password expired",
		"I need assistance with my password expired",
		"How do I resolve my password expired",
		"I'm having trouble with my password",
	}, got)

	assert.Len(t, Variations("printer jam"), 3)
	assert.Equal(t, "I'm having connectivity issues", Variations("no internet")[3])
	assert.Equal(t, "My system is running slowly", Variations("laptop is slow")[3])
	assert.Equal(t, "Help me install this software", Variations("install zoom")[3])
	assert.LessOrEqual(t, len(Variations("slow network password install")), maxVariations)
}

func TestResponseText(t *testing.T) {
	tests := []struct {
		name string
		item feedback.Item
		want string
	}{
		{
			name: "negative with expected answer",
			item: feedback.Item{Sentiment: feedback.SentimentNegative, ExpectedAnswer: " Restart the spooler service. "},
			want: "I can help you with that. Restart the spooler service.",
		},
		{
			name: "positive ignores expected answer",
			item: feedback.Item{Sentiment: feedback.SentimentPositive, ExpectedAnswer: "x", IssueDescription: "slow replies"},
			want: "I understand your concern about slow replies. Let me help you resolve this IT issue.",
		},
		{
			name: "N/A counts as missing",
			item: feedback.Item{Sentiment: feedback.SentimentNegative, ExpectedAnswer: "N/A"},
			want: "I can assist you with that IT support request. Let me help you resolve this issue.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResponseText(&tt.item))
		})
	}
}

func TestTemplateDrafter_OutputValidates(t *testing.T) {
	item := &feedback.Item{
		ID:             "f-1",
		UserQuery:      "How do I reset my password?",
		Sentiment:      feedback.SentimentNegative,
		ExpectedAnswer: "Use the self-service portal at id.example.com.",
	}

	raw, err := TemplateDrafter{}.Draft(context.Background(), item, 0)
	require.NoError(t, err)
	for _, m := range []string{artifact.MarkerNLU, artifact.MarkerDomain, artifact.MarkerStories, artifact.MarkerRules} {
		assert.Contains(t, raw, m)
	}

	b, err := artifact.Validate(raw)
	require.NoError(t, err)
	require.Len(t, b.Intents, 1)
	assert.Equal(t, "ask_reset_password", b.Intents[0].Name)
	assert.Equal(t, "How do I reset my password?", b.Intents[0].Examples[0])
	assert.Len(t, b.Intents[0].Examples, 5)
	assert.Equal(t, "utter_ask_reset_password", b.Responses[0].Name)
	assert.Equal(t, "ask_reset_password", b.Responses[0].Intent)
	assert.Contains(t, b.Responses[0].Texts()[0], "Use the self-service portal at id.example.com.")
	assert.Equal(t, "ask_reset_password_story", b.Flows[0].Name)
	assert.Equal(t, "ask_reset_password_rule", b.Rules[0].Name)

	again, err := TemplateDrafter{}.Draft(context.Background(), item, 2)
	require.NoError(t, err)
	assert.Equal(t, raw, again)
}

func TestTemplateDrafter_QuotesAwkwardText(t *testing.T) {
	item := &feedback.Item{
		ID:             "f-2",
		UserQuery:      `error: "disk full" on C:`,
		Sentiment:      feedback.SentimentNegative,
		ExpectedAnswer: "Run: cleanmgr /sagerun:1 # then reboot",
	}
	raw, err := TemplateDrafter{}.Draft(context.Background(), item, 0)
	require.NoError(t, err)

	b, err := artifact.Validate(raw)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(b.Responses[0].Texts()[0], "Run: cleanmgr /sagerun:1 # then reboot"))
}

func TestTemplateDrafter_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := TemplateDrafter{}.Draft(ctx, &feedback.Item{UserQuery: "x"}, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

package artifact

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lightming99/RaSa-Metaconverse/internal/kb"
)

const validRaw = "Here is the training data:\n```yaml\n" + `=== NLU_DATA ===
version: '3.1'
nlu:
- intent: ask_printer_offline
  examples: |-
    - my printer is offline
    - Can you help me with my printer is offline

=== DOMAIN_DATA ===
version: '3.1'
intents:
- ask_printer_offline
responses:
  utter_ask_printer_offline:
  - text: "I can help you with that. Power cycle the printer."

=== STORIES_DATA ===
version: '3.1'
stories:
- story: ask_printer_offline_story
  steps:
  - intent: ask_printer_offline
  - action: utter_ask_printer_offline

=== RULES_DATA ===
version: '3.1'
rules:
- rule: ask_printer_offline_rule
  steps:
  - intent: ask_printer_offline
  - action: utter_ask_printer_offline
` + "```\n"

func TestValidate(t *testing.T) {
	b, err := Validate(validRaw)
	require.NoError(t, err)

	require.Len(t, b.Intents, 1)
	assert.Equal(t, "ask_printer_offline", b.Intents[0].Name)
	assert.Equal(t, []string{"my printer is offline", "Can you help me with my printer is offline"}, b.Intents[0].Examples)

	require.Len(t, b.Responses, 1)
	assert.Equal(t, "utter_ask_printer_offline", b.Responses[0].Name)
	assert.Equal(t, "ask_printer_offline", b.Responses[0].Intent)
	assert.Equal(t, []string{"I can help you with that. Power cycle the printer."}, b.Responses[0].Texts())

	require.Len(t, b.Flows, 1)
	assert.Equal(t, []kb.Step{kb.IntentStep("ask_printer_offline"), kb.ActionStep("utter_ask_printer_offline")}, b.Flows[0].Steps)
	require.Len(t, b.Rules, 1)
}

func TestValidate_Deterministic(t *testing.T) {
	raw := strings.Replace(validRaw, "  - action: utter_ask_printer_offline\n", "  - action: utter_missing\n", 1)
	_, err1 := Validate(raw)
	_, err2 := Validate(raw)
	require.Error(t, err1)
	assert.Equal(t, err1.Error(), err2.Error())
}

func emptyStories() string {
	before := strings.Split(validRaw, MarkerStories)[0]
	after := strings.Split(validRaw, MarkerRules)[1]
	return before + MarkerStories + "\n```\n\n" + MarkerRules + after
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "missing section",
			raw:  strings.Split(validRaw, "=== RULES_DATA ===")[0],
			want: "missing === RULES_DATA === section",
		},
		{
			name: "empty section",
			raw:  emptyStories(),
			want: "empty === STORIES_DATA === section",
		},
		{
			name: "yaml syntax",
			raw:  strings.Replace(validRaw, "responses:\n", "responses: [\n", 1),
			want: "=== DOMAIN_DATA ===: yaml",
		},
		{
			name: "intent without examples",
			raw:  strings.Replace(validRaw, "  examples: |-\n    - my printer is offline\n    - Can you help me with my printer is offline\n", "", 1),
			want: `intent "ask_printer_offline" has no examples`,
		},
		{
			name: "response without text",
			raw:  strings.Replace(validRaw, `  - text: "I can help you with that. Power cycle the printer."`, `  - text: ""`, 1),
			want: `response "utter_ask_printer_offline" has no text`,
		},
		{
			name: "undeclared step intent",
			raw:  strings.Replace(validRaw, "- rule: ask_printer_offline_rule\n  steps:\n  - intent: ask_printer_offline", "- rule: ask_printer_offline_rule\n  steps:\n  - intent: ask_other", 1),
			want: `rule "ask_printer_offline_rule" uses undeclared intent "ask_other"`,
		},
		{
			name: "rule with only an action",
			raw:  strings.Replace(validRaw, "- rule: ask_printer_offline_rule\n  steps:\n  - intent: ask_printer_offline\n", "- rule: ask_printer_offline_rule\n  steps:\n", 1),
			want: "needs at least one intent step and one action step",
		},
		{
			name: "unused response",
			raw: strings.Replace(validRaw, "responses:\n", "responses:\n  utter_orphan:\n  - text: nobody calls me\n", 1),
			want: `response "utter_orphan" is not used`,
		},
		{
			name: "response without utter prefix",
			raw: strings.ReplaceAll(validRaw, "utter_ask_printer_offline", "say_printer"),
			want: `must start with "utter_"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.raw)
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSplit_DropsFencesAndPreamble(t *testing.T) {
	sections, err := Split(validRaw)
	require.NoError(t, err)
	assert.NotContains(t, sections[kb.SectionNLU], "Here is")
	assert.NotContains(t, sections[kb.SectionRules], "```")
	assert.True(t, strings.HasPrefix(sections[kb.SectionDomain], "version: '3.1'\n"))
}

func TestRender_RoundTrips(t *testing.T) {
	in := &Bundle{
		Intents: []kb.Intent{{Name: "ask_vpn_setup", Examples: []string{"set up vpn", "I need assistance with set up vpn"}}},
		Responses: []kb.Response{{
			Name:     "utter_ask_vpn_setup",
			Variants: []kb.Variant{{Text: "Install the VPN client from the portal."}},
		}},
		Flows: []kb.Flow{{Name: "ask_vpn_setup_story", Steps: []kb.Step{kb.IntentStep("ask_vpn_setup"), kb.ActionStep("utter_ask_vpn_setup")}}},
		Rules: []kb.Rule{{Name: "ask_vpn_setup_rule", Steps: []kb.Step{kb.IntentStep("ask_vpn_setup"), kb.ActionStep("utter_ask_vpn_setup")}}},
	}

	raw, err := Render(in)
	require.NoError(t, err)
	assert.Contains(t, raw, MarkerNLU+"\n")
	assert.Contains(t, raw, MarkerRules+"\n")

	out, err := Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, in.Intents, out.Intents)
	assert.Equal(t, in.Flows, out.Flows)
	assert.Equal(t, in.Rules, out.Rules)
	assert.Equal(t, "ask_vpn_setup", out.Responses[0].Intent)
}

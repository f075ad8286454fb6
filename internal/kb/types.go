// Package kb models the assistant's knowledge base: intents with example
// utterances, canned responses, conversation flows (stories) and dialogue
// rules, persisted as four YAML files.
package kb

import "strings"

// Version is written into every knowledge-base document.
const Version = "3.1"

// Intent is a named user intent with example utterances.
type Intent struct {
	Name     string
	Examples []string
}

// Response is a canned bot response. Intent is the intent that precedes the
// response in a flow or rule; it is derived, not persisted.
type Response struct {
	Name     string
	Variants []Variant
	Intent   string
}

// Texts returns the non-empty variant texts.
func (r Response) Texts() []string {
	var out []string
	for _, v := range r.Variants {
		if strings.TrimSpace(v.Text) != "" {
			out = append(out, v.Text)
		}
	}
	return out
}

// Variant is one alternative rendering of a response.
type Variant struct {
	Text  string         `yaml:"text,omitempty"`
	Extra map[string]any `yaml:",inline"`
}

// Step is one turn of a flow or rule. Exactly one of Intent and Action is set
// for the simple steps this system writes; other step kinds survive in Extra.
type Step struct {
	Intent string         `yaml:"intent,omitempty"`
	Action string         `yaml:"action,omitempty"`
	Extra  map[string]any `yaml:",inline"`
}

// IntentStep returns a step that matches a user intent.
func IntentStep(name string) Step { return Step{Intent: name} }

// ActionStep returns a step that runs a bot action.
func ActionStep(name string) Step { return Step{Action: name} }

// Flow is a named example conversation.
type Flow struct {
	Name  string         `yaml:"story"`
	Steps []Step         `yaml:"steps"`
	Extra map[string]any `yaml:",inline"`
}

// Rule is a named dialogue rule.
type Rule struct {
	Name  string         `yaml:"rule"`
	Steps []Step         `yaml:"steps"`
	Extra map[string]any `yaml:",inline"`
}

// ResponsePrefix marks actions that must be backed by a response.
const ResponsePrefix = "utter_"

// IsResponseAction reports whether an action name refers to a response.
func IsResponseAction(action string) bool {
	return strings.HasPrefix(action, ResponsePrefix)
}

// builtinIntents are understood by the model server without being declared.
var builtinIntents = map[string]struct{}{
	"nlu_fallback":  {},
	"out_of_scope":  {},
	"restart":       {},
	"back":          {},
	"session_start": {},
}

// ParseExamples splits an NLU examples block ("- a\n- b") into utterances.
func ParseExamples(block string) []string {
	var out []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "-"))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// FormatExamples renders utterances as an NLU examples block.
func FormatExamples(examples []string) string {
	var b strings.Builder
	for _, ex := range examples {
		b.WriteString("- ")
		b.WriteString(strings.TrimSpace(ex))
		b.WriteString("\n")
	}
	return b.String()
}

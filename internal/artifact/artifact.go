// Package artifact turns raw generator output into a validated Bundle of
// knowledge-base additions.
//
// Raw output carries four labeled YAML sections:
//
//	=== NLU_DATA ===
//	=== DOMAIN_DATA ===
//	=== STORIES_DATA ===
//	=== RULES_DATA ===
//
// Validate splits, parses and schema-checks them. The verdict depends only on
// the input text.
package artifact

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Lightming99/RaSa-Metaconverse/internal/kb"
)

// Section markers.
const (
	MarkerNLU     = "=== NLU_DATA ==="
	MarkerDomain  = "=== DOMAIN_DATA ==="
	MarkerStories = "=== STORIES_DATA ==="
	MarkerRules   = "=== RULES_DATA ==="
)

var markers = []struct {
	marker  string
	section kb.Section
}{
	{MarkerNLU, kb.SectionNLU},
	{MarkerDomain, kb.SectionDomain},
	{MarkerStories, kb.SectionStories},
	{MarkerRules, kb.SectionRules},
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid artifact")

// Bundle is a transient set of typed additions produced from one feedback item.
type Bundle struct {
	Intents   []kb.Intent
	Responses []kb.Response
	Flows     []kb.Flow
	Rules     []kb.Rule
}

// Split extracts the four labeled sections from raw text. Code fences, blank
// lines and text outside a section are dropped.
func Split(raw string) (map[kb.Section]string, error) {
	sections := make(map[kb.Section]*strings.Builder, len(markers))
	var current kb.Section

	for _, line := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if sec, ok := markerSection(trimmed); ok {
			current = sec
			if sections[sec] == nil {
				sections[sec] = &strings.Builder{}
			}
			continue
		}
		if current == "" || trimmed == "" || strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "===") {
			continue
		}
		sections[current].WriteString(line)
		sections[current].WriteString("\n")
	}

	out := make(map[kb.Section]string, len(markers))
	for _, m := range markers {
		b, ok := sections[m.section]
		if !ok {
			return nil, fmt.Errorf("%w: missing %s section", ErrInvalid, m.marker)
		}
		if strings.TrimSpace(b.String()) == "" {
			return nil, fmt.Errorf("%w: empty %s section", ErrInvalid, m.marker)
		}
		out[m.section] = b.String()
	}
	return out, nil
}

func markerSection(line string) (kb.Section, bool) {
	for _, m := range markers {
		if strings.Contains(line, m.marker) {
			return m.section, true
		}
	}
	return "", false
}

// Validate parses raw generator output into a Bundle.
func Validate(raw string) (*Bundle, error) {
	sections, err := Split(raw)
	if err != nil {
		return nil, err
	}

	doc := &kb.KnowledgeBase{}
	for _, m := range markers {
		if err := kb.DecodeSection(doc, m.section, []byte(sections[m.section])); err != nil {
			return nil, fmt.Errorf("%w: %s: yaml: %v", ErrInvalid, m.marker, err)
		}
	}

	b := &Bundle{
		Intents:   doc.Intents(),
		Responses: doc.Domain.Responses,
		Flows:     doc.Stories.Stories,
		Rules:     doc.Rules.Rules,
	}
	if err := b.check(); err != nil {
		return nil, err
	}
	return b, nil
}

// check applies the schema rules and fills in Response.Intent.
func (b *Bundle) check() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if len(b.Intents) == 0 {
		add("no intents")
	}
	if len(b.Responses) == 0 {
		add("no responses")
	}
	if len(b.Flows)+len(b.Rules) == 0 {
		add("no stories or rules")
	}

	intents := make(map[string]struct{}, len(b.Intents))
	for _, in := range b.Intents {
		if strings.TrimSpace(in.Name) == "" {
			add("intent without a name")
			continue
		}
		if _, dup := intents[in.Name]; dup {
			add("duplicate intent %q", in.Name)
		}
		intents[in.Name] = struct{}{}
		if len(in.Examples) == 0 {
			add("intent %q has no examples", in.Name)
		}
	}

	responses := make(map[string]int, len(b.Responses))
	for i, r := range b.Responses {
		if strings.TrimSpace(r.Name) == "" {
			add("response without a name")
			continue
		}
		if _, dup := responses[r.Name]; dup {
			add("duplicate response %q", r.Name)
		}
		responses[r.Name] = i
		if !kb.IsResponseAction(r.Name) {
			add("response %q must start with %q", r.Name, kb.ResponsePrefix)
		}
		if len(r.Texts()) == 0 {
			add("response %q has no text", r.Name)
		}
	}

	used := make(map[string]string)
	checkSteps := func(kind, name string, steps []kb.Step) {
		if strings.TrimSpace(name) == "" {
			add("%s without a name", kind)
			return
		}
		if len(steps) == 0 {
			add("%s %q has no steps", kind, name)
			return
		}
		var hasIntent, hasAction bool
		var lastIntent string
		for _, s := range steps {
			switch {
			case s.Intent != "":
				hasIntent = true
				lastIntent = s.Intent
				if _, ok := intents[s.Intent]; !ok {
					add("%s %q uses undeclared intent %q", kind, name, s.Intent)
				}
			case s.Action != "":
				hasAction = true
				if kb.IsResponseAction(s.Action) {
					if _, ok := responses[s.Action]; !ok {
						add("%s %q uses undefined response %q", kind, name, s.Action)
					}
				}
				if _, seen := used[s.Action]; !seen {
					used[s.Action] = lastIntent
				}
			}
		}
		if !hasIntent || !hasAction {
			add("%s %q needs at least one intent step and one action step", kind, name)
		}
	}

	flows := make(map[string]struct{}, len(b.Flows))
	for _, f := range b.Flows {
		if _, dup := flows[f.Name]; dup && f.Name != "" {
			add("duplicate story %q", f.Name)
		}
		flows[f.Name] = struct{}{}
		checkSteps("story", f.Name, f.Steps)
	}
	rules := make(map[string]struct{}, len(b.Rules))
	for _, r := range b.Rules {
		if _, dup := rules[r.Name]; dup && r.Name != "" {
			add("duplicate rule %q", r.Name)
		}
		rules[r.Name] = struct{}{}
		checkSteps("rule", r.Name, r.Steps)
	}

	for i, r := range b.Responses {
		intent, ok := used[r.Name]
		if !ok {
			if r.Name != "" {
				add("response %q is not used by any story or rule", r.Name)
			}
			continue
		}
		b.Responses[i].Intent = intent
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Render formats a bundle as raw four-section text that Validate accepts.
func Render(b *Bundle) (string, error) {
	doc := kb.New()
	for _, in := range b.Intents {
		doc.AddIntent(in)
		doc.DeclareIntent(in.Name)
	}
	for _, r := range b.Responses {
		doc.Domain.Responses = append(doc.Domain.Responses, kb.Response{Name: r.Name, Variants: r.Variants})
	}
	doc.Stories.Stories = append(doc.Stories.Stories, b.Flows...)
	doc.Rules.Rules = append(doc.Rules.Rules, b.Rules...)

	var out strings.Builder
	for i, m := range markers {
		data, err := doc.Encode(m.section)
		if err != nil {
			return "", err
		}
		if i > 0 {
			out.WriteString("\n")
		}
		out.WriteString(m.marker)
		out.WriteString("\n")
		out.Write(data)
	}
	return out.String(), nil
}

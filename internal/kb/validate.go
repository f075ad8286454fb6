package kb

import (
	"errors"
	"fmt"
	"strings"
)

// ErrIntegrity is returned when the knowledge base breaks a uniqueness or
// reference constraint.
var ErrIntegrity = errors.New("knowledge base integrity violation")

// Validate checks that keys are unique per collection, that every step
// intent is known and that every utter_ step action has a response.
func (kb *KnowledgeBase) Validate() error {
	var problems []string
	dup := func(kind string, names []string) {
		seen := make(map[string]struct{}, len(names))
		for _, n := range names {
			if _, ok := seen[n]; ok {
				problems = append(problems, fmt.Sprintf("duplicate %s %q", kind, n))
			}
			seen[n] = struct{}{}
		}
	}

	var intents, responses, flows, rules []string
	for _, in := range kb.Intents() {
		intents = append(intents, in.Name)
	}
	for _, r := range kb.Domain.Responses {
		responses = append(responses, r.Name)
	}
	for _, f := range kb.Stories.Stories {
		flows = append(flows, f.Name)
		if strings.TrimSpace(f.Name) == "" {
			problems = append(problems, "story without a name")
		}
	}
	for _, r := range kb.Rules.Rules {
		rules = append(rules, r.Name)
		if strings.TrimSpace(r.Name) == "" {
			problems = append(problems, "rule without a name")
		}
	}
	dup("intent", intents)
	dup("domain intent", kb.DomainIntents())
	dup("response", responses)
	dup("story", flows)
	dup("rule", rules)

	known := kb.KnownIntents()
	checkSteps := func(kind, name string, steps []Step) {
		for _, s := range steps {
			if s.Intent != "" {
				_, ok := known[s.Intent]
				_, builtin := builtinIntents[s.Intent]
				if !ok && !builtin {
					problems = append(problems, fmt.Sprintf("%s %q uses undeclared intent %q", kind, name, s.Intent))
				}
			}
			if IsResponseAction(s.Action) && !kb.HasResponse(s.Action) {
				problems = append(problems, fmt.Sprintf("%s %q uses undefined response %q", kind, name, s.Action))
			}
		}
	}
	for _, f := range kb.Stories.Stories {
		checkSteps("story", f.Name, f.Steps)
	}
	for _, r := range kb.Rules.Rules {
		checkSteps("rule", r.Name, r.Steps)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrIntegrity, strings.Join(problems, "; "))
	}
	return nil
}

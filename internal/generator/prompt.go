package generator

import (
	"fmt"
	"strings"

	"github.com/Lightming99/RaSa-Metaconverse/internal/artifact"
	"github.com/Lightming99/RaSa-Metaconverse/internal/feedback"
	"github.com/Lightming99/RaSa-Metaconverse/internal/kb"
)

// StructurePrompt asks the model for additions shaped exactly like the
// template plan, with the feedback details to improve the response text.
func StructurePrompt(item *feedback.Item, plan Plan) (string, error) {
	example, err := artifact.Render(plan.Bundle())
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("You generate Rasa YAML training data that matches an existing project exactly.\n\n")
	b.WriteString("FEEDBACK ANALYSIS:\n")
	fmt.Fprintf(&b, "- User Query: %q\n", item.UserQuery)
	fmt.Fprintf(&b, "- Bot Response: %q\n", orNA(item.PriorResponse))
	fmt.Fprintf(&b, "- Feedback Type: %s\n", item.Sentiment)
	fmt.Fprintf(&b, "- Issue: %q\n", orNA(item.IssueDescription))
	fmt.Fprintf(&b, "- Expected Answer: %q\n\n", orNA(item.ExpectedAnswer))
	b.WriteString("STRUCTURE REQUIREMENTS:\n")
	b.WriteString("- NLU: examples as a block of \"- \" lines\n")
	b.WriteString("- Domain: responses as a list of \"- text:\" entries\n")
	b.WriteString("- Stories and rules: simple steps, one intent then one action\n")
	fmt.Fprintf(&b, "- Keep the names %s, %s, %s and %s\n\n", plan.Intent, plan.Response, plan.Flow, plan.Rule)
	b.WriteString("Return exactly these four sections and nothing else:\n\n")
	b.WriteString(example)
	b.WriteString("\nRewrite the response text so it answers the user's actual problem.\n")
	return b.String(), nil
}

// FallbackPrompt is a shorter prompt with generic names, used after the
// structured prompt has failed once.
func FallbackPrompt(item *feedback.Item) (string, error) {
	query := strings.TrimSpace(item.UserQuery)
	if query == "" {
		query = "help me"
	}
	steps := func() []kb.Step {
		return []kb.Step{kb.IntentStep("ask_it_support"), kb.ActionStep("utter_it_support")}
	}
	example, err := artifact.Render(&artifact.Bundle{
		Intents: []kb.Intent{{
			Name:     "ask_it_support",
			Examples: []string{query, "help me with this", "I need assistance", "can you help me"},
		}},
		Responses: []kb.Response{{
			Name:     "utter_it_support",
			Variants: []kb.Variant{{Text: "I can help you with that IT support request."}},
		}},
		Flows: []kb.Flow{{Name: "it_support_story", Steps: steps()}},
		Rules: []kb.Rule{{Name: "it_support_rule", Steps: steps()}},
	})
	if err != nil {
		return "", err
	}
	return "Generate valid Rasa YAML training data with this exact structure:\n\n" +
		example + "\nUse exactly this format with proper indentation.\n", nil
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

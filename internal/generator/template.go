package generator

import (
	"context"
	"regexp"
	"strings"

	"github.com/Lightming99/RaSa-Metaconverse/internal/artifact"
	"github.com/Lightming99/RaSa-Metaconverse/internal/feedback"
	"github.com/Lightming99/RaSa-Metaconverse/internal/kb"
)

const maxVariations = 4

var (
	wordPattern    = regexp.MustCompile(`\b\w+\b`)
	invalidNameRun = regexp.MustCompile(`[^a-zA-Z0-9_]`)

	stopwords = map[string]struct{}{
		"the": {}, "and": {}, "are": {}, "for": {}, "you": {}, "can": {}, "how": {},
		"what": {}, "why": {}, "when": {}, "where": {}, "with": {}, "from": {},
		"that": {}, "this": {}, "have": {}, "has": {}, "will": {}, "would": {},
		"could": {}, "should": {},
	}
)

// Plan is the deterministic set of names and texts derived from a feedback item.
type Plan struct {
	Intent       string
	Response     string
	Flow         string
	Rule         string
	ResponseText string
	Examples     []string
}

// PlanFor derives names, response text and example utterances from item.
func PlanFor(item *feedback.Item) Plan {
	intent := IntentName(item.UserQuery, item.ID)
	examples := []string{strings.TrimSpace(item.UserQuery)}
	for _, v := range Variations(item.UserQuery) {
		if !contains(examples, v) {
			examples = append(examples, v)
		}
	}
	return Plan{
		Intent:       intent,
		Response:     kb.ResponsePrefix + intent,
		Flow:         intent + "_story",
		Rule:         intent + "_rule",
		ResponseText: ResponseText(item),
		Examples:     examples,
	}
}

// Bundle renders the plan as typed additions.
func (p Plan) Bundle() *artifact.Bundle {
	steps := func() []kb.Step {
		return []kb.Step{kb.IntentStep(p.Intent), kb.ActionStep(p.Response)}
	}
	return &artifact.Bundle{
		Intents: []kb.Intent{{Name: p.Intent, Examples: p.Examples}},
		Responses: []kb.Response{{
			Name:     p.Response,
			Variants: []kb.Variant{{Text: p.ResponseText}},
			Intent:   p.Intent,
		}},
		Flows: []kb.Flow{{Name: p.Flow, Steps: steps()}},
		Rules: []kb.Rule{{Name: p.Rule, Steps: steps()}},
	}
}

// IntentName builds ask_<w1>_<w2> from the first two meaningful words of query.
// The same query always yields the same name.
func IntentName(query, id string) string {
	var words []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(strings.TrimSpace(query)), -1) {
		if len(w) <= 2 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		words = append(words, w)
	}

	var name string
	switch {
	case len(words) >= 2:
		name = "ask_" + words[0] + "_" + words[1]
	case len(words) == 1:
		name = "ask_" + words[0] + "_help"
	default:
		name = "ask_support_" + id
	}
	return invalidNameRun.ReplaceAllString(name, "")
}

// ResponseText picks the response text: the expected answer for negative
// feedback that has one, then the issue description, then a generic reply.
func ResponseText(item *feedback.Item) string {
	expected := usable(item.ExpectedAnswer)
	issue := usable(item.IssueDescription)
	switch {
	case item.Sentiment == feedback.SentimentNegative && expected != "":
		return "I can help you with that. " + expected
	case issue != "":
		return "I understand your concern about " + issue + ". Let me help you resolve this IT issue."
	default:
		return "I can assist you with that IT support request. Let me help you resolve this issue."
	}
}

// usable treats blank and "N/A" answers as absent.
func usable(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "n/a") {
		return ""
	}
	return s
}

// Variations returns up to four rephrasings of query.
func Variations(query string) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	out := []string{
		"Can you help me with " + q,
		"I need assistance with " + q,
		"How do I resolve " + q,
	}
	switch {
	case strings.Contains(q, "password"):
		out = append(out, "I'm having trouble with my password")
	case strings.Contains(q, "install"):
		out = append(out, "Help me install this software")
	case strings.Contains(q, "network") || strings.Contains(q, "internet"):
		out = append(out, "I'm having connectivity issues")
	case strings.Contains(q, "slow") || strings.Contains(q, "performance"):
		out = append(out, "My system is running slowly")
	}
	if len(out) > maxVariations {
		out = out[:maxVariations]
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// TemplateDrafter drafts additions offline from the feedback text alone.
type TemplateDrafter struct{}

// Draft implements Drafter. The output does not depend on attempt.
func (TemplateDrafter) Draft(ctx context.Context, item *feedback.Item, attempt int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return artifact.Render(PlanFor(item).Bundle())
}

// Package merge folds a validated artifact bundle into a knowledge-base
// snapshot without overwriting anything that already exists.
package merge

import (
	"errors"
	"fmt"

	"github.com/Lightming99/RaSa-Metaconverse/internal/artifact"
	"github.com/Lightming99/RaSa-Metaconverse/internal/kb"
)

// ErrMerge is wrapped by every merge failure.
var ErrMerge = errors.New("merge failed")

// Counts records what a merge added.
type Counts struct {
	Intents       int `json:"intents"`
	DomainIntents int `json:"domain_intents"`
	Responses     int `json:"responses"`
	Actions       int `json:"actions"`
	Flows         int `json:"stories"`
	Rules         int `json:"rules"`
}

// Total is the number of collection entries added.
func (c Counts) Total() int {
	return c.Intents + c.DomainIntents + c.Responses + c.Actions + c.Flows + c.Rules
}

// Add returns the field-wise sum of c and o.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Intents:       c.Intents + o.Intents,
		DomainIntents: c.DomainIntents + o.DomainIntents,
		Responses:     c.Responses + o.Responses,
		Actions:       c.Actions + o.Actions,
		Flows:         c.Flows + o.Flows,
		Rules:         c.Rules + o.Rules,
	}
}

// Sections returns the files that changed, in write order.
func (c Counts) Sections() []kb.Section {
	var out []kb.Section
	if c.Intents > 0 {
		out = append(out, kb.SectionNLU)
	}
	if c.DomainIntents > 0 || c.Responses > 0 || c.Actions > 0 {
		out = append(out, kb.SectionDomain)
	}
	if c.Flows > 0 {
		out = append(out, kb.SectionStories)
	}
	if c.Rules > 0 {
		out = append(out, kb.SectionRules)
	}
	return out
}

// Merge returns a new knowledge base holding snapshot plus the entries of
// bundle whose keys are not already present. snapshot is not modified.
//
// Collections are merged in order: intents (also declared in the domain),
// responses (also registered as actions), stories, rules. Every response the
// merge adds must be reachable from a story or rule step, and the result must
// pass kb validation.
func Merge(snapshot *kb.KnowledgeBase, bundle *artifact.Bundle) (*kb.KnowledgeBase, Counts, error) {
	var c Counts
	if snapshot == nil || bundle == nil {
		return nil, c, fmt.Errorf("%w: snapshot and bundle are required", ErrMerge)
	}

	out, err := snapshot.Clone()
	if err != nil {
		return nil, c, fmt.Errorf("%w: %w", ErrMerge, err)
	}

	for _, in := range bundle.Intents {
		if out.AddIntent(in) {
			c.Intents++
		}
		if out.DeclareIntent(in.Name) {
			c.DomainIntents++
		}
	}

	var added []string
	for _, r := range bundle.Responses {
		hadAction := out.HasAction(r.Name)
		if !out.AddResponse(r) {
			continue
		}
		c.Responses++
		if !hadAction {
			c.Actions++
		}
		added = append(added, r.Name)
	}

	for _, f := range bundle.Flows {
		if out.AddFlow(f) {
			c.Flows++
		}
	}
	for _, r := range bundle.Rules {
		if out.AddRule(r) {
			c.Rules++
		}
	}

	reachable := out.ReachableActions()
	for _, name := range added {
		if _, ok := reachable[name]; !ok {
			return nil, c, fmt.Errorf("%w: new response %q is not used by any story or rule", ErrMerge, name)
		}
	}

	if err := out.Validate(); err != nil {
		return nil, c, fmt.Errorf("%w: %w", ErrMerge, err)
	}
	return out, c, nil
}

package kb

import (
	"fmt"
)

// Section identifies one knowledge-base file. Sections are listed in the order
// their collections are merged and written.
type Section string

const (
	SectionNLU     Section = "nlu"
	SectionDomain  Section = "domain"
	SectionStories Section = "stories"
	SectionRules   Section = "rules"
)

// Sections is every section in write order.
var Sections = []Section{SectionNLU, SectionDomain, SectionStories, SectionRules}

// RelPath returns the file path of a section relative to the knowledge-base root.
func (s Section) RelPath() string {
	switch s {
	case SectionNLU:
		return "data/nlu.yml"
	case SectionDomain:
		return "domain.yml"
	case SectionStories:
		return "data/stories.yml"
	case SectionRules:
		return "data/rules.yml"
	}
	return ""
}

// KnowledgeBase holds the four documents. A value returned by Store.Snapshot
// is owned by the caller; mutate a Clone when the original must survive.
type KnowledgeBase struct {
	NLU     NLUDocument
	Domain  DomainDocument
	Stories StoriesDocument
	Rules   RulesDocument
}

// New returns an empty knowledge base.
func New() *KnowledgeBase {
	kb := &KnowledgeBase{}
	kb.setVersions()
	return kb
}

func (kb *KnowledgeBase) setVersions() {
	for _, v := range []*string{&kb.NLU.Version, &kb.Domain.Version, &kb.Stories.Version, &kb.Rules.Version} {
		if *v == "" {
			*v = Version
		}
	}
}

// Clone returns a deep copy by re-encoding every document.
func (kb *KnowledgeBase) Clone() (*KnowledgeBase, error) {
	out := &KnowledgeBase{}
	for _, sec := range Sections {
		data, err := kb.Encode(sec)
		if err != nil {
			return nil, err
		}
		if err := out.decode(sec, data); err != nil {
			return nil, fmt.Errorf("kb: clone %s: %w", sec, err)
		}
	}
	out.setVersions()
	return out, nil
}

// Encode renders one section as YAML.
func (kb *KnowledgeBase) Encode(sec Section) ([]byte, error) {
	var doc any
	switch sec {
	case SectionNLU:
		doc = &kb.NLU
	case SectionDomain:
		doc = &kb.Domain
	case SectionStories:
		doc = &kb.Stories
	case SectionRules:
		doc = &kb.Rules
	default:
		return nil, fmt.Errorf("kb: unknown section %q", sec)
	}
	data, err := encodeDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("kb: encode %s: %w", sec, err)
	}
	return data, nil
}

func (kb *KnowledgeBase) decode(sec Section, data []byte) error {
	switch sec {
	case SectionNLU:
		return decodeDocument(data, &kb.NLU)
	case SectionDomain:
		return decodeDocument(data, &kb.Domain)
	case SectionStories:
		return decodeDocument(data, &kb.Stories)
	case SectionRules:
		return decodeDocument(data, &kb.Rules)
	}
	return fmt.Errorf("unknown section %q", sec)
}

// Intents returns the intents defined in the NLU document.
func (kb *KnowledgeBase) Intents() []Intent {
	var out []Intent
	for _, e := range kb.NLU.NLU {
		if e.Intent == "" {
			continue
		}
		out = append(out, Intent{Name: e.Intent, Examples: ParseExamples(e.Examples)})
	}
	return out
}

// DomainIntents returns the names in the domain intents list.
func (kb *KnowledgeBase) DomainIntents() []string {
	out := make([]string, 0, len(kb.Domain.Intents))
	for i := range kb.Domain.Intents {
		if name := intentNodeName(&kb.Domain.Intents[i]); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// KnownIntents returns the union of NLU and domain intent names.
func (kb *KnowledgeBase) KnownIntents() map[string]struct{} {
	known := make(map[string]struct{})
	for _, in := range kb.Intents() {
		known[in.Name] = struct{}{}
	}
	for _, name := range kb.DomainIntents() {
		known[name] = struct{}{}
	}
	return known
}

// HasIntent reports whether the NLU document defines name.
func (kb *KnowledgeBase) HasIntent(name string) bool {
	for _, e := range kb.NLU.NLU {
		if e.Intent == name {
			return true
		}
	}
	return false
}

// HasDomainIntent reports whether the domain intents list declares name.
func (kb *KnowledgeBase) HasDomainIntent(name string) bool {
	for _, n := range kb.DomainIntents() {
		if n == name {
			return true
		}
	}
	return false
}

// HasResponse reports whether a response named name exists.
func (kb *KnowledgeBase) HasResponse(name string) bool {
	for _, r := range kb.Domain.Responses {
		if r.Name == name {
			return true
		}
	}
	return false
}

// HasAction reports whether the domain actions list contains name.
func (kb *KnowledgeBase) HasAction(name string) bool {
	for _, a := range kb.Domain.Actions {
		if a == name {
			return true
		}
	}
	return false
}

// HasFlow reports whether a story named name exists.
func (kb *KnowledgeBase) HasFlow(name string) bool {
	for _, f := range kb.Stories.Stories {
		if f.Name == name {
			return true
		}
	}
	return false
}

// HasRule reports whether a rule named name exists.
func (kb *KnowledgeBase) HasRule(name string) bool {
	for _, r := range kb.Rules.Rules {
		if r.Name == name {
			return true
		}
	}
	return false
}

// AddIntent appends an NLU intent unless one with the same name exists.
func (kb *KnowledgeBase) AddIntent(in Intent) bool {
	if kb.HasIntent(in.Name) {
		return false
	}
	kb.NLU.NLU = append(kb.NLU.NLU, NLUEntry{Intent: in.Name, Examples: FormatExamples(in.Examples)})
	return true
}

// DeclareIntent appends name to the domain intents list if missing.
func (kb *KnowledgeBase) DeclareIntent(name string) bool {
	if kb.HasDomainIntent(name) {
		return false
	}
	kb.Domain.Intents = append(kb.Domain.Intents, intentNode(name))
	return true
}

// AddResponse appends a response unless one with the same name exists. A new
// response is also registered in the actions list.
func (kb *KnowledgeBase) AddResponse(r Response) bool {
	if kb.HasResponse(r.Name) {
		return false
	}
	kb.Domain.Responses = append(kb.Domain.Responses, Response{Name: r.Name, Variants: r.Variants})
	if !kb.HasAction(r.Name) {
		kb.Domain.Actions = append(kb.Domain.Actions, r.Name)
	}
	return true
}

// AddFlow appends a story unless one with the same name exists.
func (kb *KnowledgeBase) AddFlow(f Flow) bool {
	if kb.HasFlow(f.Name) {
		return false
	}
	kb.Stories.Stories = append(kb.Stories.Stories, f)
	return true
}

// AddRule appends a rule unless one with the same name exists.
func (kb *KnowledgeBase) AddRule(r Rule) bool {
	if kb.HasRule(r.Name) {
		return false
	}
	kb.Rules.Rules = append(kb.Rules.Rules, r)
	return true
}

// ReachableActions returns every action referenced by a story or rule step.
func (kb *KnowledgeBase) ReachableActions() map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range kb.Stories.Stories {
		for _, s := range f.Steps {
			if s.Action != "" {
				out[s.Action] = struct{}{}
			}
		}
	}
	for _, r := range kb.Rules.Rules {
		for _, s := range r.Steps {
			if s.Action != "" {
				out[s.Action] = struct{}{}
			}
		}
	}
	return out
}

// DecodeSection parses YAML for one section into kb.
func DecodeSection(kb *KnowledgeBase, sec Section, data []byte) error {
	return kb.decode(sec, data)
}

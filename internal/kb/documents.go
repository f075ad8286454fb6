package kb

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// NLUDocument is data/nlu.yml.
type NLUDocument struct {
	Version string         `yaml:"version"`
	NLU     []NLUEntry     `yaml:"nlu"`
	Extra   map[string]any `yaml:",inline"`
}

// NLUEntry is one item of the nlu list. Entries other than intents
// (synonym, regex, lookup) keep their keys in Extra.
type NLUEntry struct {
	Intent   string         `yaml:"intent,omitempty"`
	Examples string         `yaml:"examples,omitempty"`
	Extra    map[string]any `yaml:",inline"`
}

// DomainDocument is domain.yml. Intents entries are either a bare name or a
// single-key mapping with per-intent options, so they are kept as nodes.
type DomainDocument struct {
	Version   string         `yaml:"version"`
	Intents   []yaml.Node    `yaml:"intents,omitempty"`
	Responses Responses      `yaml:"responses,omitempty"`
	Actions   []string       `yaml:"actions,omitempty"`
	Extra     map[string]any `yaml:",inline"`
}

// StoriesDocument is data/stories.yml.
type StoriesDocument struct {
	Version string         `yaml:"version"`
	Stories []Flow         `yaml:"stories"`
	Extra   map[string]any `yaml:",inline"`
}

// RulesDocument is data/rules.yml.
type RulesDocument struct {
	Version string         `yaml:"version"`
	Rules   []Rule         `yaml:"rules"`
	Extra   map[string]any `yaml:",inline"`
}

// Responses is the domain responses mapping, kept in file order.
type Responses []Response

// UnmarshalYAML decodes a name → variants mapping without losing order.
func (r *Responses) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: responses must be a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		var variants []Variant
		if err := node.Content[i+1].Decode(&variants); err != nil {
			return fmt.Errorf("response %q: %w", node.Content[i].Value, err)
		}
		*r = append(*r, Response{Name: node.Content[i].Value, Variants: variants})
	}
	return nil
}

// MarshalYAML encodes the responses as an ordered mapping.
func (r Responses) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, resp := range r {
		var value yaml.Node
		if err := value.Encode(resp.Variants); err != nil {
			return nil, fmt.Errorf("response %q: %w", resp.Name, err)
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: resp.Name},
			&value)
	}
	return node, nil
}

// intentNodeName returns the intent name of a domain intents entry.
func intentNodeName(n *yaml.Node) string {
	switch n.Kind {
	case yaml.ScalarNode:
		return n.Value
	case yaml.MappingNode:
		if len(n.Content) > 0 {
			return n.Content[0].Value
		}
	}
	return ""
}

func intentNode(name string) yaml.Node {
	return yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name}
}

// decodeDocument parses YAML into out. Empty input leaves out untouched.
func decodeDocument(data []byte, out any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return yaml.Unmarshal(data, out)
}

// encodeDocument renders a document with two-space indentation.
func encodeDocument(doc any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

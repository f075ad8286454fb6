// Package kbtest provides a small knowledge-base fixture for tests.
package kbtest

import (
	"os"
	"path/filepath"
	"testing"
)

const NLU = `version: "3.1"
nlu:
  - intent: greet
    examples: |
      - hey
      - hello
  - intent: ask_password_reset
    examples: |
      - how do I reset my password
      - forgot my password
  - synonym: vpn
    examples: |
      - virtual private network
`

const Domain = `version: "3.1"
intents:
  - greet
  - ask_password_reset:
      use_entities: []
slots:
  device:
    type: text
    mappings:
      - type: from_text
responses:
  utter_greet:
    - text: Hello! How can I help you today?
  utter_ask_password_reset:
    - text: Open the self-service portal and choose "Forgot password".
actions:
  - utter_greet
  - utter_ask_password_reset
  - action_check_ticket
session_config:
  session_expiration_time: 60
  carry_over_slots_to_new_session: true
`

const Stories = `version: "3.1"
stories:
  - story: greet path
    steps:
      - intent: greet
      - action: utter_greet
`

const Rules = `version: "3.1"
rules:
  - rule: password reset
    steps:
      - intent: ask_password_reset
      - action: utter_ask_password_reset
  - rule: ticket lookup
    conversation_start: true
    steps:
      - intent: greet
      - action: action_check_ticket
`

// Files maps relative paths to fixture content.
var Files = map[string]string{
	"data/nlu.yml":     NLU,
	"domain.yml":       Domain,
	"data/stories.yml": Stories,
	"data/rules.yml":   Rules,
}

// Write creates the fixture under a new temp dir and returns the root.
func Write(t testing.TB) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range Files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("kbtest: mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("kbtest: write %s: %v", rel, err)
		}
	}
	return root
}

// ReadAll returns the current content of the four files keyed by relative path.
// Missing files are returned as empty strings.
func ReadAll(t testing.TB, root string) map[string]string {
	t.Helper()
	out := make(map[string]string, len(Files))
	for rel := range Files {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil && !os.IsNotExist(err) {
			t.Fatalf("kbtest: read %s: %v", rel, err)
		}
		out[rel] = string(data)
	}
	return out
}

package kb_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lightming99/RaSa-Metaconverse/internal/kb"
	"github.com/Lightming99/RaSa-Metaconverse/internal/kb/kbtest"
)

func TestStore_Snapshot(t *testing.T) {
	store := kb.NewStore(kbtest.Write(t))

	snap, err := store.Snapshot(context.Background())
	require.NoError(t, err)

	intents := snap.Intents()
	require.Len(t, intents, 2)
	assert.Equal(t, "greet", intents[0].Name)
	assert.Equal(t, []string{"hey", "hello"}, intents[0].Examples)

	assert.Equal(t, []string{"greet", "ask_password_reset"}, snap.DomainIntents())
	require.Len(t, snap.Domain.Responses, 2)
	assert.Equal(t, "utter_greet", snap.Domain.Responses[0].Name)
	assert.Equal(t, []string{"Hello! How can I help you today?"}, snap.Domain.Responses[0].Texts())
	assert.True(t, snap.HasAction("action_check_ticket"))
	assert.True(t, snap.HasFlow("greet path"))
	assert.True(t, snap.HasRule("ticket lookup"))
	assert.Contains(t, snap.Domain.Extra, "session_config")
	assert.Equal(t, true, snap.Rules.Rules[1].Extra["conversation_start"])

	require.NoError(t, snap.Validate())
}

func TestStore_SnapshotMissingFiles(t *testing.T) {
	snap, err := kb.NewStore(t.TempDir()).Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Intents())
	assert.Equal(t, kb.Version, snap.NLU.Version)
	assert.NoError(t, snap.Validate())
}

func TestStore_SnapshotParseError(t *testing.T) {
	for _, rel := range []string{"data/nlu.yml", "domain.yml", "data/stories.yml", "data/rules.yml"} {
		t.Run(rel, func(t *testing.T) {
			root := kbtest.Write(t)
			require.NoError(t, os.WriteFile(filepath.Join(root, filepath.FromSlash(rel)), []byte("responses: [unclosed"), 0644))

			_, err := kb.NewStore(root).Snapshot(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), rel)

			assert.Error(t, kb.NewStore(root).Verify(context.Background()))
		})
	}
}

func TestStore_SnapshotCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := kb.NewStore(kbtest.Write(t)).Snapshot(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKnowledgeBase_RoundTripPreservesContent(t *testing.T) {
	root := kbtest.Write(t)
	store := kb.NewStore(root)
	ctx := context.Background()

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Write(ctx, snap, kb.Sections))

	again, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.Intents(), again.Intents())
	assert.Equal(t, snap.DomainIntents(), again.DomainIntents())
	assert.Equal(t, snap.Domain.Responses, again.Domain.Responses)
	assert.Equal(t, snap.Domain.Actions, again.Domain.Actions)
	assert.Equal(t, snap.Stories.Stories, again.Stories.Stories)
	assert.Equal(t, snap.Rules.Rules, again.Rules.Rules)
	assert.Contains(t, again.Domain.Extra, "slots")
	assert.Len(t, again.NLU.NLU, 3, "synonym entries survive")
	require.NoError(t, store.Verify(ctx))
}

func TestKnowledgeBase_CloneIsIndependent(t *testing.T) {
	snap, err := kb.NewStore(kbtest.Write(t)).Snapshot(context.Background())
	require.NoError(t, err)

	clone, err := snap.Clone()
	require.NoError(t, err)
	assert.True(t, clone.AddIntent(kb.Intent{Name: "ask_vpn_setup", Examples: []string{"set up vpn"}}))
	assert.True(t, clone.AddResponse(kb.Response{Name: "utter_ask_vpn_setup", Variants: []kb.Variant{{Text: "Install the client."}}}))

	assert.False(t, snap.HasIntent("ask_vpn_setup"))
	assert.False(t, snap.HasResponse("utter_ask_vpn_setup"))
	assert.True(t, clone.HasAction("utter_ask_vpn_setup"), "new response is registered as an action")
}

func TestKnowledgeBase_AddSkipsExisting(t *testing.T) {
	snap, err := kb.NewStore(kbtest.Write(t)).Snapshot(context.Background())
	require.NoError(t, err)

	assert.False(t, snap.AddIntent(kb.Intent{Name: "greet", Examples: []string{"yo"}}))
	assert.False(t, snap.DeclareIntent("ask_password_reset"), "mapping-style intents count as declared")
	assert.False(t, snap.AddResponse(kb.Response{Name: "utter_greet", Variants: []kb.Variant{{Text: "other"}}}))
	assert.False(t, snap.AddFlow(kb.Flow{Name: "greet path"}))
	assert.False(t, snap.AddRule(kb.Rule{Name: "password reset"}))

	assert.Equal(t, []string{"hey", "hello"}, snap.Intents()[0].Examples)
	assert.Equal(t, "Hello! How can I help you today?", snap.Domain.Responses[0].Variants[0].Text)
}

func TestKnowledgeBase_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*kb.KnowledgeBase)
		want   string
	}{
		{
			name: "duplicate intent",
			mutate: func(k *kb.KnowledgeBase) {
				k.NLU.NLU = append(k.NLU.NLU, kb.NLUEntry{Intent: "greet", Examples: "- hi\n"})
			},
			want: `duplicate intent "greet"`,
		},
		{
			name: "duplicate response",
			mutate: func(k *kb.KnowledgeBase) {
				k.Domain.Responses = append(k.Domain.Responses, kb.Response{Name: "utter_greet"})
			},
			want: `duplicate response "utter_greet"`,
		},
		{
			name: "undefined response",
			mutate: func(k *kb.KnowledgeBase) {
				k.Stories.Stories = append(k.Stories.Stories, kb.Flow{Name: "x", Steps: []kb.Step{kb.IntentStep("greet"), kb.ActionStep("utter_missing")}})
			},
			want: `undefined response "utter_missing"`,
		},
		{
			name: "undeclared intent",
			mutate: func(k *kb.KnowledgeBase) {
				k.Rules.Rules = append(k.Rules.Rules, kb.Rule{Name: "y", Steps: []kb.Step{kb.IntentStep("ask_ghost"), kb.ActionStep("utter_greet")}})
			},
			want: `undeclared intent "ask_ghost"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := kb.NewStore(kbtest.Write(t)).Snapshot(context.Background())
			require.NoError(t, err)
			tt.mutate(snap)

			err = snap.Validate()
			require.ErrorIs(t, err, kb.ErrIntegrity)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("builtin intents and custom actions are allowed", func(t *testing.T) {
		snap, err := kb.NewStore(kbtest.Write(t)).Snapshot(context.Background())
		require.NoError(t, err)
		snap.Rules.Rules = append(snap.Rules.Rules, kb.Rule{Name: "fallback", Steps: []kb.Step{kb.IntentStep("nlu_fallback"), kb.ActionStep("action_default_fallback")}})
		assert.NoError(t, snap.Validate())
	})
}

func TestStore_WriteStopsAtFirstFailure(t *testing.T) {
	root := kbtest.Write(t)
	boom := errors.New("disk full")
	var hooked []string
	store := kb.NewStore(root,
		kb.WithWriteFunc(func(path string, data []byte, perm os.FileMode) error {
			if filepath.Base(path) == "stories.yml" {
				return boom
			}
			return os.WriteFile(path, data, perm)
		}),
		kb.WithWriteHook(func(path string) { hooked = append(hooked, filepath.Base(path)) }),
	)
	ctx := context.Background()
	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)

	err = store.Write(ctx, snap, []kb.Section{kb.SectionRules, kb.SectionStories, kb.SectionNLU})

	var werr *kb.WriteError
	require.ErrorAs(t, err, &werr)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, kb.SectionStories, werr.Section)
	assert.Equal(t, []kb.Section{kb.SectionNLU}, werr.Written)
	assert.Equal(t, []string{"nlu.yml", "stories.yml"}, hooked)
}

func TestStore_VerifyDetectsBrokenReference(t *testing.T) {
	root := kbtest.Write(t)
	broken := kbtest.Rules + `  - rule: dangling
    steps:
      - intent: greet
      - action: utter_nowhere
`
	require.NoError(t, os.WriteFile(filepath.Join(root, "data", "rules.yml"), []byte(broken), 0644))

	err := kb.NewStore(root).Verify(context.Background())
	require.ErrorIs(t, err, kb.ErrIntegrity)
	assert.Contains(t, err.Error(), "utter_nowhere")
}

func TestParseExamples(t *testing.T) {
	assert.Equal(t, []string{"a", "b c"}, kb.ParseExamples("- a\n\n  - b c  \n-\n"))
	assert.Equal(t, "- a\n- b\n", kb.FormatExamples([]string{"a", " b "}))
}

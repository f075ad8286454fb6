package redact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const openAIKey = "sk-proj-abcdefghijklmnopqrstuvwxyz1234567890123456"

func TestRedactor_Redact(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)

	content := `my script fails with key="` + openAIKey + `" when I run it`
	out, n, err := r.Redact(content)
	require.NoError(t, err)

	if n == 0 {
		t.Skip("rule set did not flag the sample key")
	}
	assert.NotContains(t, out, openAIKey)
	assert.Contains(t, out, "[REDACTED:")
	assert.Contains(t, out, "my script fails with")
}

func TestRedactor_CleanText(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)

	content := "my laptop will not connect to the office wifi"
	out, n, err := r.Redact(content)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, content, out)

	out, n, err = r.Redact("   ")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "   ", out)
}

func TestRedactor_Allowlist(t *testing.T) {
	plain, err := New(nil)
	require.NoError(t, err)
	content := `key="` + openAIKey + `"`
	if _, n, _ := plain.Redact(content); n == 0 {
		t.Skip("rule set did not flag the sample key")
	}

	allowed, err := New(&Allowlist{Regexes: []string{`sk-proj-abcdefghijklmnop`}})
	require.NoError(t, err)
	out, n, err := allowed.Redact(content)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, content, out)
}

func TestNew_InvalidRegex(t *testing.T) {
	_, err := New(&Allowlist{Regexes: []string{"("}})
	assert.ErrorIs(t, err, ErrInvalidRegex)
}

func TestLoadAllowlist(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		al, err := LoadAllowlist(filepath.Join(dir, "nope.toml"))
		require.NoError(t, err)
		assert.Empty(t, al.Regexes)
	})

	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(dir, "allowlist.toml")
		require.NoError(t, os.WriteFile(path, []byte("[allowlist]\nregexes = [\"DEMO_[A-Z]+\"]\n"), 0600))
		al, err := LoadAllowlist(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"DEMO_[A-Z]+"}, al.Regexes)
	})

	t.Run("bad toml", func(t *testing.T) {
		path := filepath.Join(dir, "bad.toml")
		require.NoError(t, os.WriteFile(path, []byte("[allowlist\n"), 0600))
		_, err := LoadAllowlist(path)
		assert.ErrorIs(t, err, ErrInvalidTOML)
	})

	t.Run("bad regex", func(t *testing.T) {
		path := filepath.Join(dir, "regex.toml")
		require.NoError(t, os.WriteFile(path, []byte("[allowlist]\nregexes = [\"(\"]\n"), 0600))
		_, err := LoadAllowlist(path)
		assert.ErrorIs(t, err, ErrInvalidRegex)
	})
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "sk-p", preview(openAIKey, 4))
	assert.Equal(t, "ab", preview("ab", 4))
	assert.True(t, strings.HasPrefix(marker(Finding{RuleID: "openai-api-key", Match: openAIKey}), "[REDACTED:openai-api-key:sk-p]"))
}

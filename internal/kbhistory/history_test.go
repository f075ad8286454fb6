package kbhistory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Lightming99/RaSa-Metaconverse/internal/kb"
	"github.com/Lightming99/RaSa-Metaconverse/internal/kb/kbtest"
)

func tracked() []string {
	var out []string
	for _, sec := range kb.Sections {
		out = append(out, sec.RelPath())
	}
	return out
}

func TestOpen_Validation(t *testing.T) {
	_, err := Open("", tracked(), nil)
	assert.EqualError(t, err, "root is required")
	_, err = Open(t.TempDir(), nil, nil)
	assert.EqualError(t, err, "at least one tracked path is required")
}

func TestRecorder_CommitAndLog(t *testing.T) {
	ctx := context.Background()
	root := kbtest.Write(t)
	when := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

	r, err := Open(root, tracked(), zap.NewNop(), WithClock(func() time.Time { return when }))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, ".gitignore"))

	entries, err := r.Log(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	first, err := r.Commit(ctx, "Initial knowledge base")
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	// nothing changed
	none, err := r.Commit(ctx, "noop")
	require.NoError(t, err)
	assert.Empty(t, none)

	nlu := filepath.Join(root, "data", "nlu.yml")
	require.NoError(t, os.WriteFile(nlu, []byte(kbtest.NLU+"# learned\n"), 0644))
	second, err := r.Commit(ctx, "Learn from feedback 42")
	require.NoError(t, err)
	assert.NotEmpty(t, second)
	assert.NotEqual(t, first, second)

	entries, err = r.Log(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, second, entries[0].Hash)
	assert.Equal(t, "Learn from feedback 42", entries[0].Message)
	assert.Equal(t, defaultAuthorName, entries[0].Author)
	assert.True(t, when.Equal(entries[0].When))
	assert.Equal(t, first, entries[1].Hash)

	entries, err = r.Log(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRecorder_CommitsRemovalAndIgnoresUntrackedFiles(t *testing.T) {
	ctx := context.Background()
	root := kbtest.Write(t)
	r, err := Open(root, tracked(), nil, WithAuthor("ops", "ops@example.com"))
	require.NoError(t, err)
	_, err = r.Commit(ctx, "Initial knowledge base")
	require.NoError(t, err)

	// files outside the tracked set never produce a commit
	require.NoError(t, os.WriteFile(filepath.Join(root, "config.yml"), []byte("pipeline: []\n"), 0644))
	hash, err := r.Commit(ctx, "unrelated")
	require.NoError(t, err)
	assert.Empty(t, hash)

	require.NoError(t, os.Remove(filepath.Join(root, "data", "rules.yml")))
	hash, err = r.Commit(ctx, "Restore backup backup_20260314_150926")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	repo, err := git.PlainOpen(root)
	require.NoError(t, err)
	head, err := repo.Head()
	require.NoError(t, err)
	commit, err := repo.CommitObject(head.Hash())
	require.NoError(t, err)
	assert.Equal(t, "ops", commit.Author.Name)
	_, err = commit.File("data/rules.yml")
	assert.ErrorIs(t, err, object.ErrFileNotFound)
	_, err = commit.File("config.yml")
	assert.Error(t, err)
}

func TestOpen_ExistingRepository(t *testing.T) {
	root := kbtest.Write(t)
	_, err := git.PlainInit(root, false)
	require.NoError(t, err)

	r, err := Open(root, tracked(), nil)
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(root, ".gitignore"))

	hash, err := r.Commit(context.Background(), "Initial knowledge base")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
}

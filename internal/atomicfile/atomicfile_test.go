package atomicfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "domain.yml")

	require.NoError(t, WriteFile(path, []byte("version: '3.1'\n"), 0644))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "version: '3.1'\n", string(got))

	t.Run("overwrites existing content", func(t *testing.T) {
		require.NoError(t, WriteFile(path, []byte("intents: []\n"), 0644))

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "intents: []\n", string(got))
	})

	t.Run("leaves no temp files behind", func(t *testing.T) {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "domain.yml", entries[0].Name())
	})
}

func TestWriteFile_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "nlu.yml")

	err := WriteFile(path, []byte("x"), 0644)
	require.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "rules.yml")
	dst := filepath.Join(dir, "copy.yml")
	require.NoError(t, os.WriteFile(src, []byte("rules: []\n"), 0644))

	data, err := CopyFile(src, dst, 0644)
	require.NoError(t, err)
	assert.Equal(t, "rules: []\n", string(data))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = CopyFile(filepath.Join(dir, "nope.yml"), dst, 0644)
	assert.True(t, os.IsNotExist(err))
}

func TestRandomSuffix(t *testing.T) {
	a, b := randomSuffix(), randomSuffix()
	assert.Len(t, a, 16)
	assert.NotEqual(t, a, b)
}

// Package atomicfile replaces files so that a reader observes either the old
// content or the new content, never a partial write.
package atomicfile

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteFile writes data to a temp file next to path, fsyncs it and renames it
// over path. The parent directory is synced after the rename.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmpPath := filepath.Join(dir, "."+filepath.Base(path)+".tmp."+randomSuffix())

	// O_EXCL: never reuse a stale temp file left by a crashed writer
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("atomicfile: create temp file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("atomicfile: write %s: %w", path, err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("atomicfile: sync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("atomicfile: close %s: %w", path, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("atomicfile: finalize %s: %w", path, err)
	}

	return SyncDir(dir)
}

// CopyFile copies src to dst with WriteFile semantics and returns the bytes copied.
func CopyFile(src, dst string, perm os.FileMode) ([]byte, error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	data, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("atomicfile: read %s: %w", src, err)
	}
	if err := WriteFile(dst, data, perm); err != nil {
		return nil, err
	}
	return data, nil
}

// SyncDir fsyncs a directory so a completed rename survives a crash.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("atomicfile: open dir %s: %w", dir, err)
	}
	defer d.Close()
	// Some filesystems reject fsync on directories; the rename already happened.
	_ = d.Sync()
	return nil
}

func randomSuffix() string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%x", b)
}

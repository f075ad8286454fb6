// Package backup snapshots the knowledge-base files before a write and puts
// them back when the write or its verification fails.
//
// A backup is a directory named backup_YYYYmmdd_HHMMSS (with an _N suffix on
// collision) holding a copy of each file and a manifest.json with sha256
// digests. Backups are assembled in a temporary directory and renamed into
// place, so a backup directory is either complete or absent.
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Lightming99/RaSa-Metaconverse/internal/atomicfile"
	"github.com/Lightming99/RaSa-Metaconverse/internal/kb"
)

const (
	dirPrefix    = "backup_"
	tmpPrefix    = ".backup-tmp-"
	timeLayout   = "20060102_150405"
	manifestName = "manifest.json"
)

var (
	// ErrNoBackup is returned by Latest when no backup exists.
	ErrNoBackup = errors.New("no backup available")

	// ErrCorrupt is returned when a backup file does not match its manifest.
	ErrCorrupt = errors.New("backup is corrupt")
)

// FileEntry describes one knowledge-base file at backup time.
type FileEntry struct {
	Path    string `json:"path"`
	Present bool   `json:"present"`
	SHA256  string `json:"sha256,omitempty"`
	Size    int64  `json:"size"`
}

// Manifest is written as manifest.json inside each backup directory.
type Manifest struct {
	ID        string      `json:"id"`
	Sequence  int         `json:"sequence"`
	CreatedAt time.Time   `json:"created_at"`
	Reason    string      `json:"reason,omitempty"`
	Files     []FileEntry `json:"files"`
}

// Backup is a completed backup on disk.
type Backup struct {
	Manifest
	Dir string `json:"dir"`
}

// Manager creates, lists, restores and prunes backups of one knowledge base.
type Manager struct {
	store   *kb.Store
	dir     string
	now     func() time.Time
	onWrite func(path string)
	logger  *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithWriteHook registers a callback invoked before a restore touches a
// knowledge-base file.
func WithWriteHook(fn func(path string)) Option {
	return func(m *Manager) { m.onWrite = fn }
}

// NewManager returns a manager that keeps backups of store's files in dir.
func NewManager(store *kb.Store, dir string, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if dir == "" {
		return nil, errors.New("backup directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("backup: create dir: %w", err)
	}
	m := &Manager{
		store:  store,
		dir:    dir,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Dir returns the backup root directory.
func (m *Manager) Dir() string { return m.dir }

// Create copies the four knowledge-base files into a new backup.
func (m *Manager) Create(ctx context.Context, reason string) (*Backup, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := m.now()
	id, seq, err := m.nextID(now)
	if err != nil {
		return nil, err
	}

	tmp, err := os.MkdirTemp(m.dir, tmpPrefix)
	if err != nil {
		return nil, fmt.Errorf("backup: create temp dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(tmp) }

	manifest := Manifest{ID: id, Sequence: seq, CreatedAt: now, Reason: reason}
	for _, sec := range kb.Sections {
		entry, err := copyIn(m.store.Path(sec), filepath.Join(tmp, filepath.FromSlash(sec.RelPath())))
		if err != nil {
			cleanup()
			return nil, err
		}
		entry.Path = sec.RelPath()
		manifest.Files = append(manifest.Files, entry)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("backup: encode manifest: %w", err)
	}
	if err := atomicfile.WriteFile(filepath.Join(tmp, manifestName), data, 0644); err != nil {
		cleanup()
		return nil, err
	}

	final := filepath.Join(m.dir, id)
	if err := os.Rename(tmp, final); err != nil {
		cleanup()
		return nil, fmt.Errorf("backup: finalize %s: %w", id, err)
	}
	if err := atomicfile.SyncDir(m.dir); err != nil {
		return nil, err
	}

	m.logger.Info("knowledge base backed up",
		zap.String("backup_id", id),
		zap.String("reason", reason),
	)
	return &Backup{Manifest: manifest, Dir: final}, nil
}

func (m *Manager) nextID(now time.Time) (string, int, error) {
	base := dirPrefix + now.Format(timeLayout)
	id := base
	for seq := 0; ; seq++ {
		if seq > 0 {
			id = fmt.Sprintf("%s_%d", base, seq)
		}
		_, err := os.Stat(filepath.Join(m.dir, id))
		if errors.Is(err, fs.ErrNotExist) {
			return id, seq, nil
		}
		if err != nil {
			return "", 0, fmt.Errorf("backup: stat %s: %w", id, err)
		}
	}
}

func copyIn(src, dst string) (FileEntry, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return FileEntry{}, fmt.Errorf("backup: mkdir: %w", err)
	}
	data, err := atomicfile.CopyFile(src, dst, 0644)
	if errors.Is(err, fs.ErrNotExist) {
		return FileEntry{Present: false}, nil
	}
	if err != nil {
		return FileEntry{}, fmt.Errorf("backup: copy %s: %w", src, err)
	}
	return FileEntry{Present: true, SHA256: digest(data), Size: int64(len(data))}, nil
}

// List returns every complete backup, newest first.
func (m *Manager) List(ctx context.Context) ([]Backup, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("backup: list: %w", err)
	}

	var out []Backup
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() || !strings.HasPrefix(e.Name(), dirPrefix) {
			continue
		}
		b, err := m.load(e.Name())
		if err != nil {
			m.logger.Warn("skipping unreadable backup", zap.String("backup_id", e.Name()), zap.Error(err))
			continue
		}
		out = append(out, *b)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Sequence > out[j].Sequence
	})
	return out, nil
}

// Latest returns the newest backup.
func (m *Manager) Latest(ctx context.Context) (*Backup, error) {
	all, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, ErrNoBackup
	}
	return &all[0], nil
}

func (m *Manager) load(id string) (*Backup, error) {
	dir := filepath.Join(m.dir, id)
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &Backup{Manifest: manifest, Dir: dir}, nil
}

// Restore puts every file of b back into the knowledge base. Files absent at
// backup time are removed. Each restored file is re-read and checked against
// the manifest digest.
func (m *Manager) Restore(ctx context.Context, b *Backup) error {
	if b == nil {
		return ErrNoBackup
	}

	// check the whole backup before touching live files
	contents := make(map[string][]byte, len(b.Files))
	for _, f := range b.Files {
		if !f.Present {
			continue
		}
		data, err := os.ReadFile(filepath.Join(b.Dir, filepath.FromSlash(f.Path)))
		if err != nil {
			return fmt.Errorf("backup: read %s from %s: %w", f.Path, b.ID, err)
		}
		if digest(data) != f.SHA256 {
			return fmt.Errorf("%w: %s in %s", ErrCorrupt, f.Path, b.ID)
		}
		contents[f.Path] = data
	}

	// restore runs to completion once started
	for _, f := range b.Files {
		live := filepath.Join(m.store.Root(), filepath.FromSlash(f.Path))
		if m.onWrite != nil {
			m.onWrite(live)
		}
		if !f.Present {
			if err := os.Remove(live); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("backup: remove %s: %w", f.Path, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(live), 0755); err != nil {
			return fmt.Errorf("backup: mkdir: %w", err)
		}
		if err := atomicfile.WriteFile(live, contents[f.Path], kb.FileMode); err != nil {
			return err
		}
		got, err := os.ReadFile(live)
		if err != nil {
			return fmt.Errorf("backup: reread %s: %w", f.Path, err)
		}
		if digest(got) != f.SHA256 {
			return fmt.Errorf("backup: restored %s does not match backup %s", f.Path, b.ID)
		}
	}

	m.logger.Warn("knowledge base restored from backup", zap.String("backup_id", b.ID))
	return nil
}

// RestoreLatest restores the newest backup.
func (m *Manager) RestoreLatest(ctx context.Context) (*Backup, error) {
	b, err := m.Latest(ctx)
	if err != nil {
		return nil, err
	}
	return b, m.Restore(ctx, b)
}

// Prune deletes all but the newest keep backups and returns the removed ids.
func (m *Manager) Prune(ctx context.Context, keep int) ([]string, error) {
	if keep < 0 {
		return nil, fmt.Errorf("backup: keep must be >= 0, got %d", keep)
	}
	all, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(all) <= keep {
		return nil, nil
	}

	var removed []string
	for _, b := range all[keep:] {
		if err := os.RemoveAll(b.Dir); err != nil {
			return removed, fmt.Errorf("backup: remove %s: %w", b.ID, err)
		}
		removed = append(removed, b.ID)
	}
	m.logger.Info("pruned backups", zap.Int("removed", len(removed)), zap.Int("kept", keep))
	return removed, nil
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

package kbwatch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Lightming99/RaSa-Metaconverse/internal/atomicfile"
	"github.com/Lightming99/RaSa-Metaconverse/internal/kb"
	"github.com/Lightming99/RaSa-Metaconverse/internal/kb/kbtest"
)

type recorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recorder) add(c Change) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

func (r *recorder) last() Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changes[len(r.changes)-1]
}

func startWatcher(t *testing.T, root string, opts ...Option) (*Watcher, *recorder) {
	t.Helper()
	rec := &recorder{}
	store := kb.NewStore(root)
	w, err := New(store.Paths(), zap.NewNop(), append(opts, WithNotify(rec.add))...)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w, rec
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, zap.NewNop())
	assert.ErrorContains(t, err, "at least one path")

	_, err = New([]string{"domain.yml"}, nil)
	assert.ErrorContains(t, err, "logger cannot be nil")
}

func TestWatcher_ReportsExternalEdit(t *testing.T) {
	root := kbtest.Write(t)
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_external_edits_total"})
	_, rec := startWatcher(t, root, WithCounter(counter), WithWindow(100*time.Millisecond))

	domain := filepath.Join(root, "domain.yml")
	require.NoError(t, os.WriteFile(domain, []byte(kbtest.Domain+"# hand edit\n"), 0644))

	require.Eventually(t, func() bool { return rec.len() >= 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain, rec.last().Path)
	assert.GreaterOrEqual(t, testutil.ToFloat64(counter), float64(1))
}

func TestWatcher_IgnoresExpectedWrites(t *testing.T) {
	root := kbtest.Write(t)
	w, rec := startWatcher(t, root, WithWindow(time.Minute))

	ctx := context.Background()
	store := kb.NewStore(root, kb.WithWriteHook(w.Expect))
	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Write(ctx, snap, []kb.Section{kb.SectionRules, kb.SectionDomain}))

	path := store.Path(kb.SectionNLU)
	w.Expect(path)
	require.NoError(t, atomicfile.WriteFile(path, []byte(kbtest.NLU), kb.FileMode))

	assert.Never(t, func() bool { return rec.len() > 0 }, 300*time.Millisecond, 20*time.Millisecond)
}

func TestWatcher_IgnoresUnwatchedFiles(t *testing.T) {
	root := kbtest.Write(t)
	_, rec := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "data", "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "config.yml"), []byte("x"), 0644))

	assert.Never(t, func() bool { return rec.len() > 0 }, 300*time.Millisecond, 20*time.Millisecond)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	root := kbtest.Write(t)
	w, err := New(kb.NewStore(root).Paths(), zap.NewNop())
	require.NoError(t, err)

	// never started
	w.Stop()
	w.Stop()
}

package monitor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lightming99/RaSa-Metaconverse/internal/feedback"
	apihttp "github.com/Lightming99/RaSa-Metaconverse/internal/http"
	"github.com/Lightming99/RaSa-Metaconverse/internal/operations"
)

type fakeSource struct {
	healthErr error
	opsErr    error
	stats     feedback.Stats
	ops       []operations.Operation
}

func (f *fakeSource) BaseURL() string { return "http://localhost:8088" }

func (f *fakeSource) Health(ctx context.Context) (*apihttp.HealthResponse, error) {
	if f.healthErr != nil {
		return nil, f.healthErr
	}
	return &apihttp.HealthResponse{Status: "ok", QueueDepth: 1}, nil
}

func (f *fakeSource) Stats(ctx context.Context) (*feedback.Stats, error) {
	s := f.stats
	return &s, nil
}

func (f *fakeSource) Threshold(ctx context.Context) (int, error) { return 5, nil }

func (f *fakeSource) Operations(ctx context.Context, limit int) ([]operations.Operation, error) {
	if f.opsErr != nil {
		return nil, f.opsErr
	}
	return f.ops, nil
}

func TestNewModel(t *testing.T) {
	src := &fakeSource{}
	model := NewModel(src, 5*time.Second)
	assert.Same(t, src, model.source)
	assert.Equal(t, 5*time.Second, model.interval)
	assert.False(t, model.quitting)
}

func TestModel_Init(t *testing.T) {
	model := NewModel(&fakeSource{}, 5*time.Second)
	assert.NotNil(t, model.Init())
}

func TestModel_Update_QuitKey(t *testing.T) {
	model := NewModel(&fakeSource{}, 5*time.Second)

	updated, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})

	m := updated.(Model)
	assert.True(t, m.quitting)
	assert.NotNil(t, cmd)
	assert.Empty(t, m.View())
}

func TestModel_Update_RefreshKey(t *testing.T) {
	model := NewModel(&fakeSource{}, 5*time.Second)

	updated, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})

	assert.False(t, updated.(Model).quitting)
	assert.NotNil(t, cmd)
}

func TestModel_Update_TickMsg(t *testing.T) {
	model := NewModel(&fakeSource{}, 5*time.Second)

	updated, cmd := model.Update(tickMsg(time.Now()))

	assert.False(t, updated.(Model).quitting)
	assert.NotNil(t, cmd)
}

func TestFetchSnapshot(t *testing.T) {
	src := &fakeSource{
		stats: feedback.Stats{Total: 4, Unprocessed: 1, Processed: 3},
		ops:   []operations.Operation{{ID: "op-1", Kind: "pass", Status: operations.StatusCompleted}},
	}

	msg := fetchSnapshot(src)()
	snap, ok := msg.(snapshotMsg)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, "ok", snap.Status)
	assert.Equal(t, 1, snap.QueueDepth)
	assert.Equal(t, 5, snap.Threshold)
	assert.Equal(t, 3, snap.Stats.Processed)
	assert.Len(t, snap.Operations, 1)

	t.Run("operations optional", func(t *testing.T) {
		src.opsErr = errors.New("disabled")
		snap, ok := fetchSnapshot(src)().(snapshotMsg)
		require.True(t, ok)
		assert.Empty(t, snap.Operations)
	})

	t.Run("health failure", func(t *testing.T) {
		src.healthErr = errors.New("connection refused")
		_, ok := fetchSnapshot(src)().(errMsg)
		assert.True(t, ok)
	})
}

func TestModel_Update_SnapshotMsg(t *testing.T) {
	model := NewModel(&fakeSource{}, 5*time.Second)
	model.err = errors.New("stale")

	for i := 0; i < historySize+5; i++ {
		updated, cmd := model.Update(snapshotMsg{
			Status:     "ok",
			QueueDepth: i % 2,
			Threshold:  5,
			Stats:      feedback.Stats{Unprocessed: i, Processed: 2},
		})
		assert.Nil(t, cmd)
		model = updated.(Model)
	}

	assert.Nil(t, model.err)
	assert.False(t, model.lastUpdate.IsZero())
	assert.Len(t, model.snapshot.UnprocessedHistory, historySize)
	assert.Equal(t, float64(historySize+4), model.snapshot.UnprocessedHistory[historySize-1])
	assert.Equal(t, 2, model.snapshot.Stats.Processed)
}

func TestModel_Update_ErrMsg(t *testing.T) {
	model := NewModel(&fakeSource{}, 5*time.Second)

	updated, cmd := model.Update(errMsg(fmt.Errorf("connection refused")))

	m := updated.(Model)
	require.Error(t, m.err)
	assert.Contains(t, m.err.Error(), "connection refused")
	assert.Nil(t, cmd)
}

func TestModel_View_WithSnapshot(t *testing.T) {
	model := NewModel(&fakeSource{}, 5*time.Second)
	model.lastUpdate = time.Date(2024, 1, 1, 12, 34, 56, 0, time.UTC)
	model.snapshot = Snapshot{
		Status:     "ok",
		QueueDepth: 1,
		Threshold:  5,
		Stats: feedback.Stats{
			Total: 1234, Unprocessed: 2, Processed: 3, Rejected: 1, Removable: 7,
			Positive: 1000, Negative: 234,
		},
		Operations: []operations.Operation{{
			ID:        "0123456789abcdef",
			Kind:      "training",
			Status:    operations.StatusFailed,
			Error:     "training command failed",
			CreatedAt: model.lastUpdate.Add(-90 * time.Second),
		}},
	}

	view := model.View()

	assert.Contains(t, view, "Learning Monitor")
	assert.Contains(t, view, "12:34:56")
	assert.Contains(t, view, "REJECTIONS")
	assert.Contains(t, view, "1,234")
	assert.Contains(t, view, "3/5")
	assert.Contains(t, view, "training")
	assert.Contains(t, view, "01234567")
	assert.Contains(t, view, "1m ago")
	assert.Contains(t, view, "training command failed")
	assert.Contains(t, view, "[q]")
	assert.Contains(t, view, "[r]")
}

func TestModel_View_WithError(t *testing.T) {
	model := NewModel(&fakeSource{}, 5*time.Second)
	model.err = fmt.Errorf("connection refused")

	view := model.View()

	assert.Contains(t, view, "Cannot reach the learning daemon")
	assert.Contains(t, view, "connection refused")
	assert.Contains(t, view, "http://localhost:8088")
	assert.Contains(t, view, "[q]")
	assert.Contains(t, view, "[r]")
}

func TestModel_View_NoData(t *testing.T) {
	model := NewModel(&fakeSource{}, 5*time.Second)

	view := model.View()

	assert.Contains(t, view, "Learning Monitor")
	assert.Contains(t, view, "DOWN")
	assert.Contains(t, view, "no data")
	assert.Contains(t, view, "[q]")
}

func TestTrainingRatio(t *testing.T) {
	assert.Equal(t, 0.0, trainingRatio(3, 0))
	assert.Equal(t, 0.6, trainingRatio(3, 5))
	assert.Equal(t, 1.0, trainingRatio(9, 5))
}

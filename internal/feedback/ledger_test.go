package feedback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lightming99/RaSa-Metaconverse/internal/sqlitedb"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := NewLedger(context.Background(), sqlitedb.OpenMemory(t))
	require.NoError(t, err)
	return l
}

func appendItem(t *testing.T, l *Ledger, query string) *Item {
	t.Helper()
	item := &Item{UserQuery: query, Sentiment: SentimentNegative, ExpectedAnswer: "Restart the router."}
	require.NoError(t, l.Append(context.Background(), item))
	return item
}

func TestNewLedger_RequiresDB(t *testing.T) {
	_, err := NewLedger(context.Background(), nil)
	assert.EqualError(t, err, "db is required")
}

func TestLedger_AppendAndGet(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	item := &Item{
		MessageIndex:     3,
		UserQuery:        "my vpn keeps dropping",
		PriorResponse:    "Try again later.",
		ResponseSource:   "rasa",
		Sentiment:        SentimentNegative,
		IssueDescription: "unhelpful",
		ExpectedAnswer:   "Reinstall the VPN client.",
	}
	require.NoError(t, l.Append(ctx, item))
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, StatusUnprocessed, item.Status)

	got, err := l.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.UserQuery, got.UserQuery)
	assert.Equal(t, item.PriorResponse, got.PriorResponse)
	assert.Equal(t, item.ExpectedAnswer, got.ExpectedAnswer)
	assert.Equal(t, 3, got.MessageIndex)
	assert.Equal(t, StatusUnprocessed, got.Status)
	assert.Zero(t, got.RetryCount)
	assert.Nil(t, got.ProcessedAt)

	_, err = l.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLedger_AppendValidation(t *testing.T) {
	l := newTestLedger(t)
	tests := []struct {
		name string
		item *Item
		want string
	}{
		{"nil", nil, "item is required"},
		{"empty query", &Item{Sentiment: SentimentPositive}, "user_query is required"},
		{"bad sentiment", &Item{UserQuery: "q", Sentiment: "meh"}, "feedback_type must be"},
		{"negative index", &Item{UserQuery: "q", Sentiment: SentimentPositive, MessageIndex: -1}, "message_index"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.Append(context.Background(), tt.item)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLedger_ListUnprocessedOrder(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, q := range []string{"first", "second", "third"} {
		item := &Item{UserQuery: q, Sentiment: SentimentPositive, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, l.Append(ctx, item))
	}

	items, err := l.ListUnprocessed(ctx)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "first", items[0].UserQuery)
	assert.Equal(t, "third", items[2].UserQuery)
	assert.True(t, items[0].CreatedAt.Equal(base))
}

func TestLedger_MarkProcessed(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	a := appendItem(t, l, "printer offline")
	b := appendItem(t, l, "password reset")

	require.NoError(t, l.MarkProcessed(ctx, []string{a.ID}))

	got, err := l.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, got.Status)
	assert.NotNil(t, got.ProcessedAt)

	records, err := l.Records(ctx, StatusProcessed)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, a.ID, records[0].ID)
	assert.Equal(t, "printer offline", records[0].UserQuery)
	assert.True(t, records[0].ProcessingSuccess)

	unprocessed, err := l.ListUnprocessed(ctx)
	require.NoError(t, err)
	require.Len(t, unprocessed, 1)
	assert.Equal(t, b.ID, unprocessed[0].ID)

	t.Run("already processed", func(t *testing.T) {
		err := l.MarkProcessed(ctx, []string{a.ID})
		assert.ErrorIs(t, err, ErrNotUnprocessed)
	})

	t.Run("batch is all or nothing", func(t *testing.T) {
		err := l.MarkProcessed(ctx, []string{b.ID, "missing"})
		assert.ErrorIs(t, err, ErrNotFound)

		got, err := l.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusUnprocessed, got.Status)
	})
}

func TestLedger_RetryCycle(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	item := appendItem(t, l, "outlook crashes")

	for want := 1; want <= 3; want++ {
		n, err := l.RecordFailedPass(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	require.NoError(t, l.Reject(ctx, item.ID, "Failed after 3 processing passes: boom"))

	got, err := l.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, got.Status)
	assert.NotNil(t, got.LastRetryAt)

	rejected, err := l.Records(ctx, StatusRejected)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, 3, rejected[0].RetryCount)
	assert.Equal(t, "Failed after 3 processing passes: boom", rejected[0].Reason)
	assert.NotNil(t, rejected[0].RejectedAt)

	_, err = l.RecordFailedPass(ctx, item.ID)
	assert.ErrorIs(t, err, ErrNotUnprocessed)

	reset, err := l.RetryRejected(ctx, []string{item.ID, "unknown"})
	require.NoError(t, err)
	assert.Equal(t, []string{item.ID}, reset)

	got, err = l.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusUnprocessed, got.Status)
	assert.Zero(t, got.RetryCount)
	assert.Nil(t, got.LastRetryAt)

	rejected, err = l.Records(ctx, StatusRejected)
	require.NoError(t, err)
	assert.Empty(t, rejected)
}

func TestLedger_RetryRejectedAll(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	a := appendItem(t, l, "a")
	b := appendItem(t, l, "b")
	require.NoError(t, l.Reject(ctx, a.ID, "x"))
	require.NoError(t, l.Reject(ctx, b.ID, "y"))

	// a cleared rejected record still leaves the item resettable
	_, err := l.ClearRecords(ctx, StatusRejected)
	require.NoError(t, err)

	reset, err := l.RetryRejected(ctx, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, reset)
}

func TestLedger_ArchiveProcessed(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	var ids []string
	for _, q := range []string{"one", "two", "three"} {
		ids = append(ids, appendItem(t, l, q).ID)
	}
	require.NoError(t, l.MarkProcessed(ctx, ids))

	archived, err := l.ArchiveProcessed(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, archived)

	processed, err := l.Records(ctx, StatusProcessed)
	require.NoError(t, err)
	assert.Empty(t, processed)

	removable, err := l.Records(ctx, StatusRemovable)
	require.NoError(t, err)
	require.Len(t, removable, 3)
	for _, r := range removable {
		assert.True(t, r.TrainingCompleted)
		assert.NotNil(t, r.ArchivedAt)
		assert.NotNil(t, r.ProcessedAt, "original processing time is kept")
	}

	for _, id := range ids {
		got, err := l.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusRemovable, got.Status)
	}
}

func TestLedger_DispositionsAreDisjoint(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	p := appendItem(t, l, "processed one")
	r := appendItem(t, l, "rejected one")
	appendItem(t, l, "pending one")

	require.NoError(t, l.MarkProcessed(ctx, []string{p.ID}))
	require.NoError(t, l.Reject(ctx, r.ID, "nope"))

	assert.ErrorIs(t, l.Reject(ctx, p.ID, "again"), ErrNotUnprocessed)
	assert.ErrorIs(t, l.MarkProcessed(ctx, []string{r.ID}), ErrNotUnprocessed)

	seen := map[string]Status{}
	for _, state := range []Status{StatusProcessed, StatusRejected, StatusRemovable} {
		records, err := l.Records(ctx, state)
		require.NoError(t, err)
		for _, rec := range records {
			prev, dup := seen[rec.ID]
			assert.False(t, dup, "%s in both %s and %s", rec.ID, prev, state)
			seen[rec.ID] = state
		}
	}

	disposed, err := l.DisposedIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, disposed, 2)
	assert.Contains(t, disposed, p.ID)
	assert.Contains(t, disposed, r.ID)
}

func TestLedger_ClearRecordsKeepsStatus(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	item := appendItem(t, l, "wifi slow")
	require.NoError(t, l.MarkProcessed(ctx, []string{item.ID}))

	n, err := l.ClearRecords(ctx, StatusProcessed)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	unprocessed, err := l.ListUnprocessed(ctx)
	require.NoError(t, err)
	assert.Empty(t, unprocessed)

	got, err := l.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, got.Status)

	_, err = l.ClearRecords(ctx, StatusUnprocessed)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestLedger_ArchiveAfterClearingProcessed(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	kept := &Item{UserQuery: "kept record", Sentiment: SentimentNegative}
	cleared := &Item{UserQuery: "cleared record", Sentiment: SentimentNegative}
	require.NoError(t, l.Append(ctx, kept))
	require.NoError(t, l.Append(ctx, cleared))
	require.NoError(t, l.MarkProcessed(ctx, []string{cleared.ID}))

	n, err := l.ClearRecords(ctx, StatusProcessed)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	require.NoError(t, l.MarkProcessed(ctx, []string{kept.ID}))

	archived, err := l.ArchiveProcessed(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{kept.ID, cleared.ID}, archived)

	for _, id := range []string{kept.ID, cleared.ID} {
		got, err := l.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusRemovable, got.Status)
	}

	removable, err := l.Records(ctx, StatusRemovable)
	require.NoError(t, err)
	require.Len(t, removable, 2)
	for _, r := range removable {
		assert.True(t, r.TrainingCompleted)
		assert.NotNil(t, r.ArchivedAt)
		assert.NotNil(t, r.ProcessedAt, "processed time carried over for %s", r.ID)
	}

	processed, err := l.Records(ctx, StatusProcessed)
	require.NoError(t, err)
	assert.Empty(t, processed)

	again, err := l.ArchiveProcessed(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestLedger_CleanupAndStats(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	old := &Item{UserQuery: "old", Sentiment: SentimentPositive, CreatedAt: now.AddDate(0, 0, -40)}
	recent := &Item{UserQuery: "recent", Sentiment: SentimentNegative, CreatedAt: now.AddDate(0, 0, -2)}
	pending := &Item{UserQuery: "pending", Sentiment: SentimentNegative, CreatedAt: now.AddDate(0, 0, -90)}
	for _, it := range []*Item{old, recent, pending} {
		require.NoError(t, l.Append(ctx, it))
	}
	require.NoError(t, l.MarkProcessed(ctx, []string{old.ID, recent.ID}))
	_, err := l.ArchiveProcessed(ctx)
	require.NoError(t, err)

	stats, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Unprocessed)
	assert.Equal(t, 2, stats.Removable)
	assert.Equal(t, 1, stats.Positive)
	assert.Equal(t, 2, stats.Negative)
	assert.Equal(t, 2, stats.RemovableRecords)

	deleted, err := l.Cleanup(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	_, err = l.Get(ctx, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	removable, err := l.Records(ctx, StatusRemovable)
	require.NoError(t, err)
	require.Len(t, removable, 1)
	assert.Equal(t, recent.ID, removable[0].ID)

	// unprocessed items are never cleaned up, however old
	_, err = l.Get(ctx, pending.ID)
	assert.NoError(t, err)

	_, err = l.Cleanup(ctx, -time.Hour)
	require.Error(t, err)
	stats, err = l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Removable)
}

func TestParseDisposition(t *testing.T) {
	s, err := ParseDisposition(" Rejected ")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, s)

	_, err = ParseDisposition("unprocessed")
	assert.ErrorIs(t, err, ErrInvalidState)
}

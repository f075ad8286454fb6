package feedback

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ledger is the SQLite-backed feedback store.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// NewLedger creates the tables if needed and returns a ledger over db.
func NewLedger(ctx context.Context, db *sql.DB) (*Ledger, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("feedback: apply schema: %w", err)
	}
	return &Ledger{db: db, now: time.Now}, nil
}

// Append stores a new unprocessed item. An empty ID is replaced with a uuid.
func (l *Ledger) Append(ctx context.Context, item *Item) error {
	if item == nil {
		return errors.New("item is required")
	}
	if err := item.Validate(); err != nil {
		return err
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = l.now().UTC()
	}
	item.Status = StatusUnprocessed
	item.RetryCount = 0
	item.LastRetryAt = nil
	item.ProcessedAt = nil

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO feedback (id, message_index, user_query, bot_response, model_source,
			feedback_type, issue_description, expected_answer, status, retry_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'unprocessed', 0, ?)`,
		item.ID, item.MessageIndex, item.UserQuery, item.PriorResponse, item.ResponseSource,
		string(item.Sentiment), item.IssueDescription, item.ExpectedAnswer, toMillis(item.CreatedAt))
	if err != nil {
		return fmt.Errorf("feedback: append %s: %w", item.ID, err)
	}
	return nil
}

const itemColumns = `id, message_index, user_query, bot_response, model_source, feedback_type,
	issue_description, expected_answer, status, retry_count, created_at, last_retry_at, processed_at`

// Get returns the item with the given id.
func (l *Ledger) Get(ctx context.Context, id string) (*Item, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM feedback WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("feedback: get %s: %w", id, err)
	}
	return item, nil
}

// ListUnprocessed returns unprocessed items in submission order.
func (l *Ledger) ListUnprocessed(ctx context.Context) ([]*Item, error) {
	return l.list(ctx, `SELECT `+itemColumns+` FROM feedback WHERE status = 'unprocessed' ORDER BY created_at, rowid`)
}

// List returns every item with the given status in submission order.
func (l *Ledger) List(ctx context.Context, status Status) ([]*Item, error) {
	return l.list(ctx, `SELECT `+itemColumns+` FROM feedback WHERE status = ? ORDER BY created_at, rowid`, string(status))
}

func (l *Ledger) list(ctx context.Context, query string, args ...any) ([]*Item, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("feedback: list: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("feedback: scan: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// DisposedIDs returns the ids present in any disposition set.
func (l *Ledger) DisposedIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT id FROM dispositions`)
	if err != nil {
		return nil, fmt.Errorf("feedback: disposed ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// MarkProcessed moves unprocessed items to the processed set in one
// transaction. Every id must currently be unprocessed.
func (l *Ledger) MarkProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	now := toMillis(l.now())
	return l.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if err := transition(ctx, tx, id, StatusProcessed,
				`UPDATE feedback SET status = 'processed', processed_at = ? WHERE id = ? AND status = 'unprocessed'`, now, id); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO dispositions (id, state, user_query, feedback_type, processed_at, processing_success)
				SELECT id, 'processed', user_query, feedback_type, ?, 1 FROM feedback WHERE id = ?`, now, id); err != nil {
				return fmt.Errorf("feedback: record processed %s: %w", id, err)
			}
		}
		return nil
	})
}

// RecordFailedPass increments the retry counter of an unprocessed item and
// returns the new count.
func (l *Ledger) RecordFailedPass(ctx context.Context, id string) (int, error) {
	var count int
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		if err := transition(ctx, tx, id, StatusUnprocessed,
			`UPDATE feedback SET retry_count = retry_count + 1, last_retry_at = ? WHERE id = ? AND status = 'unprocessed'`,
			toMillis(l.now()), id); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `SELECT retry_count FROM feedback WHERE id = ?`, id).Scan(&count)
	})
	return count, err
}

// Reject moves an unprocessed item to the rejected set.
func (l *Ledger) Reject(ctx context.Context, id, reason string) error {
	now := toMillis(l.now())
	return l.withTx(ctx, func(tx *sql.Tx) error {
		if err := transition(ctx, tx, id, StatusRejected,
			`UPDATE feedback SET status = 'rejected' WHERE id = ? AND status = 'unprocessed'`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO dispositions (id, state, user_query, feedback_type, rejected_at, reason, retry_count)
			SELECT id, 'rejected', user_query, feedback_type, ?, ?, retry_count FROM feedback WHERE id = ?`,
			now, reason, id); err != nil {
			return fmt.Errorf("feedback: record rejected %s: %w", id, err)
		}
		return nil
	})
}

// RetryRejected resets rejected items to unprocessed with a zero retry count
// and drops their rejected records. With no ids every rejected item is reset.
// It returns the ids that were reset.
func (l *Ledger) RetryRejected(ctx context.Context, ids []string) ([]string, error) {
	var reset []string
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		targets := ids
		if len(targets) == 0 {
			all, err := selectIDs(ctx, tx, `SELECT id FROM feedback WHERE status = 'rejected' ORDER BY created_at, rowid`)
			if err != nil {
				return err
			}
			targets = all
		}
		for _, id := range targets {
			res, err := tx.ExecContext(ctx, `
				UPDATE feedback SET status = 'unprocessed', retry_count = 0, last_retry_at = NULL
				WHERE id = ? AND status = 'rejected'`, id)
			if err != nil {
				return fmt.Errorf("feedback: reset %s: %w", id, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				continue
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM dispositions WHERE id = ? AND state = 'rejected'`, id); err != nil {
				return fmt.Errorf("feedback: drop rejected record %s: %w", id, err)
			}
			reset = append(reset, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reset, nil
}

// ArchiveProcessed moves every processed item to the removable set after a
// successful training run and returns the archived ids. Item status decides
// membership, so items whose processed record was cleared are archived too
// and get their removable record back.
func (l *Ledger) ArchiveProcessed(ctx context.Context) ([]string, error) {
	now := toMillis(l.now())
	var archived []string
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		ids, err := selectIDs(ctx, tx, `SELECT id FROM feedback WHERE status = 'processed' ORDER BY processed_at, id`)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `UPDATE feedback SET status = 'removable' WHERE id = ?`, id); err != nil {
				return fmt.Errorf("feedback: archive %s: %w", id, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO dispositions (id, state, user_query, feedback_type, processed_at, processing_success,
					retry_count, archived_at, training_completed)
				SELECT id, 'removable', user_query, feedback_type, processed_at, 1, retry_count, ?, 1
				FROM feedback WHERE id = ?
				ON CONFLICT (id) DO UPDATE SET
					state = 'removable', archived_at = excluded.archived_at, training_completed = 1`, now, id); err != nil {
				return fmt.Errorf("feedback: archive record %s: %w", id, err)
			}
		}
		archived = ids
		return nil
	})
	if err != nil {
		return nil, err
	}
	return archived, nil
}

const recordColumns = `id, state, user_query, feedback_type, processed_at, processing_success,
	rejected_at, reason, retry_count, archived_at, training_completed`

// Records returns the disposition records in one state.
func (l *Ledger) Records(ctx context.Context, state Status) ([]Record, error) {
	if !state.IsDisposition() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, state)
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM dispositions WHERE state = ? ORDER BY rowid`, string(state))
	if err != nil {
		return nil, fmt.Errorf("feedback: records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                                 Record
			state, sentiment                  string
			processedAt, rejectedAt, archived sql.NullInt64
			success, trained                  bool
		)
		if err := rows.Scan(&r.ID, &state, &r.UserQuery, &sentiment, &processedAt, &success,
			&rejectedAt, &r.Reason, &r.RetryCount, &archived, &trained); err != nil {
			return nil, fmt.Errorf("feedback: scan record: %w", err)
		}
		r.State = Status(state)
		r.Sentiment = Sentiment(sentiment)
		r.ProcessedAt = fromNullMillis(processedAt)
		r.ProcessingSuccess = success
		r.RejectedAt = fromNullMillis(rejectedAt)
		r.ArchivedAt = fromNullMillis(archived)
		r.TrainingCompleted = trained
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountRecords returns the number of records in one state.
func (l *Ledger) CountRecords(ctx context.Context, state Status) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dispositions WHERE state = ?`, string(state)).Scan(&n)
	return n, err
}

// ClearRecords deletes the record rows of one state. Item status is kept, so
// cleared items do not re-enter intake.
func (l *Ledger) ClearRecords(ctx context.Context, state Status) (int64, error) {
	if !state.IsDisposition() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidState, state)
	}
	res, err := l.db.ExecContext(ctx, `DELETE FROM dispositions WHERE state = ?`, string(state))
	if err != nil {
		return 0, fmt.Errorf("feedback: clear %s records: %w", state, err)
	}
	return res.RowsAffected()
}

// Cleanup deletes removable items submitted before now-olderThan along with
// their records. It returns the number of items deleted.
func (l *Ledger) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan < 0 {
		return 0, fmt.Errorf("feedback: cleanup: negative age %s", olderThan)
	}
	cutoff := toMillis(l.now().Add(-olderThan))
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM feedback WHERE status = 'removable' AND created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("feedback: cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Stats counts items by status and sentiment and records by state.
func (l *Ledger) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(status = 'unprocessed'), 0),
			COALESCE(SUM(status = 'processed'), 0),
			COALESCE(SUM(status = 'rejected'), 0),
			COALESCE(SUM(status = 'removable'), 0),
			COALESCE(SUM(feedback_type = 'positive'), 0),
			COALESCE(SUM(feedback_type = 'negative'), 0)
		FROM feedback`).Scan(&s.Total, &s.Unprocessed, &s.Processed, &s.Rejected, &s.Removable, &s.Positive, &s.Negative)
	if err != nil {
		return nil, fmt.Errorf("feedback: stats: %w", err)
	}
	err = l.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(state = 'processed'), 0),
			COALESCE(SUM(state = 'rejected'), 0),
			COALESCE(SUM(state = 'removable'), 0)
		FROM dispositions`).Scan(&s.ProcessedRecords, &s.RejectedRecords, &s.RemovableRecords)
	if err != nil {
		return nil, fmt.Errorf("feedback: record stats: %w", err)
	}
	return &s, nil
}

func (l *Ledger) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("feedback: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("feedback: commit: %w", err)
	}
	return nil
}

// transition runs a guarded UPDATE and maps "no row changed" to ErrNotFound
// or ErrNotUnprocessed.
func transition(ctx context.Context, tx *sql.Tx, id string, to Status, query string, args ...any) error {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("feedback: mark %s %s: %w", id, to, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM feedback WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s", ErrNotUnprocessed, id, status)
}

func selectIDs(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("feedback: select ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner) (*Item, error) {
	var (
		item                   Item
		sentiment, status      string
		created                int64
		lastRetry, processedAt sql.NullInt64
	)
	if err := s.Scan(&item.ID, &item.MessageIndex, &item.UserQuery, &item.PriorResponse, &item.ResponseSource,
		&sentiment, &item.IssueDescription, &item.ExpectedAnswer, &status, &item.RetryCount,
		&created, &lastRetry, &processedAt); err != nil {
		return nil, err
	}
	item.Sentiment = Sentiment(sentiment)
	item.Status = Status(status)
	item.CreatedAt = fromMillis(created)
	item.LastRetryAt = fromNullMillis(lastRetry)
	item.ProcessedAt = fromNullMillis(processedAt)
	return &item, nil
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

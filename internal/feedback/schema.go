package feedback

// Schema creates the ledger and disposition tables.
//
// dispositions is keyed by feedback id, so an item can sit in at most one of
// the processed, rejected and removable sets.
const Schema = `
CREATE TABLE IF NOT EXISTS feedback (
	id                TEXT PRIMARY KEY,
	message_index     INTEGER NOT NULL DEFAULT 0,
	user_query        TEXT NOT NULL,
	bot_response      TEXT NOT NULL DEFAULT '',
	model_source      TEXT NOT NULL DEFAULT '',
	feedback_type     TEXT NOT NULL CHECK (feedback_type IN ('positive', 'negative')),
	issue_description TEXT NOT NULL DEFAULT '',
	expected_answer   TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'unprocessed'
	                  CHECK (status IN ('unprocessed', 'processed', 'rejected', 'removable')),
	retry_count       INTEGER NOT NULL DEFAULT 0,
	created_at        INTEGER NOT NULL,
	last_retry_at     INTEGER,
	processed_at      INTEGER
);
CREATE INDEX IF NOT EXISTS idx_feedback_status ON feedback(status, created_at);

CREATE TABLE IF NOT EXISTS dispositions (
	id                 TEXT PRIMARY KEY REFERENCES feedback(id) ON DELETE CASCADE,
	state              TEXT NOT NULL CHECK (state IN ('processed', 'rejected', 'removable')),
	user_query         TEXT NOT NULL DEFAULT '',
	feedback_type      TEXT NOT NULL DEFAULT '',
	processed_at       INTEGER,
	processing_success INTEGER NOT NULL DEFAULT 0,
	rejected_at        INTEGER,
	reason             TEXT NOT NULL DEFAULT '',
	retry_count        INTEGER NOT NULL DEFAULT 0,
	archived_at        INTEGER,
	training_completed INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_dispositions_state ON dispositions(state);
`

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schema lists the local tables. Every statement is idempotent so migrate
// can run on each Open.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS offline_answers (
		seq           INTEGER NOT NULL UNIQUE,
		session_id    TEXT    NOT NULL,
		question_id   TEXT    NOT NULL,
		answer_id     TEXT    NOT NULL,
		user_id       TEXT    NOT NULL,
		part_type     TEXT    NOT NULL,
		user_answer   TEXT    NOT NULL,
		is_correct    INTEGER NOT NULL,
		time_taken_ms INTEGER,
		answered_at   INTEGER NOT NULL,
		enqueued_at   INTEGER NOT NULL,
		landed        INTEGER NOT NULL DEFAULT 0,
		synced        INTEGER NOT NULL DEFAULT 0,
		synced_at     INTEGER,
		attempts      INTEGER NOT NULL DEFAULT 0,
		last_error    TEXT    NOT NULL DEFAULT '',
		PRIMARY KEY (session_id, question_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_offline_answers_pending ON offline_answers(synced, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_offline_answers_user ON offline_answers(user_id, answered_at)`,
	`CREATE TABLE IF NOT EXISTS parked_sessions (
		id              TEXT    PRIMARY KEY,
		user_id         TEXT    NOT NULL,
		part_type       TEXT    NOT NULL,
		start_time      INTEGER NOT NULL,
		end_time        INTEGER,
		score           REAL,
		total_questions INTEGER NOT NULL,
		completed       INTEGER NOT NULL DEFAULT 0,
		created_at      INTEGER NOT NULL,
		created_remote  INTEGER NOT NULL DEFAULT 0,
		parked_at       INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_parked_sessions_user ON parked_sessions(user_id)`,
	`CREATE TABLE IF NOT EXISTS cached_questions (
		id         TEXT    PRIMARY KEY,
		part_type  TEXT    NOT NULL,
		difficulty TEXT    NOT NULL,
		payload    TEXT    NOT NULL,
		cached_at  INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cached_questions_part ON cached_questions(part_type, difficulty, expires_at)`,
	`CREATE TABLE IF NOT EXISTS sync_runs (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at      INTEGER NOT NULL,
		finished_at     INTEGER NOT NULL,
		attempted       INTEGER NOT NULL,
		succeeded       INTEGER NOT NULL,
		failed          INTEGER NOT NULL,
		sessions_pushed INTEGER NOT NULL DEFAULT 0,
		error           TEXT    NOT NULL DEFAULT ''
	)`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

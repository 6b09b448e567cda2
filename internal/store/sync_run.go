package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
)

const syncRunsTable = "sync_runs"

var syncRunColumns = []string{
	"id", "started_at", "finished_at", "attempted", "succeeded", "failed", "sessions_pushed", "error",
}

// syncRunRepo implements SyncRunRepo on SQLite.
type syncRunRepo struct {
	db *sql.DB
}

func (r *syncRunRepo) Save(ctx context.Context, run *SyncRun) error {
	query, args := builder.Insert(syncRunsTable).
		Columns(syncRunColumns[1:]...).
		Values(
			millis(run.StartedAt), millis(run.FinishedAt),
			run.Attempted, run.Succeeded, run.Failed, run.SessionsPushed, run.Error,
		).
		Query()

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("save sync run: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		run.ID = int(id)
	}
	return nil
}

func (r *syncRunRepo) Latest(ctx context.Context) (*SyncRun, error) {
	query, args := builder.Select(syncRunColumns...).
		From(entsql.Table(syncRunsTable)).
		OrderBy(entsql.Desc("id")).
		Limit(1).
		Query()

	var (
		run               SyncRun
		started, finished int64
	)
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&run.ID, &started, &finished,
		&run.Attempted, &run.Succeeded, &run.Failed, &run.SessionsPushed, &run.Error,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query latest sync run: %w", err)
	}
	run.StartedAt = fromMillis(started)
	run.FinishedAt = fromMillis(finished)
	return &run, nil
}

func (r *syncRunRepo) Prune(ctx context.Context, keep int) error {
	// Find the ID threshold: the Nth most recent run.
	query, args := builder.Select("id").
		From(entsql.Table(syncRunsTable)).
		OrderBy(entsql.Desc("id")).
		Offset(keep).
		Limit(1).
		Query()

	var threshold int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&threshold); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil // fewer than keep runs exist
		}
		return fmt.Errorf("query sync runs for prune: %w", err)
	}

	query, args = builder.Delete(syncRunsTable).
		Where(entsql.LTE("id", threshold)).
		Query()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("prune sync runs: %w", err)
	}
	return nil
}

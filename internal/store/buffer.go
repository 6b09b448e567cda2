package store

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"math"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/studysync/internal/study"
)

const offlineAnswersTable = "offline_answers"

// pendingBatchSize bounds how many rows Pending reads per query. Rows are
// closed before anything is yielded, so callers may write to the buffer
// (MarkSynced, Enqueue) while ranging.
const pendingBatchSize = 64

var offlineAnswerColumns = []string{
	"seq", "session_id", "question_id", "answer_id", "user_id", "part_type",
	"user_answer", "is_correct", "time_taken_ms", "answered_at",
	"enqueued_at", "landed", "synced", "synced_at", "attempts", "last_error",
}

// payloadColumns are overwritten when an existing key is re-enqueued.
var payloadColumns = []string{
	"answer_id", "user_id", "part_type", "user_answer", "is_correct",
	"time_taken_ms", "answered_at", "enqueued_at", "landed",
}

// answerBuffer implements AnswerBuffer on SQLite.
type answerBuffer struct {
	db  *sql.DB
	seq *sequenceCounter
	now func() time.Time
}

func (b *answerBuffer) Enqueue(ctx context.Context, a study.OfflineAnswer) error {
	if a.SessionID == "" || a.QuestionID == "" {
		return &study.ValidationError{Field: "answer key", Reason: "session_id and question_id are required"}
	}

	seq, err := b.seq.Next(ctx)
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}

	var timeTaken any
	if a.TimeTaken != nil {
		timeTaken = a.TimeTaken.Milliseconds()
	}

	query, args := builder.Insert(offlineAnswersTable).
		Columns(offlineAnswerColumns...).
		Values(
			seq, a.SessionID, a.QuestionID, a.ID, a.UserID, string(a.PartType),
			a.UserAnswer.UserAnswer, a.IsCorrect, timeTaken, millis(a.AnsweredAt),
			millis(b.now()), a.Landed, false, nil, 0, "",
		).
		OnConflict(
			entsql.ConflictColumns("session_id", "question_id"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				for _, c := range payloadColumns {
					u.SetExcluded(c)
				}
				u.Set("synced", false)
				u.SetNull("synced_at")
				u.Set("attempts", 0)
				u.Set("last_error", "")
			}),
		).
		Query()

	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("enqueue answer %s: %w", a.Key(), err)
	}
	return nil
}

func (b *answerBuffer) Pending(ctx context.Context) iter.Seq2[study.OfflineAnswer, error] {
	return b.PendingThrough(ctx, math.MaxInt64)
}

func (b *answerBuffer) PendingThrough(ctx context.Context, through int64) iter.Seq2[study.OfflineAnswer, error] {
	return func(yield func(study.OfflineAnswer, error) bool) {
		var after int64
		for {
			batch, err := b.pendingBatch(ctx, after, through)
			if err != nil {
				yield(study.OfflineAnswer{}, err)
				return
			}
			for _, a := range batch {
				if !yield(a, nil) {
					return
				}
				after = a.Seq
			}
			if len(batch) < pendingBatchSize {
				return
			}
		}
	}
}

func (b *answerBuffer) pendingBatch(ctx context.Context, after, through int64) ([]study.OfflineAnswer, error) {
	query, args := builder.Select(offlineAnswerColumns...).
		From(entsql.Table(offlineAnswersTable)).
		Where(entsql.And(
			entsql.EQ("synced", false),
			entsql.GT("seq", after),
			entsql.LTE("seq", through),
		)).
		OrderBy("seq").
		Limit(pendingBatchSize).
		Query()

	return b.queryAnswers(ctx, query, args)
}

func (b *answerBuffer) HighWater(ctx context.Context) (int64, error) {
	query, args := builder.Select(entsql.Max("seq")).
		From(entsql.Table(offlineAnswersTable)).
		Query()

	var hw sql.NullInt64
	if err := b.db.QueryRowContext(ctx, query, args...).Scan(&hw); err != nil {
		return 0, fmt.Errorf("query high water: %w", err)
	}
	return hw.Int64, nil
}

func (b *answerBuffer) MarkSynced(ctx context.Context, key study.AnswerKey, answerID string) (bool, error) {
	query, args := builder.Update(offlineAnswersTable).
		Set("synced", true).
		Set("synced_at", millis(b.now())).
		Where(revisionPredicate(key, answerID)).
		Query()

	res, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("mark synced %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark synced %s: %w", key, err)
	}
	return n > 0, nil
}

func (b *answerBuffer) MarkLanded(ctx context.Context, key study.AnswerKey, answerID string) error {
	query, args := builder.Update(offlineAnswersTable).
		Set("landed", true).
		Where(revisionPredicate(key, answerID)).
		Query()

	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark landed %s: %w", key, err)
	}
	return nil
}

func (b *answerBuffer) RecordFailure(ctx context.Context, key study.AnswerKey, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	query, args := builder.Update(offlineAnswersTable).
		Add("attempts", 1).
		Set("last_error", msg).
		Where(keyPredicate(key)).
		Query()

	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("record failure %s: %w", key, err)
	}
	return nil
}

func (b *answerBuffer) Get(ctx context.Context, key study.AnswerKey) (*study.OfflineAnswer, error) {
	query, args := builder.Select(offlineAnswerColumns...).
		From(entsql.Table(offlineAnswersTable)).
		Where(keyPredicate(key)).
		Query()

	answers, err := b.queryAnswers(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if len(answers) == 0 {
		return nil, nil
	}
	return &answers[0], nil
}

func (b *answerBuffer) PendingByUser(ctx context.Context, userID string, from, to time.Time) ([]study.OfflineAnswer, error) {
	query, args := builder.Select(offlineAnswerColumns...).
		From(entsql.Table(offlineAnswersTable)).
		Where(entsql.And(
			entsql.EQ("user_id", userID),
			entsql.EQ("synced", false),
			entsql.GTE("answered_at", millis(from)),
			entsql.LT("answered_at", millis(to)),
		)).
		OrderBy("seq").
		Query()

	return b.queryAnswers(ctx, query, args)
}

func (b *answerBuffer) Counts(ctx context.Context) (int, int, error) {
	query, args := builder.Select("synced", entsql.Count("*")).
		From(entsql.Table(offlineAnswersTable)).
		GroupBy("synced").
		Query()

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, 0, fmt.Errorf("count buffer: %w", err)
	}
	defer rows.Close()

	var pending, synced int
	for rows.Next() {
		var isSynced bool
		var n int
		if err := rows.Scan(&isSynced, &n); err != nil {
			return 0, 0, fmt.Errorf("scan buffer count: %w", err)
		}
		if isSynced {
			synced = n
		} else {
			pending = n
		}
	}
	return pending, synced, rows.Err()
}

func (b *answerBuffer) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args := builder.Delete(offlineAnswersTable).
		Where(entsql.And(
			entsql.EQ("synced", true),
			entsql.LTE("synced_at", millis(cutoff)),
		)).
		Query()

	res, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("purge synced answers: %w", err)
	}
	return res.RowsAffected()
}

func (b *answerBuffer) queryAnswers(ctx context.Context, query string, args []any) ([]study.OfflineAnswer, error) {
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query offline answers: %w", err)
	}
	defer rows.Close()

	var out []study.OfflineAnswer
	for rows.Next() {
		a, err := scanOfflineAnswer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate offline answers: %w", err)
	}
	return out, nil
}

func scanOfflineAnswer(rows *sql.Rows) (study.OfflineAnswer, error) {
	var (
		a          study.OfflineAnswer
		part       string
		timeTaken  sql.NullInt64
		answeredAt int64
		enqueuedAt int64
		syncedAt   sql.NullInt64
	)
	err := rows.Scan(
		&a.Seq, &a.SessionID, &a.QuestionID, &a.ID, &a.UserID, &part,
		&a.UserAnswer.UserAnswer, &a.IsCorrect, &timeTaken, &answeredAt,
		&enqueuedAt, &a.Landed, &a.Synced, &syncedAt, &a.Attempts, &a.LastError,
	)
	if err != nil {
		return study.OfflineAnswer{}, fmt.Errorf("scan offline answer: %w", err)
	}
	a.PartType = study.PartType(part)
	a.AnsweredAt = fromMillis(answeredAt)
	a.EnqueuedAt = fromMillis(enqueuedAt)
	a.SyncedAt = fromNullMillis(syncedAt)
	if timeTaken.Valid {
		d := time.Duration(timeTaken.Int64) * time.Millisecond
		a.TimeTaken = &d
	}
	return a, nil
}

// revisionPredicate matches key only while it still holds the payload of
// answerID. A re-enqueue carries a new answer ID.
func revisionPredicate(key study.AnswerKey, answerID string) *entsql.Predicate {
	return entsql.And(keyPredicate(key), entsql.EQ("answer_id", answerID))
}

func keyPredicate(key study.AnswerKey) *entsql.Predicate {
	return entsql.And(
		entsql.EQ("session_id", key.SessionID),
		entsql.EQ("question_id", key.QuestionID),
	)
}

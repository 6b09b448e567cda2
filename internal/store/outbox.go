package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/studysync/internal/study"
)

const parkedSessionsTable = "parked_sessions"

var parkedSessionColumns = []string{
	"id", "user_id", "part_type", "start_time", "end_time", "score",
	"total_questions", "completed", "created_at", "created_remote", "parked_at",
}

// sessionMutableColumns are refreshed when a parked session is parked again.
var sessionMutableColumns = []string{
	"end_time", "score", "total_questions", "completed",
}

// sessionOutbox implements SessionOutbox on SQLite.
type sessionOutbox struct {
	db  *sql.DB
	now func() time.Time
}

func (o *sessionOutbox) Park(ctx context.Context, s study.StudySession, createdRemote bool) error {
	var score any
	if s.Score != nil {
		score = *s.Score
	}

	query, args := builder.Insert(parkedSessionsTable).
		Columns(parkedSessionColumns...).
		Values(
			s.ID, s.UserID, string(s.PartType), millis(s.StartTime), nullMillis(s.EndTime), score,
			s.TotalQuestions, s.Completed, millis(s.CreatedAt), createdRemote, millis(o.now()),
		).
		OnConflict(
			entsql.ConflictColumns("id"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				for _, c := range sessionMutableColumns {
					u.SetExcluded(c)
				}
				if createdRemote {
					u.Set("created_remote", true)
				}
			}),
		).
		Query()

	if _, err := o.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("park session %s: %w", s.ID, err)
	}
	return nil
}

func (o *sessionOutbox) Parked(ctx context.Context) ([]ParkedSession, error) {
	query, args := builder.Select(parkedSessionColumns...).
		From(entsql.Table(parkedSessionsTable)).
		OrderBy("parked_at", "id").
		Query()
	return o.query(ctx, query, args)
}

func (o *sessionOutbox) Has(ctx context.Context, id string) (bool, error) {
	query, args := builder.Select(entsql.Count("*")).
		From(entsql.Table(parkedSessionsTable)).
		Where(entsql.EQ("id", id)).
		Query()

	var n int
	if err := o.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("lookup parked session %s: %w", id, err)
	}
	return n > 0, nil
}

func (o *sessionOutbox) MarkCreated(ctx context.Context, id string) error {
	query, args := builder.Update(parkedSessionsTable).
		Set("created_remote", true).
		Where(entsql.EQ("id", id)).
		Query()

	if _, err := o.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark session %s created: %w", id, err)
	}
	return nil
}

func (o *sessionOutbox) Remove(ctx context.Context, id string) error {
	query, args := builder.Delete(parkedSessionsTable).
		Where(entsql.EQ("id", id)).
		Query()

	if _, err := o.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("remove parked session %s: %w", id, err)
	}
	return nil
}

func (o *sessionOutbox) ParkedByUser(ctx context.Context, userID string) ([]study.StudySession, error) {
	query, args := builder.Select(parkedSessionColumns...).
		From(entsql.Table(parkedSessionsTable)).
		Where(entsql.EQ("user_id", userID)).
		OrderBy("start_time").
		Query()

	parked, err := o.query(ctx, query, args)
	if err != nil {
		return nil, err
	}
	out := make([]study.StudySession, len(parked))
	for i, p := range parked {
		out[i] = p.Session
	}
	return out, nil
}

func (o *sessionOutbox) query(ctx context.Context, query string, args []any) ([]ParkedSession, error) {
	rows, err := o.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query parked sessions: %w", err)
	}
	defer rows.Close()

	var out []ParkedSession
	for rows.Next() {
		var (
			p         ParkedSession
			part      string
			start     int64
			end       sql.NullInt64
			score     sql.NullFloat64
			createdAt int64
			parkedAt  int64
		)
		err := rows.Scan(
			&p.Session.ID, &p.Session.UserID, &part, &start, &end, &score,
			&p.Session.TotalQuestions, &p.Session.Completed, &createdAt, &p.CreatedRemote, &parkedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan parked session: %w", err)
		}
		p.Session.PartType = study.PartType(part)
		p.Session.StartTime = fromMillis(start)
		p.Session.EndTime = fromNullMillis(end)
		if score.Valid {
			v := score.Float64
			p.Session.Score = &v
		}
		p.Session.CreatedAt = fromMillis(createdAt)
		p.ParkedAt = fromMillis(parkedAt)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate parked sessions: %w", err)
	}
	return out, nil
}

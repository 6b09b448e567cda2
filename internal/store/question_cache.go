package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/studysync/internal/study"
)

const cachedQuestionsTable = "cached_questions"

// questionCache implements QuestionCache on SQLite. Each question is stored
// as a JSON payload next to the columns it is filtered on.
type questionCache struct {
	db  *sql.DB
	now func() time.Time
}

func (c *questionCache) Put(ctx context.Context, questions []study.Question, ttl time.Duration) error {
	if len(questions) == 0 {
		return nil
	}

	now := c.now()
	insert := builder.Insert(cachedQuestionsTable).
		Columns("id", "part_type", "difficulty", "payload", "cached_at", "expires_at")
	for _, q := range questions {
		payload, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("marshal question %s: %w", q.ID, err)
		}
		insert.Values(q.ID, string(q.PartType), string(q.Difficulty), string(payload), millis(now), millis(now.Add(ttl)))
	}
	query, args := insert.
		OnConflict(
			entsql.ConflictColumns("id"),
			entsql.ResolveWithNewValues(),
		).
		Query()

	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("cache questions: %w", err)
	}
	return nil
}

func (c *questionCache) Get(ctx context.Context, f study.QuestionFilter) ([]study.Question, error) {
	preds := []*entsql.Predicate{
		entsql.EQ("part_type", string(f.PartType)),
		entsql.GT("expires_at", millis(c.now())),
	}
	if f.Difficulty != nil {
		preds = append(preds, entsql.EQ("difficulty", string(*f.Difficulty)))
	}

	query, args := builder.Select("payload").
		From(entsql.Table(cachedQuestionsTable)).
		Where(entsql.And(preds...)).
		OrderBy("id").
		Query()

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cached questions: %w", err)
	}
	defer rows.Close()

	var out []study.Question
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan cached question: %w", err)
		}
		var q study.Question
		if err := json.Unmarshal([]byte(payload), &q); err != nil {
			return nil, fmt.Errorf("decode cached question: %w", err)
		}
		if f.ActiveOnly && !q.IsActive {
			continue
		}
		out = append(out, q)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cached questions: %w", err)
	}
	return out, nil
}

func (c *questionCache) Expire(ctx context.Context) (int64, error) {
	query, args := builder.Delete(cachedQuestionsTable).
		Where(entsql.LTE("expires_at", millis(c.now()))).
		Query()

	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("expire cached questions: %w", err)
	}
	return res.RowsAffected()
}

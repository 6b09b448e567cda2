package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abhisek/studysync/internal/study"
)

// PoolConfig sizes the Postgres connection pool.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultPoolConfig suits a single learner's device or a small API node.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:        8,
		MinConns:        0,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
	}
}

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Connect builds a pool for dsn. Connections are opened lazily so a
// device that starts offline still gets a usable Store.
func Connect(ctx context.Context, dsn string, pc PoolConfig) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if pc.MaxConns > 0 {
		cfg.MaxConns = pc.MaxConns
	}
	cfg.MinConns = pc.MinConns
	if pc.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = pc.MaxConnLifetime
	}
	if pc.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = pc.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Pool exposes the underlying pool for migrations.
func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

// Close releases every pooled connection.
func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Ping(ctx context.Context) error {
	return classify(OpPing, "", "", p.pool.Ping(ctx))
}

const questionColumns = `id, part_type, content, options, correct_answer, explanation, difficulty, is_active, created_at, updated_at`

func (p *Postgres) SelectQuestions(ctx context.Context, f study.QuestionFilter) ([]study.Question, error) {
	var (
		where = []string{"part_type = $1"}
		args  = []any{string(f.PartType)}
	)
	if f.ActiveOnly {
		where = append(where, "is_active = TRUE")
	}
	if f.Difficulty != nil {
		args = append(args, string(*f.Difficulty))
		where = append(where, fmt.Sprintf("difficulty = $%d", len(args)))
	}
	query := `SELECT ` + questionColumns + ` FROM questions WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(OpSelectQuestions, "", "", err)
	}
	defer rows.Close()

	var out []study.Question
	for rows.Next() {
		var (
			q          study.Question
			part, diff string
		)
		if err := rows.Scan(&q.ID, &part, &q.Content, &q.Options, &q.CorrectAnswer,
			&q.Explanation, &diff, &q.IsActive, &q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		q.PartType = study.PartType(part)
		q.Difficulty = study.Difficulty(diff)
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(OpSelectQuestions, "", "", err)
	}
	return out, nil
}

func (p *Postgres) UpsertQuestions(ctx context.Context, qs []study.Question) (int, error) {
	if len(qs) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, q := range qs {
		batch.Queue(`
			INSERT INTO questions (id, part_type, content, options, correct_answer, explanation, difficulty, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				part_type = EXCLUDED.part_type,
				content = EXCLUDED.content,
				options = EXCLUDED.options,
				correct_answer = EXCLUDED.correct_answer,
				explanation = EXCLUDED.explanation,
				difficulty = EXCLUDED.difficulty,
				is_active = EXCLUDED.is_active,
				updated_at = NOW()
		`, q.ID, string(q.PartType), q.Content, q.Options, q.CorrectAnswer, q.Explanation, string(q.Difficulty), q.IsActive)
	}

	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range qs {
		if _, err := br.Exec(); err != nil {
			return i, classify(OpUpsertQuestions, "question", qs[i].ID, err)
		}
	}
	return len(qs), nil
}

func (p *Postgres) InsertSession(ctx context.Context, s study.StudySession) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO study_sessions (id, user_id, part_type, start_time, end_time, score, total_questions, completed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, s.ID, s.UserID, string(s.PartType), s.StartTime, s.EndTime, s.Score, s.TotalQuestions, s.Completed, s.CreatedAt)
	return classify(OpInsertSession, "study_session", s.ID, err)
}

func (p *Postgres) UpdateSession(ctx context.Context, s study.StudySession) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE study_sessions
		SET end_time = $2,
			score = $3,
			total_questions = $4,
			completed = $5
		WHERE id = $1
	`, s.ID, s.EndTime, s.Score, s.TotalQuestions, s.Completed)
	if err != nil {
		return classify(OpUpdateSession, "study_session", s.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update session %s: %w", s.ID, ErrNotFound)
	}
	return nil
}

func (p *Postgres) SelectSessions(ctx context.Context, f study.SessionFilter) ([]study.StudySession, error) {
	var (
		where = []string{"user_id = $1"}
		args  = []any{f.UserID}
	)
	if f.Completed != nil {
		args = append(args, *f.Completed)
		where = append(where, fmt.Sprintf("completed = $%d", len(args)))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		where = append(where, fmt.Sprintf("start_time >= $%d", len(args)))
	}
	if !f.Until.IsZero() {
		args = append(args, f.Until)
		where = append(where, fmt.Sprintf("start_time < $%d", len(args)))
	}
	order := "ASC"
	if f.NewestFirst {
		order = "DESC"
	}
	query := `
		SELECT id, user_id, part_type, start_time, end_time, score, total_questions, completed, created_at
		FROM study_sessions
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY start_time ` + order
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(OpSelectSessions, "", "", err)
	}
	defer rows.Close()

	var out []study.StudySession
	for rows.Next() {
		var (
			s    study.StudySession
			part string
		)
		if err := rows.Scan(&s.ID, &s.UserID, &part, &s.StartTime, &s.EndTime, &s.Score,
			&s.TotalQuestions, &s.Completed, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan study session: %w", err)
		}
		s.PartType = study.PartType(part)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(OpSelectSessions, "", "", err)
	}
	return out, nil
}

func (p *Postgres) InsertAnswer(ctx context.Context, a study.UserAnswer) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO user_answers (id, session_id, question_id, user_answer, is_correct, time_taken_ms, answered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.SessionID, a.QuestionID, a.UserAnswer, a.IsCorrect, durationMillis(a.TimeTaken), a.AnsweredAt)
	return classify(OpInsertAnswer, "user_answer", a.Key().String(), err)
}

func (p *Postgres) UpsertAnswer(ctx context.Context, a study.UserAnswer) (bool, error) {
	// xmax is zero only for a freshly inserted tuple.
	var created bool
	err := p.pool.QueryRow(ctx, `
		INSERT INTO user_answers (id, session_id, question_id, user_answer, is_correct, time_taken_ms, answered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, question_id) DO UPDATE SET
			user_answer = EXCLUDED.user_answer,
			is_correct = EXCLUDED.is_correct,
			time_taken_ms = EXCLUDED.time_taken_ms,
			answered_at = EXCLUDED.answered_at
		RETURNING (xmax = 0)
	`, a.ID, a.SessionID, a.QuestionID, a.UserAnswer, a.IsCorrect, durationMillis(a.TimeTaken), a.AnsweredAt).Scan(&created)
	if err != nil {
		return false, classify(OpUpsertAnswer, "user_answer", a.Key().String(), err)
	}
	return created, nil
}

func (p *Postgres) UpsertProgress(ctx context.Context, d study.ProgressDelta) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO user_progress (id, user_id, date, part_type, questions_answered, correct_answers, total_time_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, date, part_type) DO UPDATE SET
			questions_answered = user_progress.questions_answered + EXCLUDED.questions_answered,
			correct_answers = user_progress.correct_answers + EXCLUDED.correct_answers,
			total_time_ms = user_progress.total_time_ms + EXCLUDED.total_time_ms
	`, uuid.New().String(), d.UserID, study.Day(d.Date, time.UTC), string(d.PartType),
		d.Answered, d.Correct, d.TotalTime.Milliseconds())
	return classify(OpUpsertProgress, "user_progress", d.UserID, err)
}

func (p *Postgres) SelectProgress(ctx context.Context, userID string, from, to time.Time) ([]study.UserProgress, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, date, part_type, questions_answered, correct_answers, total_time_ms, created_at
		FROM user_progress
		WHERE user_id = $1 AND date >= $2 AND date < $3
		ORDER BY date, part_type
	`, userID, from, to)
	if err != nil {
		return nil, classify(OpSelectProgress, "", "", err)
	}
	defer rows.Close()

	var out []study.UserProgress
	for rows.Next() {
		var (
			up     study.UserProgress
			part   string
			millis int64
		)
		if err := rows.Scan(&up.ID, &up.UserID, &up.Date, &part, &up.QuestionsAnswered,
			&up.CorrectAnswers, &millis, &up.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user progress: %w", err)
		}
		up.PartType = study.PartType(part)
		up.Date = study.Day(up.Date, time.UTC)
		up.TotalTime = time.Duration(millis) * time.Millisecond
		out = append(out, up)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(OpSelectProgress, "", "", err)
	}
	return out, nil
}

func durationMillis(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	ms := d.Milliseconds()
	return &ms
}

// classify maps a pgx error onto the store's error surface.
func classify(op, resource, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return &study.ConflictError{Resource: resource, Key: key, Err: err}
		case pgErr.Code == "23503":
			return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
		case strings.HasPrefix(pgErr.Code, "08"), // connection exception
			strings.HasPrefix(pgErr.Code, "53"), // insufficient resources
			pgErr.Code == "57P01", pgErr.Code == "57P02", pgErr.Code == "57P03":
			return &study.UnavailableError{Op: op, Err: err}
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var connErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.As(err, &connErr),
		errors.As(err, &netErr),
		errors.Is(err, context.DeadlineExceeded),
		pgconn.Timeout(err),
		pgconn.SafeToRetry(err):
		return &study.UnavailableError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

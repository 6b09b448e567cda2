// Package remote is the shared relational store that holds questions,
// sessions, answers and the per-day progress aggregates.
//
// Every method returns nil, a *study.UnavailableError when the store could
// not be reached, a *study.ConflictError when a uniqueness constraint was
// violated, or a plain wrapped error for anything else.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/abhisek/studysync/internal/study"
)

// ErrNotFound is wrapped when an update or child insert references a row
// that does not exist.
var ErrNotFound = errors.New("not found")

// QuestionTable reads the question bank.
type QuestionTable interface {
	SelectQuestions(ctx context.Context, f study.QuestionFilter) ([]study.Question, error)
}

// QuestionWriter loads questions into the bank.
type QuestionWriter interface {
	// UpsertQuestions inserts or replaces questions by id and returns how
	// many rows were written.
	UpsertQuestions(ctx context.Context, qs []study.Question) (int, error)
}

// SessionTable stores study sessions.
type SessionTable interface {
	InsertSession(ctx context.Context, s study.StudySession) error
	UpdateSession(ctx context.Context, s study.StudySession) error
	SelectSessions(ctx context.Context, f study.SessionFilter) ([]study.StudySession, error)
}

// AnswerTable stores user answers, unique per (session_id, question_id).
type AnswerTable interface {
	// InsertAnswer fails with a ConflictError if the key already exists.
	InsertAnswer(ctx context.Context, a study.UserAnswer) error

	// UpsertAnswer inserts or overwrites the answer for its key. created
	// reports whether a new row was inserted.
	UpsertAnswer(ctx context.Context, a study.UserAnswer) (created bool, err error)
}

// ProgressTable stores per-day, per-part progress aggregates.
type ProgressTable interface {
	// UpsertProgress adds the delta to the row for (user, date, part),
	// creating it if needed. The increment happens in the store so
	// concurrent deltas never overwrite each other.
	UpsertProgress(ctx context.Context, d study.ProgressDelta) error

	// SelectProgress returns a user's rows with from <= date < to.
	SelectProgress(ctx context.Context, userID string, from, to time.Time) ([]study.UserProgress, error)
}

// Store is the full remote surface.
type Store interface {
	QuestionTable
	QuestionWriter
	SessionTable
	AnswerTable
	ProgressTable

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}

package store

import (
	"context"
	"iter"
	"time"

	"github.com/abhisek/studysync/internal/study"
)

// AnswerBuffer is the durable queue of answers recorded while the remote
// store was unreachable. Entries are keyed by (session_id, question_id).
type AnswerBuffer interface {
	// Enqueue stores an answer with synced=false. Re-enqueuing an existing
	// key overwrites the payload in place and keeps its queue position.
	Enqueue(ctx context.Context, a study.OfflineAnswer) error

	// Pending yields unsynced entries in insertion order. The sequence is
	// lazy, finite and can be ranged over repeatedly.
	Pending(ctx context.Context) iter.Seq2[study.OfflineAnswer, error]

	// PendingThrough is Pending bounded to entries with Seq <= through.
	PendingThrough(ctx context.Context, through int64) iter.Seq2[study.OfflineAnswer, error]

	// HighWater returns the largest sequence assigned so far (0 if empty).
	HighWater(ctx context.Context) (int64, error)

	// MarkSynced flips the entry to synced if it still holds the payload
	// of answerID. It reports false when the key is missing or was
	// re-enqueued with a newer answer since it was read.
	MarkSynced(ctx context.Context, key study.AnswerKey, answerID string) (bool, error)

	// MarkLanded records that the answer row of answerID is stored remotely
	// while the entry stays pending for its progress increment.
	MarkLanded(ctx context.Context, key study.AnswerKey, answerID string) error

	// RecordFailure bumps the attempt counter and remembers the last error.
	RecordFailure(ctx context.Context, key study.AnswerKey, cause error) error

	// Get returns the entry for key, or nil if none exists.
	Get(ctx context.Context, key study.AnswerKey) (*study.OfflineAnswer, error)

	// PendingByUser returns unsynced entries for a user answered in [from, to).
	PendingByUser(ctx context.Context, userID string, from, to time.Time) ([]study.OfflineAnswer, error)

	// Counts returns the number of pending and synced entries.
	Counts(ctx context.Context) (pending, synced int, err error)

	// Purge deletes synced entries whose sync time is at or before cutoff.
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// ParkedSession is a study session whose remote write has not been
// confirmed. CreatedRemote records that the insert already landed and only
// the completion update is outstanding.
type ParkedSession struct {
	Session       study.StudySession
	CreatedRemote bool
	ParkedAt      time.Time
}

// SessionOutbox holds study sessions waiting to be written remotely.
type SessionOutbox interface {
	// Park stores or replaces the session. CreatedRemote is sticky: once
	// true for an id it stays true.
	Park(ctx context.Context, s study.StudySession, createdRemote bool) error

	// Parked returns every parked session, oldest first.
	Parked(ctx context.Context) ([]ParkedSession, error)

	// Has reports whether a session is parked.
	Has(ctx context.Context, id string) (bool, error)

	// MarkCreated records that the remote insert succeeded.
	MarkCreated(ctx context.Context, id string) error

	// Remove drops a session once its remote copy is complete.
	Remove(ctx context.Context, id string) error

	// ParkedByUser returns the parked sessions of one user.
	ParkedByUser(ctx context.Context, userID string) ([]study.StudySession, error)
}

// QuestionCache keeps the last fetched question pool per part so a session
// can start while the remote store is unreachable.
type QuestionCache interface {
	// Put stores questions with the given time-to-live.
	Put(ctx context.Context, questions []study.Question, ttl time.Duration) error

	// Get returns up to limit unexpired active questions for the filter.
	Get(ctx context.Context, f study.QuestionFilter) ([]study.Question, error)

	// Expire deletes expired entries and returns how many were removed.
	Expire(ctx context.Context) (int64, error)
}

// SyncRun summarises one reconciliation pass.
type SyncRun struct {
	ID             int       `json:"id"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Attempted      int       `json:"attempted"`
	Succeeded      int       `json:"succeeded"`
	Failed         int       `json:"failed"`
	SessionsPushed int       `json:"sessions_pushed"`
	Error          string    `json:"error,omitempty"`
}

// SyncRunRepo is the log of reconciliation passes.
type SyncRunRepo interface {
	// Save stores a new run.
	Save(ctx context.Context, run *SyncRun) error

	// Latest returns the most recent run, or nil if none exist.
	Latest(ctx context.Context) (*SyncRun, error)

	// Prune deletes all but the N most recent runs.
	Prune(ctx context.Context, keep int) error
}

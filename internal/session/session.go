// Package session runs a study session: it fetches the question set,
// serves questions in order, records answers and finalizes the score.
//
// Remote write failures never fail the learner. An answer the remote store
// rejects as unavailable is kept in the offline answer buffer, and a session
// row that could not be written is parked in the local outbox. The
// reconciler replays both later.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/abhisek/studysync/internal/questions"
	"github.com/abhisek/studysync/internal/remote"
	"github.com/abhisek/studysync/internal/store"
	"github.com/abhisek/studysync/internal/study"
)

// Remote is the part of the remote store a session writes to.
type Remote interface {
	remote.SessionTable
	remote.AnswerTable
}

// ProgressRecorder receives progress side effects. Failures are logged by
// the caller and never undo the answer or the session.
type ProgressRecorder interface {
	RecordAnswer(ctx context.Context, userID string, at time.Time, part study.PartType, correct bool, timeTaken time.Duration) error
	SessionCompleted(ctx context.Context, s study.StudySession) error

	// AnswerBuffered is called after an answer is queued in the offline
	// buffer.
	AnswerBuffered(ctx context.Context, a study.OfflineAnswer) error
}

// Options wires a Service.
type Options struct {
	Remote    Remote
	Buffer    store.AnswerBuffer
	Outbox    store.SessionOutbox
	Questions questions.Source
	Progress  ProgressRecorder // optional

	// StrictRemote surfaces remote write failures instead of buffering.
	StrictRemote bool

	Logger zerolog.Logger
	Clock  func() time.Time // default time.Now
	NewID  func() string    // default random UUID
}

// Service starts study sessions.
type Service struct {
	opts Options
}

// NewService creates a Service.
func NewService(opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}
	return &Service{opts: opts}
}

// StartRequest describes a new session.
type StartRequest struct {
	UserID        string
	PartType      study.PartType
	QuestionCount int
	Difficulty    *study.Difficulty
}

// Start fetches the question set and creates the session. The session row
// is written remotely, or parked locally when the remote store is down.
func (s *Service) Start(ctx context.Context, req StartRequest) (*Engine, error) {
	if req.UserID == "" {
		return nil, &study.ValidationError{Field: "user_id", Reason: "required"}
	}
	if !req.PartType.Valid() {
		return nil, &study.ValidationError{Field: "part_type", Reason: fmt.Sprintf("unknown part %q", req.PartType)}
	}
	if req.QuestionCount <= 0 {
		return nil, &study.ValidationError{Field: "question_count", Reason: "must be positive"}
	}

	qs, err := s.opts.Questions.Fetch(ctx, req.PartType, req.QuestionCount, req.Difficulty)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	now := s.opts.Clock().UTC()
	e := &Engine{
		svc: s,
		log: s.opts.Logger,
		state: &sessionState{
			Session: study.StudySession{
				ID:             s.opts.NewID(),
				UserID:         req.UserID,
				PartType:       req.PartType,
				StartTime:      now,
				TotalQuestions: len(qs),
				CreatedAt:      now,
			},
			Questions: qs,
			Phase:     PhaseCreated,
		},
	}
	e.log = e.log.With().Str("session_id", e.state.Session.ID).Str("user_id", req.UserID).Logger()

	err = s.opts.Remote.InsertSession(ctx, e.state.Session)
	switch {
	case err == nil, study.IsConflict(err):
	case s.opts.StrictRemote:
		return nil, fmt.Errorf("create session: %w", err)
	default:
		if perr := s.opts.Outbox.Park(ctx, e.state.Session, false); perr != nil {
			return nil, fmt.Errorf("park session: %w", perr)
		}
		e.state.Parked = true
		e.log.Warn().Err(err).Msg("session parked until next sync")
	}

	e.log.Debug().
		Str("part", string(req.PartType)).
		Int("questions", len(qs)).
		Msg("session started")
	return e, nil
}

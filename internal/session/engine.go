package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/abhisek/studysync/internal/study"
)

// Engine drives one study session. Its methods serialize on a mutex, so a
// single Engine may be shared by concurrent callers.
type Engine struct {
	svc   *Service
	log   zerolog.Logger
	state *sessionState
}

// Session returns a copy of the session record.
func (e *Engine) Session() study.StudySession {
	e.state.mu.Lock()
	defer e.state.mu.Unlock()
	return e.state.Session
}

// Phase returns the lifecycle phase.
func (e *Engine) Phase() Phase {
	e.state.mu.Lock()
	defer e.state.mu.Unlock()
	return e.state.Phase
}

// Position returns the index of the next question and the question count.
func (e *Engine) Position() (index, total int) {
	e.state.mu.Lock()
	defer e.state.mu.Unlock()
	return e.state.Index, len(e.state.Questions)
}

// CurrentQuestion returns the question waiting for an answer. The first
// call moves a new session into progress.
func (e *Engine) CurrentQuestion() (study.Question, error) {
	e.state.mu.Lock()
	defer e.state.mu.Unlock()

	st := e.state
	if st.Phase == PhaseCompleted {
		return study.Question{}, &study.InvalidStateError{Op: "get question", State: st.Phase.String()}
	}
	if st.Index >= len(st.Questions) {
		return study.Question{}, &study.OutOfRangeError{Index: st.Index, Total: len(st.Questions)}
	}
	if st.Phase == PhaseCreated {
		st.Phase = PhaseInProgress
	}
	return st.Questions[st.Index], nil
}

// SubmitAnswer grades answer against the current question, stores it and
// advances to the next question. Matching is exact and case-sensitive.
//
// If the remote store cannot take the answer it is buffered locally and the
// submission still succeeds with Buffered set.
func (e *Engine) SubmitAnswer(ctx context.Context, answer string, timeTaken time.Duration) (Submission, error) {
	e.state.mu.Lock()
	defer e.state.mu.Unlock()

	st := e.state
	if st.Phase == PhaseCompleted {
		return Submission{}, &study.InvalidStateError{Op: "submit answer", State: st.Phase.String()}
	}
	if st.Index >= len(st.Questions) {
		return Submission{}, &study.InvalidStateError{Op: "submit answer", State: "out of questions"}
	}

	q := st.Questions[st.Index]
	correct := answer == q.CorrectAnswer
	ua := study.UserAnswer{
		ID:         e.svc.opts.NewID(),
		SessionID:  st.Session.ID,
		QuestionID: q.ID,
		UserAnswer: answer,
		IsCorrect:  correct,
		AnsweredAt: e.svc.opts.Clock().UTC(),
	}
	if timeTaken > 0 {
		d := timeTaken
		ua.TimeTaken = &d
	}

	buffered, err := e.persistAnswer(ctx, ua)
	if err != nil {
		return Submission{}, err
	}

	st.Answers = append(st.Answers, ua)
	st.Tally.Record(correct, timeTaken)
	if correct {
		st.ConsecutiveCorrect++
	} else {
		st.ConsecutiveCorrect = 0
	}
	st.Index++
	if st.Phase == PhaseCreated {
		st.Phase = PhaseInProgress
	}

	return Submission{
		Answer:             ua,
		Correct:            correct,
		Buffered:           buffered,
		CorrectAnswer:      q.CorrectAnswer,
		Explanation:        q.Explanation,
		ConsecutiveCorrect: st.ConsecutiveCorrect,
		Remaining:          len(st.Questions) - st.Index,
	}, nil
}

// persistAnswer writes the answer remotely, or buffers it. Progress is
// incremented here only when the remote row was newly created; buffered
// answers are counted by the reconciler once they land.
func (e *Engine) persistAnswer(ctx context.Context, ua study.UserAnswer) (bool, error) {
	st := e.state
	opts := e.svc.opts

	var remoteErr error
	if !st.Parked {
		created, err := opts.Remote.UpsertAnswer(ctx, ua)
		if err == nil {
			if created {
				return false, e.recordProgress(ctx, ua)
			}
			return false, nil
		}
		if study.IsConflict(err) {
			return false, nil
		}
		if opts.StrictRemote {
			return false, fmt.Errorf("save answer: %w", err)
		}
		remoteErr = err
	}

	if err := e.enqueue(ctx, ua, false); err != nil {
		return false, err
	}
	e.log.Info().
		Err(remoteErr).
		Str("question_id", ua.QuestionID).
		Bool("session_parked", st.Parked).
		Msg("answer buffered for sync")
	return true, nil
}

func (e *Engine) enqueue(ctx context.Context, ua study.UserAnswer, landed bool) error {
	st := e.state
	oa := study.OfflineAnswer{
		UserAnswer: ua,
		UserID:     st.Session.UserID,
		PartType:   st.Session.PartType,
		Landed:     landed,
	}
	if err := e.svc.opts.Buffer.Enqueue(ctx, oa); err != nil {
		return fmt.Errorf("buffer answer: %w", err)
	}
	if p := e.svc.opts.Progress; p != nil {
		if err := p.AnswerBuffered(ctx, oa); err != nil {
			e.log.Warn().Err(err).Str("question_id", ua.QuestionID).Msg("notify buffered answer")
		}
	}
	return nil
}

// recordProgress increments the user's progress for a stored answer. If the
// increment cannot be written, the answer is queued as landed so the
// reconciler retries only the increment.
func (e *Engine) recordProgress(ctx context.Context, ua study.UserAnswer) error {
	p := e.svc.opts.Progress
	if p == nil {
		return nil
	}
	st := e.state
	err := p.RecordAnswer(ctx, st.Session.UserID, ua.AnsweredAt, st.Session.PartType, ua.IsCorrect, ua.Elapsed())
	if err == nil {
		return nil
	}
	log := e.log.Warn().Err(err).Str("question_id", ua.QuestionID)
	if study.IsValidation(err) {
		log.Msg("record progress")
		return nil
	}
	log.Msg("record progress, queued for sync")
	return e.enqueue(ctx, ua, true)
}

// Complete finalizes a session whose questions have all been answered.
func (e *Engine) Complete(ctx context.Context) (StudyResult, error) {
	e.state.mu.Lock()
	defer e.state.mu.Unlock()

	st := e.state
	if st.Phase == PhaseCompleted {
		return StudyResult{}, &study.InvalidStateError{Op: "complete", State: st.Phase.String()}
	}
	if st.Index < len(st.Questions) {
		return StudyResult{}, &study.InvalidStateError{
			Op:    "complete",
			State: fmt.Sprintf("%s with %d of %d answered", st.Phase, st.Index, len(st.Questions)),
		}
	}
	return e.finish(ctx)
}

// EndEarly finalizes the session before every question is answered.
// Unanswered questions count as wrong.
func (e *Engine) EndEarly(ctx context.Context) (StudyResult, error) {
	e.state.mu.Lock()
	defer e.state.mu.Unlock()

	if e.state.Phase == PhaseCompleted {
		return StudyResult{}, &study.InvalidStateError{Op: "end", State: e.state.Phase.String()}
	}
	return e.finish(ctx)
}

// finish writes the completed session and commits it to the engine state
// only once it is stored somewhere durable.
func (e *Engine) finish(ctx context.Context) (StudyResult, error) {
	st := e.state
	opts := e.svc.opts

	done := st.Session
	end := opts.Clock().UTC()
	score := st.Tally.Score(done.TotalQuestions)
	done.EndTime = &end
	done.Score = &score
	done.Completed = true

	buffered := false
	if st.Parked {
		if err := opts.Outbox.Park(ctx, done, false); err != nil {
			return StudyResult{}, fmt.Errorf("park session: %w", err)
		}
		buffered = true
	} else if err := opts.Remote.UpdateSession(ctx, done); err != nil {
		if opts.StrictRemote {
			return StudyResult{}, fmt.Errorf("complete session: %w", err)
		}
		if perr := opts.Outbox.Park(ctx, done, true); perr != nil {
			return StudyResult{}, fmt.Errorf("park session: %w", perr)
		}
		buffered = true
		e.log.Warn().Err(err).Msg("session completion parked until next sync")
	}

	st.Session = done
	st.Phase = PhaseCompleted

	if opts.Progress != nil {
		if err := opts.Progress.SessionCompleted(ctx, done); err != nil {
			e.log.Warn().Err(err).Msg("record session completion")
		}
	}

	e.log.Info().
		Float64("score", score).
		Int("answered", st.Tally.Answered).
		Int("total", done.TotalQuestions).
		Msg("session completed")
	return buildResult(st, buffered), nil
}

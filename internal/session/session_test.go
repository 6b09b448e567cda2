package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/studysync/internal/progress"
	"github.com/abhisek/studysync/internal/questions"
	"github.com/abhisek/studysync/internal/remote"
	"github.com/abhisek/studysync/internal/store"
	"github.com/abhisek/studysync/internal/study"
)

type recordedAnswer struct {
	userID  string
	part    study.PartType
	correct bool
	elapsed time.Duration
}

// fakeProgress records progress side effects.
type fakeProgress struct {
	mu        sync.Mutex
	answers   []recordedAnswer
	completed []study.StudySession
	buffered  []study.OfflineAnswer
	err       error
}

func (f *fakeProgress) RecordAnswer(_ context.Context, userID string, _ time.Time, part study.PartType, correct bool, timeTaken time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.answers = append(f.answers, recordedAnswer{userID, part, correct, timeTaken})
	return nil
}

func (f *fakeProgress) SessionCompleted(_ context.Context, s study.StudySession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.completed = append(f.completed, s)
	return nil
}

func (f *fakeProgress) AnswerBuffered(_ context.Context, a study.OfflineAnswer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buffered = append(f.buffered, a)
	return nil
}

type harness struct {
	remote   *remote.Memory
	store    *store.Store
	progress *fakeProgress
	svc      *Service
	now      time.Time
}

func newHarness(t *testing.T, questionCount int, mutate ...func(*Options)) *harness {
	t.Helper()

	m := remote.NewMemory()
	var qs []study.Question
	for i := 0; i < questionCount; i++ {
		qs = append(qs, study.Question{
			ID:            fmt.Sprintf("q%02d", i),
			PartType:      study.Part5,
			Content:       "Please submit the form ___ Friday.",
			Options:       []string{"A", "B", "C", "D"},
			CorrectAnswer: "A",
			Explanation:   "Deadline preposition.",
			Difficulty:    study.Easy,
			IsActive:      true,
		})
	}
	_, err := m.UpsertQuestions(context.Background(), qs)
	require.NoError(t, err)

	s, err := store.Open(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	h := &harness{
		remote:   m,
		store:    s,
		progress: &fakeProgress{},
		now:      time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	ids := 0
	opts := Options{
		Remote:    m,
		Buffer:    s.AnswerBuffer(),
		Outbox:    s.SessionOutbox(),
		Questions: questions.NewPool(m, questions.DefaultMaxPerSession),
		Progress:  h.progress,
		Logger:    zerolog.Nop(),
		Clock:     func() time.Time { return h.now },
		NewID: func() string {
			ids++
			return fmt.Sprintf("id-%03d", ids)
		},
	}
	for _, f := range mutate {
		f(&opts)
	}
	h.svc = NewService(opts)
	return h
}

func (h *harness) start(t *testing.T, count int) *Engine {
	t.Helper()
	e, err := h.svc.Start(context.Background(), StartRequest{
		UserID:        "u1",
		PartType:      study.Part5,
		QuestionCount: count,
	})
	require.NoError(t, err)
	return e
}

func pendingAnswers(t *testing.T, s *store.Store) []study.OfflineAnswer {
	t.Helper()
	var out []study.OfflineAnswer
	for a, err := range s.AnswerBuffer().Pending(context.Background()) {
		require.NoError(t, err)
		out = append(out, a)
	}
	return out
}

func TestStartValidation(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   StartRequest
		field string
	}{
		{"zero count", StartRequest{UserID: "u1", PartType: study.Part5, QuestionCount: 0}, "question_count"},
		{"negative count", StartRequest{UserID: "u1", PartType: study.Part5, QuestionCount: -2}, "question_count"},
		{"missing user", StartRequest{PartType: study.Part5, QuestionCount: 3}, "user_id"},
		{"unknown part", StartRequest{UserID: "u1", PartType: "part1", QuestionCount: 3}, "part_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Start(ctx, tt.req)
			var ve *study.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
	assert.Zero(t, h.remote.Calls(remote.OpInsertSession), "nothing written for invalid input")
}

func TestStartCreatesSession(t *testing.T) {
	h := newHarness(t, 5)
	e := h.start(t, 3)

	s := e.Session()
	assert.Equal(t, "u1", s.UserID)
	assert.Equal(t, 3, s.TotalQuestions)
	assert.False(t, s.Completed)
	assert.Nil(t, s.EndTime)
	assert.Nil(t, s.Score)
	assert.Equal(t, h.now, s.StartTime)
	assert.Equal(t, PhaseCreated, e.Phase())

	stored, ok := h.remote.Session(s.ID)
	require.True(t, ok)
	assert.Equal(t, s.ID, stored.ID)
}

func TestStartFewerQuestionsThanRequested(t *testing.T) {
	h := newHarness(t, 2)
	e := h.start(t, 10)

	_, total := e.Position()
	assert.Equal(t, 2, total)
	assert.Equal(t, 2, e.Session().TotalQuestions)
}

func TestStartAboveCapCountsFetchedQuestions(t *testing.T) {
	h := newHarness(t, 5)
	h.svc.opts.Questions = questions.NewPool(h.remote, 3)
	ctx := context.Background()
	e := h.start(t, 10)

	assert.Equal(t, 3, e.Session().TotalQuestions)
	for range 3 {
		_, err := e.SubmitAnswer(ctx, "A", time.Second)
		require.NoError(t, err)
	}
	res, err := e.Complete(ctx)
	require.NoError(t, err, "a capped session can still be completed")
	assert.Equal(t, 1.0, res.Score)
}

func TestFullSession(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()
	e := h.start(t, 3)

	q, err := e.CurrentQuestion()
	require.NoError(t, err)
	assert.Equal(t, "q00", q.ID)
	assert.Equal(t, PhaseInProgress, e.Phase())

	sub, err := e.SubmitAnswer(ctx, "A", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, sub.Correct)
	assert.False(t, sub.Buffered)
	assert.Equal(t, 1, sub.ConsecutiveCorrect)
	assert.Equal(t, 2, sub.Remaining)
	assert.Equal(t, "Deadline preposition.", sub.Explanation)

	q, err = e.CurrentQuestion()
	require.NoError(t, err)
	assert.Equal(t, "q01", q.ID)

	sub, err = e.SubmitAnswer(ctx, "B", 7*time.Second)
	require.NoError(t, err)
	assert.False(t, sub.Correct)
	assert.Equal(t, "A", sub.CorrectAnswer)
	assert.Zero(t, sub.ConsecutiveCorrect)

	_, err = e.SubmitAnswer(ctx, "A", 0)
	require.NoError(t, err)

	h.now = h.now.Add(2 * time.Minute)
	res, err := e.Complete(ctx)
	require.NoError(t, err)

	assert.InDelta(t, 2.0/3.0, res.Score, 1e-9)
	assert.InDelta(t, 2.0/3.0, res.Accuracy, 1e-9)
	assert.Equal(t, 12*time.Second, res.TotalTime)
	assert.False(t, res.Buffered)
	assert.Len(t, res.Answers, 3)
	require.NotNil(t, res.Session.EndTime)
	assert.Equal(t, h.now, *res.Session.EndTime)
	assert.True(t, res.Session.Completed)
	assert.Equal(t, PhaseCompleted, e.Phase())

	stored, ok := h.remote.Session(res.Session.ID)
	require.True(t, ok)
	assert.True(t, stored.Completed)
	require.NotNil(t, stored.Score)
	assert.InDelta(t, 2.0/3.0, *stored.Score, 1e-9)
	assert.Len(t, h.remote.Answers(), 3)

	assert.Len(t, h.progress.answers, 3)
	assert.Equal(t, recordedAnswer{"u1", study.Part5, true, 5 * time.Second}, h.progress.answers[0])
	assert.Len(t, h.progress.completed, 1)
}

func TestAnswerMatchIsCaseSensitive(t *testing.T) {
	h := newHarness(t, 1)
	e := h.start(t, 1)

	sub, err := e.SubmitAnswer(context.Background(), "a", time.Second)
	require.NoError(t, err)
	assert.False(t, sub.Correct)
}

func TestCurrentQuestionOutOfRange(t *testing.T) {
	h := newHarness(t, 1)
	e := h.start(t, 1)

	_, err := e.SubmitAnswer(context.Background(), "A", time.Second)
	require.NoError(t, err)

	_, err = e.CurrentQuestion()
	assert.True(t, study.IsOutOfRange(err), "got %v", err)
}

func TestSubmitPastLastQuestion(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()
	e := h.start(t, 2)

	for range 2 {
		_, err := e.SubmitAnswer(ctx, "A", time.Second)
		require.NoError(t, err)
	}

	_, err := e.SubmitAnswer(ctx, "A", time.Second)
	assert.True(t, study.IsInvalidState(err), "got %v", err)
	assert.Len(t, h.remote.Answers(), 2, "answer count never exceeds total")
}

func TestCompleteTransitions(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()
	e := h.start(t, 2)

	_, err := e.Complete(ctx)
	assert.True(t, study.IsInvalidState(err), "complete before the last answer: %v", err)

	for range 2 {
		_, err := e.SubmitAnswer(ctx, "A", time.Second)
		require.NoError(t, err)
	}
	_, err = e.Complete(ctx)
	require.NoError(t, err)

	_, err = e.Complete(ctx)
	assert.True(t, study.IsInvalidState(err), "second complete: %v", err)
	_, err = e.EndEarly(ctx)
	assert.True(t, study.IsInvalidState(err), "end after complete: %v", err)
	_, err = e.SubmitAnswer(ctx, "A", time.Second)
	assert.True(t, study.IsInvalidState(err), "answer after complete: %v", err)
	_, err = e.CurrentQuestion()
	assert.True(t, study.IsInvalidState(err), "question after complete: %v", err)

	assert.Len(t, h.progress.completed, 1)
}

func TestEndEarlyCountsUnansweredAsWrong(t *testing.T) {
	h := newHarness(t, 4)
	ctx := context.Background()
	e := h.start(t, 4)

	_, err := e.SubmitAnswer(ctx, "A", time.Second)
	require.NoError(t, err)

	res, err := e.EndEarly(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.25, res.Score)
	assert.Equal(t, 1.0, res.Accuracy)
	assert.Equal(t, 4, res.Session.TotalQuestions)
	assert.True(t, res.Session.Completed)
}

func TestEmptySessionScoresZero(t *testing.T) {
	h := newHarness(t, 0)
	e := h.start(t, 5)

	_, err := e.CurrentQuestion()
	assert.True(t, study.IsOutOfRange(err))

	res, err := e.Complete(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Score)
	assert.Zero(t, res.Session.TotalQuestions)
}

func TestSubmitBuffersWhenRemoteDown(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()
	e := h.start(t, 3)

	h.remote.SetAvailable(false)

	sub, err := e.SubmitAnswer(ctx, "A", 3*time.Second)
	require.NoError(t, err, "buffered answers still succeed")
	assert.True(t, sub.Buffered)

	idx, _ := e.Position()
	assert.Equal(t, 1, idx, "index advances")

	pending := pendingAnswers(t, h.store)
	require.Len(t, pending, 1)
	assert.Equal(t, "q00", pending[0].QuestionID)
	assert.Equal(t, "u1", pending[0].UserID)
	assert.Equal(t, study.Part5, pending[0].PartType)
	assert.False(t, pending[0].Synced)
	assert.False(t, pending[0].Landed)
	assert.Empty(t, h.progress.answers, "progress waits for the sync")
	require.Len(t, h.progress.buffered, 1)
	assert.Equal(t, "q00", h.progress.buffered[0].QuestionID)
}

func TestCompleteParksWhenRemoteDown(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	e := h.start(t, 1)

	_, err := e.SubmitAnswer(ctx, "A", time.Second)
	require.NoError(t, err)

	h.remote.SetAvailable(false)
	res, err := e.Complete(ctx)
	require.NoError(t, err)
	assert.True(t, res.Buffered)
	assert.Equal(t, PhaseCompleted, e.Phase())

	parked, err := h.store.SessionOutbox().Parked(ctx)
	require.NoError(t, err)
	require.Len(t, parked, 1)
	assert.True(t, parked[0].CreatedRemote)
	assert.True(t, parked[0].Session.Completed)

	stored, _ := h.remote.Session(res.Session.ID)
	assert.False(t, stored.Completed, "remote copy is untouched until sync")
}

func TestStartParksWhenRemoteDown(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()

	// Questions come from the pool; only session and answer writes fail.
	h.remote.SetFault(func(op string) error {
		if op == remote.OpSelectQuestions {
			return nil
		}
		return &study.UnavailableError{Op: op, Err: errors.New("connection refused")}
	})

	e := h.start(t, 2)
	parked, err := h.store.SessionOutbox().Parked(ctx)
	require.NoError(t, err)
	require.Len(t, parked, 1)
	assert.False(t, parked[0].CreatedRemote)

	h.remote.SetFault(nil)
	for range 2 {
		sub, err := e.SubmitAnswer(ctx, "A", time.Second)
		require.NoError(t, err)
		assert.True(t, sub.Buffered, "answers of a parked session go straight to the buffer")
	}
	assert.Zero(t, h.remote.Calls(remote.OpUpsertAnswer))

	res, err := e.Complete(ctx)
	require.NoError(t, err)
	assert.True(t, res.Buffered)
	assert.Zero(t, h.remote.Calls(remote.OpUpdateSession))

	parked, err = h.store.SessionOutbox().Parked(ctx)
	require.NoError(t, err)
	require.Len(t, parked, 1)
	assert.True(t, parked[0].Session.Completed)
	assert.Len(t, pendingAnswers(t, h.store), 2)
}

func TestStrictRemoteSurfacesFailures(t *testing.T) {
	h := newHarness(t, 2, func(o *Options) { o.StrictRemote = true })
	ctx := context.Background()
	e := h.start(t, 2)

	h.remote.SetAvailable(false)
	_, err := e.SubmitAnswer(ctx, "A", time.Second)
	assert.True(t, study.IsUnavailable(err), "got %v", err)

	idx, _ := e.Position()
	assert.Zero(t, idx, "failed answer does not advance")
	assert.Empty(t, pendingAnswers(t, h.store))

	_, err = e.EndEarly(ctx)
	assert.True(t, study.IsUnavailable(err))
	assert.NotEqual(t, PhaseCompleted, e.Phase(), "failed completion is not committed")

	h.remote.SetAvailable(true)
	_, err = e.EndEarly(ctx)
	require.NoError(t, err)
}

func TestStrictRemoteStartFails(t *testing.T) {
	h := newHarness(t, 2, func(o *Options) { o.StrictRemote = true })
	h.remote.SetFault(func(op string) error {
		if op == remote.OpInsertSession {
			return &study.UnavailableError{Op: op, Err: errors.New("timeout")}
		}
		return nil
	})

	_, err := h.svc.Start(context.Background(), StartRequest{UserID: "u1", PartType: study.Part5, QuestionCount: 2})
	assert.True(t, study.IsUnavailable(err))
}

func TestStartFailsWhenPoolUnavailable(t *testing.T) {
	h := newHarness(t, 2)
	h.remote.SetAvailable(false)

	_, err := h.svc.Start(context.Background(), StartRequest{UserID: "u1", PartType: study.Part5, QuestionCount: 2})
	assert.True(t, study.IsUnavailable(err))
}

func TestProgressFailureDoesNotFailSession(t *testing.T) {
	h := newHarness(t, 1)
	h.progress.err = errors.New("progress table locked")
	ctx := context.Background()
	e := h.start(t, 1)

	sub, err := e.SubmitAnswer(ctx, "A", time.Second)
	require.NoError(t, err)
	assert.False(t, sub.Buffered, "the answer itself was stored")
	assert.Len(t, h.remote.Answers(), 1)

	pending := pendingAnswers(t, h.store)
	require.Len(t, pending, 1, "increment is queued for sync")
	assert.True(t, pending[0].Landed)
	assert.Equal(t, sub.Answer.ID, pending[0].ID)
	assert.Len(t, h.progress.buffered, 1)

	res, err := e.Complete(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Score)
}

func TestProgressValidationErrorIsNotQueued(t *testing.T) {
	h := newHarness(t, 1)
	h.progress.err = &study.ValidationError{Field: "part_type", Reason: "unknown"}
	e := h.start(t, 1)

	_, err := e.SubmitAnswer(context.Background(), "A", time.Second)
	require.NoError(t, err)
	assert.Empty(t, pendingAnswers(t, h.store), "retrying cannot fix a rejected increment")
}

func TestBufferedAnswerRefreshesCachedStats(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()
	agg := progress.New(progress.Options{
		Remote: h.remote,
		Buffer: h.store.AnswerBuffer(),
		Outbox: h.store.SessionOutbox(),
		Cache:  progress.NewMemoryCache(),
		Logger: zerolog.Nop(),
		Clock:  func() time.Time { return h.now },
	})
	h.svc.opts.Progress = agg
	e := h.start(t, 2)
	week := study.WeekStart(agg.Today())

	st, err := agg.WeeklyStats(ctx, "u1", week)
	require.NoError(t, err)
	require.Zero(t, st.Answered)

	h.remote.SetFault(func(op string) error {
		if op == remote.OpUpsertAnswer {
			return &study.UnavailableError{Op: op, Err: errors.New("connection refused")}
		}
		return nil
	})
	sub, err := e.SubmitAnswer(ctx, "A", time.Second)
	require.NoError(t, err)
	require.True(t, sub.Buffered)

	st, err = agg.WeeklyStats(ctx, "u1", week)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Answered)
	assert.Equal(t, 1, st.Buffered)
}

func TestConcurrentSubmitsNeverExceedTotal(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	e := h.start(t, 10)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.SubmitAnswer(ctx, "A", time.Second)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
			} else if study.IsInvalidState(err) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, accepted)
	assert.Equal(t, 15, rejected)
	assert.Len(t, h.remote.Answers(), 10)
}

package remote

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/studysync/internal/study"
)

func seedQuestions(t *testing.T, m *Memory) {
	t.Helper()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	qs := []study.Question{
		{ID: "p5-1", PartType: study.Part5, Options: []string{"A", "B"}, CorrectAnswer: "A", Difficulty: study.Easy, IsActive: true, CreatedAt: base},
		{ID: "p5-2", PartType: study.Part5, Options: []string{"A", "B"}, CorrectAnswer: "B", Difficulty: study.Hard, IsActive: true, CreatedAt: base.Add(time.Minute)},
		{ID: "p5-3", PartType: study.Part5, Options: []string{"A", "B"}, CorrectAnswer: "A", Difficulty: study.Easy, IsActive: false, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "p6-1", PartType: study.Part6, Options: []string{"A", "B"}, CorrectAnswer: "A", Difficulty: study.Easy, IsActive: true, CreatedAt: base},
	}
	n, err := m.UpsertQuestions(context.Background(), qs)
	require.NoError(t, err)
	require.Equal(t, len(qs), n)
}

func TestMemorySelectQuestions(t *testing.T) {
	m := NewMemory()
	seedQuestions(t, m)
	ctx := context.Background()

	got, err := m.SelectQuestions(ctx, study.QuestionFilter{PartType: study.Part5, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p5-1", got[0].ID)
	assert.Equal(t, "p5-2", got[1].ID)

	easy := study.Easy
	got, err = m.SelectQuestions(ctx, study.QuestionFilter{PartType: study.Part5, Difficulty: &easy})
	require.NoError(t, err)
	assert.Len(t, got, 2, "inactive questions are returned when ActiveOnly is false")

	got, err = m.SelectQuestions(ctx, study.QuestionFilter{PartType: study.Part5, ActiveOnly: true, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMemoryUnavailable(t *testing.T) {
	m := NewMemory()
	m.SetAvailable(false)
	ctx := context.Background()

	_, err := m.SelectQuestions(ctx, study.QuestionFilter{PartType: study.Part5})
	assert.True(t, study.IsUnavailable(err))
	assert.True(t, study.IsUnavailable(m.Ping(ctx)))
	assert.True(t, study.IsUnavailable(m.InsertSession(ctx, study.StudySession{ID: "s1"})))
	assert.Equal(t, 1, m.Calls(OpInsertSession))
	assert.Empty(t, m.Sessions())

	m.SetAvailable(true)
	assert.NoError(t, m.Ping(ctx))
}

func TestMemoryFaultHook(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.InsertSession(ctx, study.StudySession{ID: "s1", UserID: "u1"}))

	m.SetFault(func(op string) error {
		if op == OpUpsertAnswer {
			return &study.UnavailableError{Op: op, Err: errors.New("timeout")}
		}
		return nil
	})

	_, err := m.UpsertAnswer(ctx, study.UserAnswer{ID: "a1", SessionID: "s1", QuestionID: "q1"})
	assert.True(t, study.IsUnavailable(err))
	assert.NoError(t, m.UpsertProgress(ctx, study.ProgressDelta{UserID: "u1", Date: time.Now(), PartType: study.Part5, Answered: 1}))
}

func TestMemorySessionConflict(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	s := study.StudySession{ID: "s1", UserID: "u1", PartType: study.Part5, TotalQuestions: 3}

	require.NoError(t, m.InsertSession(ctx, s))
	err := m.InsertSession(ctx, s)
	assert.True(t, study.IsConflict(err))

	s.Completed = true
	require.NoError(t, m.UpdateSession(ctx, s))
	got, ok := m.Session("s1")
	require.True(t, ok)
	assert.True(t, got.Completed)

	err = m.UpdateSession(ctx, study.StudySession{ID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryAnswers(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.InsertSession(ctx, study.StudySession{ID: "s1", UserID: "u1"}))

	a := study.UserAnswer{ID: "a1", SessionID: "s1", QuestionID: "q1", UserAnswer: "A", IsCorrect: true}
	require.NoError(t, m.InsertAnswer(ctx, a))
	assert.True(t, study.IsConflict(m.InsertAnswer(ctx, a)))

	created, err := m.UpsertAnswer(ctx, study.UserAnswer{ID: "a2", SessionID: "s1", QuestionID: "q1", UserAnswer: "B"})
	require.NoError(t, err)
	assert.False(t, created)

	created, err = m.UpsertAnswer(ctx, study.UserAnswer{ID: "a3", SessionID: "s1", QuestionID: "q2", UserAnswer: "C"})
	require.NoError(t, err)
	assert.True(t, created)

	answers := m.Answers()
	require.Len(t, answers, 2)
	assert.Equal(t, "a1", answers[0].ID, "upsert keeps the original row id")
	assert.Equal(t, "B", answers[0].UserAnswer)

	_, err = m.UpsertAnswer(ctx, study.UserAnswer{ID: "x", SessionID: "nope", QuestionID: "q1"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemorySelectSessions(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 10, 10, 9, 0, 0, 0, time.UTC)
	for i, done := range []bool{true, false, true, true} {
		require.NoError(t, m.InsertSession(ctx, study.StudySession{
			ID:        string(rune('a' + i)),
			UserID:    "u1",
			StartTime: base.AddDate(0, 0, i),
			Completed: done,
		}))
	}
	require.NoError(t, m.InsertSession(ctx, study.StudySession{ID: "other", UserID: "u2", StartTime: base, Completed: true}))

	completed := true
	got, err := m.SelectSessions(ctx, study.SessionFilter{UserID: "u1", Completed: &completed, NewestFirst: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "d", got[0].ID)
	assert.Equal(t, "c", got[1].ID)

	got, err = m.SelectSessions(ctx, study.SessionFilter{UserID: "u1", Since: base.AddDate(0, 0, 1), Until: base.AddDate(0, 0, 3)})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
}

func TestMemoryProgressMergeIncrement(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	day := time.Date(2026, 10, 15, 23, 30, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(correct bool) {
			defer wg.Done()
			d := study.ProgressDelta{UserID: "u1", Date: day, PartType: study.Part5, Answered: 1, TotalTime: time.Second}
			if correct {
				d.Correct = 1
			}
			assert.NoError(t, m.UpsertProgress(ctx, d))
		}(i%2 == 0)
	}
	wg.Wait()

	rows := m.Progress()
	require.Len(t, rows, 1)
	assert.Equal(t, 20, rows[0].QuestionsAnswered)
	assert.Equal(t, 10, rows[0].CorrectAnswers)
	assert.Equal(t, 20*time.Second, rows[0].TotalTime)
	assert.Equal(t, study.Day(day, time.UTC), rows[0].Date)

	got, err := m.SelectProgress(ctx, "u1", study.Day(day, time.UTC), study.Day(day, time.UTC).AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = m.SelectProgress(ctx, "u1", study.Day(day, time.UTC).AddDate(0, 0, 1), study.Day(day, time.UTC).AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Empty(t, got)
}

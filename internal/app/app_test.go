package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/studysync/internal/config"
	"github.com/abhisek/studysync/internal/logging"
	"github.com/abhisek/studysync/internal/remote"
	"github.com/abhisek/studysync/internal/session"
	"github.com/abhisek/studysync/internal/study"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DB = filepath.Join(t.TempDir(), "app.db")
	cfg.Stats.Timezone = "UTC"
	return &cfg
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Remote.Driver = "mysql"
	_, err := New(context.Background(), cfg, Options{Logger: logging.Nop()})
	require.Error(t, err)
}

func TestNewWiresServices(t *testing.T) {
	ctx := context.Background()
	m := remote.NewMemory()
	_, err := m.UpsertQuestions(ctx, []study.Question{{
		ID:            "q1",
		PartType:      study.Part6,
		Content:       "Please ___ the attached form.",
		Options:       []string{"complete", "completes", "completing", "completed"},
		CorrectAnswer: "complete",
		Difficulty:    study.Easy,
		IsActive:      true,
	}})
	require.NoError(t, err)

	a, err := New(ctx, testConfig(t), Options{Logger: logging.Nop(), Remote: m})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	e, err := a.Sessions.Start(ctx, session.StartRequest{UserID: "u1", PartType: study.Part6, QuestionCount: 1})
	require.NoError(t, err)
	_, err = e.SubmitAnswer(ctx, "complete", 0)
	require.NoError(t, err)
	res, err := e.Complete(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Score)

	st, err := a.Stats.WeeklyStats(ctx, "u1", study.WeekStart(a.Stats.Today()))
	require.NoError(t, err)
	assert.Equal(t, 1, st.Answered)
	assert.Equal(t, 1, st.StreakDays)

	checks := a.Check(ctx)
	assert.NoError(t, checks["local"])
	assert.NoError(t, checks["remote"])
	assert.NotContains(t, checks, "redis")
}

func TestMemoryDriverAndUnreachableRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redis.URL = "redis://127.0.0.1:1/0"

	a, err := New(context.Background(), cfg, Options{Logger: logging.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	assert.Nil(t, a.Postgres)
	assert.Nil(t, a.Redis, "falls back to the in-process cache")
	assert.NoError(t, a.Remote.Ping(context.Background()))
}

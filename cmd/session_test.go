package cmd

import (
	"bufio"
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/studysync/internal/logging"
	"github.com/abhisek/studysync/internal/questions"
	"github.com/abhisek/studysync/internal/remote"
	"github.com/abhisek/studysync/internal/session"
	"github.com/abhisek/studysync/internal/store"
	"github.com/abhisek/studysync/internal/study"
)

func startTestSession(t *testing.T, n int) *session.Engine {
	t.Helper()
	ctx := context.Background()

	m := remote.NewMemory()
	qs := make([]study.Question, n)
	for i := range qs {
		qs[i] = study.Question{
			ID:            string(rune('a' + i)),
			PartType:      study.Part5,
			Content:       "The meeting was moved ___ Friday.",
			Options:       []string{"to", "at", "of", "by"},
			CorrectAnswer: "to",
			Difficulty:    study.Easy,
			IsActive:      true,
		}
	}
	_, err := m.UpsertQuestions(ctx, qs)
	require.NoError(t, err)

	st, err := store.Open(filepath.Join(t.TempDir(), "cmd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc := session.NewService(session.Options{
		Remote:    m,
		Buffer:    st.AnswerBuffer(),
		Outbox:    st.SessionOutbox(),
		Questions: questions.NewPool(m, 50),
		Logger:    logging.Nop(),
	})
	e, err := svc.Start(ctx, session.StartRequest{UserID: "u1", PartType: study.Part5, QuestionCount: n})
	require.NoError(t, err)
	return e
}

func TestPlayAcceptsLettersNumbersAndText(t *testing.T) {
	e := startTestSession(t, 3)
	in := bufio.NewScanner(strings.NewReader("A\n2\nto\n"))
	var out bytes.Buffer

	res, err := play(context.Background(), e, in, &out)
	require.NoError(t, err)
	assert.True(t, res.Session.Completed)
	require.Len(t, res.Answers, 3)
	assert.InDelta(t, 2.0/3.0, res.Score, 1e-9)
	assert.Contains(t, out.String(), "Question 3 of 3")
}

func TestPlayRepromptsOnUnknownChoice(t *testing.T) {
	e := startTestSession(t, 1)
	in := bufio.NewScanner(strings.NewReader("Z\n\nd\n"))
	var out bytes.Buffer

	res, err := play(context.Background(), e, in, &out)
	require.NoError(t, err)
	require.Len(t, res.Answers, 1)
	assert.Equal(t, "by", res.Answers[0].UserAnswer)
	assert.Equal(t, 2, strings.Count(out.String(), "Pick one of the listed options."))
}

func TestPlayEndsEarly(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"quit", "to\nq\n"},
		{"closed input", "to\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := startTestSession(t, 4)
			res, err := play(context.Background(), e, bufio.NewScanner(strings.NewReader(tt.input)), &bytes.Buffer{})
			require.NoError(t, err)
			assert.True(t, res.Session.Completed)
			assert.Len(t, res.Answers, 1)
			assert.Equal(t, 0.25, res.Score)
		})
	}
}

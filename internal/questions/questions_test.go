package questions

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/studysync/internal/remote"
	"github.com/abhisek/studysync/internal/store"
	"github.com/abhisek/studysync/internal/study"
)

func seededMemory(t *testing.T, n int) *remote.Memory {
	t.Helper()
	m := remote.NewMemory()
	var qs []study.Question
	for i := 0; i < n; i++ {
		qs = append(qs, study.Question{
			ID:            fmt.Sprintf("q%02d", i),
			PartType:      study.Part5,
			Content:       "The meeting was ___ until Friday.",
			Options:       []string{"postponed", "postpone", "postponing", "postpones"},
			CorrectAnswer: "postponed",
			Difficulty:    study.Medium,
			IsActive:      i%5 != 4, // every fifth question is retired
		})
	}
	_, err := m.UpsertQuestions(context.Background(), qs)
	require.NoError(t, err)
	return m
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPoolFetch(t *testing.T) {
	m := seededMemory(t, 10)
	p := NewPool(m, 50)
	ctx := context.Background()

	qs, err := p.Fetch(ctx, study.Part5, 3, nil)
	require.NoError(t, err)
	assert.Len(t, qs, 3)

	qs, err = p.Fetch(ctx, study.Part5, 100, nil)
	require.NoError(t, err)
	assert.Len(t, qs, 8, "fewer than requested is not an error")
	for _, q := range qs {
		assert.True(t, q.IsActive)
	}

	qs, err = p.Fetch(ctx, study.Part6, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, qs)
}

func TestPoolFetchCapsCount(t *testing.T) {
	m := seededMemory(t, 10)
	p := NewPool(m, 2)

	qs, err := p.Fetch(context.Background(), study.Part5, 5, nil)
	require.NoError(t, err)
	assert.Len(t, qs, 2)
}

func TestPoolFetchValidation(t *testing.T) {
	p := NewPool(remote.NewMemory(), 0)
	bad := study.Difficulty("impossible")

	tests := []struct {
		name  string
		part  study.PartType
		count int
		diff  *study.Difficulty
	}{
		{"zero count", study.Part5, 0, nil},
		{"negative count", study.Part5, -1, nil},
		{"unknown part", study.PartType("part1"), 5, nil},
		{"unknown difficulty", study.Part5, 5, &bad},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Fetch(context.Background(), tt.part, tt.count, tt.diff)
			assert.True(t, study.IsValidation(err), "got %v", err)
		})
	}
}

func TestPoolFetchUnavailable(t *testing.T) {
	m := seededMemory(t, 3)
	m.SetAvailable(false)

	_, err := NewPool(m, 0).Fetch(context.Background(), study.Part5, 3, nil)
	assert.True(t, study.IsUnavailable(err))
}

func TestCachedPoolFallsBack(t *testing.T) {
	m := seededMemory(t, 10)
	s := openStore(t)
	cp := NewCachedPool(NewPool(m, 0), s.QuestionCache(), 0, zerolog.Nop())
	ctx := context.Background()

	online, err := cp.Fetch(ctx, study.Part5, 4, nil)
	require.NoError(t, err)
	require.Len(t, online, 4)

	m.SetAvailable(false)
	offline, err := cp.Fetch(ctx, study.Part5, 4, nil)
	require.NoError(t, err)
	require.Len(t, offline, 4)
	assert.Equal(t, online[0].ID, offline[0].ID)
	assert.Equal(t, online[0].Options, offline[0].Options)

	// Nothing cached for this part: the remote error surfaces.
	_, err = cp.Fetch(ctx, study.Part7, 4, nil)
	assert.True(t, study.IsUnavailable(err))
}

func TestCachedPoolPassesValidation(t *testing.T) {
	s := openStore(t)
	cp := NewCachedPool(NewPool(remote.NewMemory(), 0), s.QuestionCache(), 0, zerolog.Nop())

	_, err := cp.Fetch(context.Background(), study.Part5, 0, nil)
	assert.True(t, study.IsValidation(err))
}

const validBank = `{
  "questions": [
    {
      "id": "p5-001",
      "part_type": "part5",
      "content": "Ms. Tanaka ___ the report before the deadline.",
      "options": ["submit", "submitted", "submitting", "submission"],
      "correct_answer": "submitted",
      "explanation": "Past tense matches the completed action.",
      "difficulty": "easy"
    },
    {
      "part_type": "part7",
      "content": "What is the purpose of the email?",
      "options": ["To complain", "To confirm an order"],
      "correct_answer": "To confirm an order",
      "difficulty": "medium",
      "is_active": false
    }
  ]
}`

func TestParseBank(t *testing.T) {
	qs, err := ParseBank(strings.NewReader(validBank))
	require.NoError(t, err)
	require.Len(t, qs, 2)

	assert.Equal(t, "p5-001", qs[0].ID)
	assert.Equal(t, study.Part5, qs[0].PartType)
	assert.True(t, qs[0].IsActive, "is_active defaults to true")
	assert.NotEmpty(t, qs[1].ID, "missing ids are generated")
	assert.False(t, qs[1].IsActive)
}

func TestParseBankRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{questions`},
		{"empty list", `{"questions": []}`},
		{"unknown part", `{"questions": [{"part_type": "part1", "content": "x", "options": ["a","b"], "correct_answer": "a", "difficulty": "easy"}]}`},
		{"missing options", `{"questions": [{"part_type": "part5", "content": "x", "correct_answer": "a", "difficulty": "easy"}]}`},
		{"extra field", `{"questions": [{"part_type": "part5", "content": "x", "options": ["a","b"], "correct_answer": "a", "difficulty": "easy", "score": 3}]}`},
		{"answer not an option", `{"questions": [{"part_type": "part5", "content": "x", "options": ["a","b"], "correct_answer": "c", "difficulty": "easy"}]}`},
		{"duplicate id", `{"questions": [
			{"id": "d", "part_type": "part5", "content": "x", "options": ["a","b"], "correct_answer": "a", "difficulty": "easy"},
			{"id": "d", "part_type": "part5", "content": "y", "options": ["a","b"], "correct_answer": "b", "difficulty": "easy"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBank(strings.NewReader(tt.body))
			assert.True(t, study.IsValidation(err), "got %v", err)
		})
	}
}

func TestImport(t *testing.T) {
	m := remote.NewMemory()
	n, err := Import(context.Background(), m, strings.NewReader(validBank))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	qs, err := NewPool(m, 0).Fetch(context.Background(), study.Part5, 10, nil)
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, "submitted", qs[0].CorrectAnswer)
}

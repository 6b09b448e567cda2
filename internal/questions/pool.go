// Package questions fetches the question set for a study session.
package questions

import (
	"context"
	"fmt"

	"github.com/abhisek/studysync/internal/remote"
	"github.com/abhisek/studysync/internal/study"
)

// DefaultMaxPerSession caps how many questions one session may request.
const DefaultMaxPerSession = 50

// Source yields questions for a session.
type Source interface {
	// Fetch returns up to count active questions for part, optionally
	// restricted to one difficulty. Fewer than count is not an error.
	Fetch(ctx context.Context, part study.PartType, count int, difficulty *study.Difficulty) ([]study.Question, error)
}

// Pool reads questions straight from the remote question bank.
type Pool struct {
	table         remote.QuestionTable
	maxPerSession int
}

// NewPool creates a Pool. A non-positive maxPerSession uses the default.
func NewPool(table remote.QuestionTable, maxPerSession int) *Pool {
	if maxPerSession <= 0 {
		maxPerSession = DefaultMaxPerSession
	}
	return &Pool{table: table, maxPerSession: maxPerSession}
}

// Fetch implements Source.
func (p *Pool) Fetch(ctx context.Context, part study.PartType, count int, difficulty *study.Difficulty) ([]study.Question, error) {
	f, err := p.filter(part, count, difficulty)
	if err != nil {
		return nil, err
	}

	qs, err := p.table.SelectQuestions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("fetch %s questions: %w", part, err)
	}
	return qs, nil
}

// filter validates the request and builds the store filter. Inactive
// questions are never served.
func (p *Pool) filter(part study.PartType, count int, difficulty *study.Difficulty) (study.QuestionFilter, error) {
	if !part.Valid() {
		return study.QuestionFilter{}, &study.ValidationError{Field: "part_type", Reason: fmt.Sprintf("unknown part %q", part)}
	}
	if count <= 0 {
		return study.QuestionFilter{}, &study.ValidationError{Field: "count", Reason: "must be positive"}
	}
	if difficulty != nil && !difficulty.Valid() {
		return study.QuestionFilter{}, &study.ValidationError{Field: "difficulty", Reason: fmt.Sprintf("unknown difficulty %q", *difficulty)}
	}
	return study.QuestionFilter{
		PartType:   part,
		Difficulty: difficulty,
		ActiveOnly: true,
		Limit:      min(count, p.maxPerSession),
	}, nil
}

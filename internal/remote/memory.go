package remote

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/abhisek/studysync/internal/study"
)

// Operation names passed to a Memory fault hook.
const (
	OpPing            = "ping"
	OpSelectQuestions = "questions.select"
	OpUpsertQuestions = "questions.upsert"
	OpInsertSession   = "sessions.insert"
	OpUpdateSession   = "sessions.update"
	OpSelectSessions  = "sessions.select"
	OpInsertAnswer    = "answers.insert"
	OpUpsertAnswer    = "answers.upsert"
	OpUpsertProgress  = "progress.upsert"
	OpSelectProgress  = "progress.select"
)

// FaultFunc decides whether an operation fails. Returning nil lets it run.
type FaultFunc func(op string) error

type progressKey struct {
	userID string
	date   string
	part   study.PartType
}

// Memory is an in-process Store. It backs tests and the demo mode of the
// CLI. Availability can be toggled and individual operations can be failed
// through a fault hook.
type Memory struct {
	mu        sync.Mutex
	available bool
	fault     FaultFunc
	calls     map[string]int
	now       func() time.Time

	questions map[string]study.Question
	sessions  map[string]study.StudySession
	answers   map[study.AnswerKey]study.UserAnswer
	progress  map[progressKey]study.UserProgress
}

// NewMemory returns an empty, reachable in-memory store.
func NewMemory() *Memory {
	return &Memory{
		available: true,
		calls:     make(map[string]int),
		now:       time.Now,
		questions: make(map[string]study.Question),
		sessions:  make(map[string]study.StudySession),
		answers:   make(map[study.AnswerKey]study.UserAnswer),
		progress:  make(map[progressKey]study.UserProgress),
	}
}

// SetAvailable toggles reachability. While unavailable every call fails
// with an UnavailableError.
func (m *Memory) SetAvailable(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = ok
}

// SetFault installs a fault hook consulted before every operation.
func (m *Memory) SetFault(f FaultFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = f
}

// Calls returns how many times op was invoked, including failed calls.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Sessions returns a copy of every stored session.
func (m *Memory) Sessions() []study.StudySession {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]study.StudySession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Session returns one stored session.
func (m *Memory) Session(id string) (study.StudySession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Answers returns a copy of every stored answer ordered by answer time.
func (m *Memory) Answers() []study.UserAnswer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]study.UserAnswer, 0, len(m.answers))
	for _, a := range m.answers {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AnsweredAt.Equal(out[j].AnsweredAt) {
			return out[i].AnsweredAt.Before(out[j].AnsweredAt)
		}
		return out[i].Key().String() < out[j].Key().String()
	})
	return out
}

// Progress returns a copy of every progress row.
func (m *Memory) Progress() []study.UserProgress {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]study.UserProgress, 0, len(m.progress))
	for _, p := range m.progress {
		out = append(out, p)
	}
	sortProgress(out)
	return out
}

// enter records the call and applies availability and the fault hook.
// Callers must hold m.mu.
func (m *Memory) enter(op string) error {
	m.calls[op]++
	if !m.available {
		return &study.UnavailableError{Op: op, Err: fmt.Errorf("remote store offline")}
	}
	if m.fault != nil {
		return m.fault(op)
	}
	return nil
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return &study.UnavailableError{Op: OpPing, Err: err}
	}
	return m.enter(OpPing)
}

func (m *Memory) SelectQuestions(ctx context.Context, f study.QuestionFilter) ([]study.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpSelectQuestions); err != nil {
		return nil, err
	}

	var out []study.Question
	for _, q := range m.questions {
		if q.PartType != f.PartType {
			continue
		}
		if f.ActiveOnly && !q.IsActive {
			continue
		}
		if f.Difficulty != nil && q.Difficulty != *f.Difficulty {
			continue
		}
		out = append(out, cloneQuestion(q))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) UpsertQuestions(ctx context.Context, qs []study.Question) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpUpsertQuestions); err != nil {
		return 0, err
	}

	now := m.now().UTC()
	for _, q := range qs {
		q = cloneQuestion(q)
		if prev, ok := m.questions[q.ID]; ok {
			q.CreatedAt = prev.CreatedAt
		} else if q.CreatedAt.IsZero() {
			q.CreatedAt = now
		}
		q.UpdatedAt = now
		m.questions[q.ID] = q
	}
	return len(qs), nil
}

func (m *Memory) InsertSession(ctx context.Context, s study.StudySession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpInsertSession); err != nil {
		return err
	}
	if _, ok := m.sessions[s.ID]; ok {
		return &study.ConflictError{Resource: "study_session", Key: s.ID}
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) UpdateSession(ctx context.Context, s study.StudySession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpUpdateSession); err != nil {
		return err
	}
	if _, ok := m.sessions[s.ID]; !ok {
		return fmt.Errorf("update session %s: %w", s.ID, ErrNotFound)
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) SelectSessions(ctx context.Context, f study.SessionFilter) ([]study.StudySession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpSelectSessions); err != nil {
		return nil, err
	}

	var out []study.StudySession
	for _, s := range m.sessions {
		if s.UserID != f.UserID {
			continue
		}
		if f.Completed != nil && s.Completed != *f.Completed {
			continue
		}
		if !f.Since.IsZero() && s.StartTime.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && !s.StartTime.Before(f.Until) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if f.NewestFirst {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) InsertAnswer(ctx context.Context, a study.UserAnswer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpInsertAnswer); err != nil {
		return err
	}
	if _, ok := m.sessions[a.SessionID]; !ok {
		return fmt.Errorf("insert answer %s: session: %w", a.Key(), ErrNotFound)
	}
	if _, ok := m.answers[a.Key()]; ok {
		return &study.ConflictError{Resource: "user_answer", Key: a.Key().String()}
	}
	m.answers[a.Key()] = a
	return nil
}

func (m *Memory) UpsertAnswer(ctx context.Context, a study.UserAnswer) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpUpsertAnswer); err != nil {
		return false, err
	}
	if _, ok := m.sessions[a.SessionID]; !ok {
		return false, fmt.Errorf("upsert answer %s: session: %w", a.Key(), ErrNotFound)
	}
	prev, existed := m.answers[a.Key()]
	if existed {
		a.ID = prev.ID
	}
	m.answers[a.Key()] = a
	return !existed, nil
}

func (m *Memory) UpsertProgress(ctx context.Context, d study.ProgressDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpUpsertProgress); err != nil {
		return err
	}

	day := study.Day(d.Date, time.UTC)
	key := progressKey{userID: d.UserID, date: day.Format(study.DateLayout), part: d.PartType}
	p, ok := m.progress[key]
	if !ok {
		p = study.UserProgress{
			ID:        uuid.New().String(),
			UserID:    d.UserID,
			Date:      day,
			PartType:  d.PartType,
			CreatedAt: m.now().UTC(),
		}
	}
	p.QuestionsAnswered += d.Answered
	p.CorrectAnswers += d.Correct
	p.TotalTime += d.TotalTime
	m.progress[key] = p
	return nil
}

func (m *Memory) SelectProgress(ctx context.Context, userID string, from, to time.Time) ([]study.UserProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpSelectProgress); err != nil {
		return nil, err
	}

	var out []study.UserProgress
	for _, p := range m.progress {
		if p.UserID != userID {
			continue
		}
		if p.Date.Before(from) || !p.Date.Before(to) {
			continue
		}
		out = append(out, p)
	}
	sortProgress(out)
	return out, nil
}

func sortProgress(ps []study.UserProgress) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].Date.Equal(ps[j].Date) {
			return ps[i].Date.Before(ps[j].Date)
		}
		return ps[i].PartType < ps[j].PartType
	})
}

func cloneQuestion(q study.Question) study.Question {
	q.Options = slices.Clone(q.Options)
	return q
}

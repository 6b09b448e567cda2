package study

import (
	"fmt"
	"time"
)

// PartType identifies the TOEIC reading part a question or session belongs to.
type PartType string

const (
	Part5 PartType = "part5" // Incomplete sentences
	Part6 PartType = "part6" // Text completion
	Part7 PartType = "part7" // Reading comprehension
)

// AllParts returns every part type in display order.
func AllParts() []PartType {
	return []PartType{Part5, Part6, Part7}
}

// Valid reports whether p is a known part type.
func (p PartType) Valid() bool {
	switch p {
	case Part5, Part6, Part7:
		return true
	}
	return false
}

// ParsePartType converts a string into a PartType.
func ParsePartType(s string) (PartType, error) {
	p := PartType(s)
	if !p.Valid() {
		return "", &ValidationError{Field: "part_type", Reason: fmt.Sprintf("unknown part %q", s)}
	}
	return p, nil
}

// Difficulty is the authored difficulty of a question.
type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

// Valid reports whether d is a known difficulty.
func (d Difficulty) Valid() bool {
	switch d {
	case Easy, Medium, Hard:
		return true
	}
	return false
}

// ParseDifficulty converts a string into a Difficulty. The empty string
// means "any difficulty" and returns nil.
func ParseDifficulty(s string) (*Difficulty, error) {
	if s == "" {
		return nil, nil
	}
	d := Difficulty(s)
	if !d.Valid() {
		return nil, &ValidationError{Field: "difficulty", Reason: fmt.Sprintf("unknown difficulty %q", s)}
	}
	return &d, nil
}

// Question is a single multiple-choice item. Immutable once fetched for a session.
type Question struct {
	ID            string     `json:"id"`
	PartType      PartType   `json:"part_type"`
	Content       string     `json:"content"`
	Options       []string   `json:"options"`
	CorrectAnswer string     `json:"correct_answer"`
	Explanation   string     `json:"explanation"`
	Difficulty    Difficulty `json:"difficulty"`
	IsActive      bool       `json:"is_active"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// StudySession is one timed run through a fixed-size set of questions.
type StudySession struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	PartType       PartType   `json:"part_type"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	Score          *float64   `json:"score,omitempty"`
	TotalQuestions int        `json:"total_questions"`
	Completed      bool       `json:"completed"`
	CreatedAt      time.Time  `json:"created_at"`
}

// AnswerKey is the natural key of an answer: one per question per session.
type AnswerKey struct {
	SessionID  string
	QuestionID string
}

func (k AnswerKey) String() string {
	return k.SessionID + "/" + k.QuestionID
}

// UserAnswer records the learner's response to one question in one session.
type UserAnswer struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	QuestionID string         `json:"question_id"`
	UserAnswer string         `json:"user_answer"`
	IsCorrect  bool           `json:"is_correct"`
	TimeTaken  *time.Duration `json:"time_taken,omitempty"`
	AnsweredAt time.Time      `json:"answered_at"`
}

// Key returns the (session, question) key of the answer.
func (a UserAnswer) Key() AnswerKey {
	return AnswerKey{SessionID: a.SessionID, QuestionID: a.QuestionID}
}

// Elapsed returns the time taken, or zero when it was not measured.
func (a UserAnswer) Elapsed() time.Duration {
	if a.TimeTaken == nil {
		return 0
	}
	return *a.TimeTaken
}

// OfflineAnswer is a UserAnswer held in the local buffer until reconciled.
// UserID and PartType travel with it so the progress increment can be
// replayed once the remote copy is confirmed.
type OfflineAnswer struct {
	UserAnswer

	UserID   string   `json:"user_id"`
	PartType PartType `json:"part_type"`
	Synced   bool     `json:"synced"`

	// Landed means the answer row is already stored remotely and only the
	// progress increment is outstanding.
	Landed bool `json:"landed"`

	Seq        int64      `json:"seq"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	SyncedAt   *time.Time `json:"synced_at,omitempty"`
	Attempts   int        `json:"attempts"`
	LastError  string     `json:"last_error,omitempty"`
}

// UserProgress is the per-day, per-part aggregate for one user.
type UserProgress struct {
	ID                string        `json:"id"`
	UserID            string        `json:"user_id"`
	Date              time.Time     `json:"date"`
	PartType          PartType      `json:"part_type"`
	QuestionsAnswered int           `json:"questions_answered"`
	CorrectAnswers    int           `json:"correct_answers"`
	TotalTime         time.Duration `json:"total_time"`
	CreatedAt         time.Time     `json:"created_at"`
}

// ProgressDelta is an additive increment to a UserProgress row.
// Deltas are merged, never written over an existing row.
type ProgressDelta struct {
	UserID    string
	Date      time.Time
	PartType  PartType
	Answered  int
	Correct   int
	TotalTime time.Duration
}

// QuestionFilter selects questions from the pool.
type QuestionFilter struct {
	PartType   PartType
	Difficulty *Difficulty
	ActiveOnly bool
	Limit      int // 0 = unlimited
}

// SessionFilter selects study sessions for one user.
type SessionFilter struct {
	UserID      string
	Completed   *bool
	Since       time.Time // start_time >= Since (zero = unbounded)
	Until       time.Time // start_time < Until (zero = unbounded)
	Limit       int       // 0 = unlimited
	NewestFirst bool
}

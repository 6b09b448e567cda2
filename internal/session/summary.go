package session

import (
	"slices"
	"time"

	"github.com/abhisek/studysync/internal/study"
)

// StudyResult is returned when a session is finalized.
type StudyResult struct {
	Session   study.StudySession
	Answers   []study.UserAnswer
	Score     float64       // Correct / TotalQuestions
	Accuracy  float64       // Correct / answered
	TotalTime time.Duration // Sum of measured answer times
	Buffered  bool          // Final session write is waiting for sync
}

// Submission reports the outcome of one answer.
type Submission struct {
	Answer             study.UserAnswer
	Correct            bool
	Buffered           bool // Held locally until the next sync
	CorrectAnswer      string
	Explanation        string
	ConsecutiveCorrect int
	Remaining          int
}

// buildResult creates a StudyResult from the finalized state.
func buildResult(state *sessionState, buffered bool) StudyResult {
	var score float64
	if state.Session.Score != nil {
		score = *state.Session.Score
	}
	return StudyResult{
		Session:   state.Session,
		Answers:   slices.Clone(state.Answers),
		Score:     score,
		Accuracy:  state.Tally.Accuracy,
		TotalTime: state.Tally.TotalTime,
		Buffered:  buffered,
	}
}

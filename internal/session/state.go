package session

import (
	"sync"

	"github.com/abhisek/studysync/internal/study"
)

// Phase is the lifecycle phase of a study session.
type Phase int

const (
	PhaseCreated    Phase = iota // Questions fetched, none served yet
	PhaseInProgress              // At least one question served
	PhaseCompleted               // Finalized; no further answers accepted
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseInProgress:
		return "in progress"
	case PhaseCompleted:
		return "completed"
	}
	return "unknown"
}

// sessionState is the mutable runtime state of one Engine. It is guarded by
// mu; only the Engine touches it.
type sessionState struct {
	mu sync.Mutex

	// Session is the persisted session record.
	Session study.StudySession

	// Questions is the fixed question set, in serving order.
	Questions []study.Question

	// Index points at the next question to answer.
	Index int

	// Phase is the current lifecycle phase.
	Phase Phase

	// Answers holds every accepted answer in order.
	Answers []study.UserAnswer

	// Tally accumulates answered/correct/time for the result.
	Tally Tally

	// ConsecutiveCorrect is the current run of correct answers.
	ConsecutiveCorrect int

	// Parked is true while the session row exists only in the local outbox.
	Parked bool
}

package session

import "time"

// Tally accumulates answer results within a session.
type Tally struct {
	Answered  int
	Correct   int
	TotalTime time.Duration
	Accuracy  float64 // Correct / Answered (computed)
}

// Record adds a new answer result to the tally.
func (t *Tally) Record(correct bool, timeTaken time.Duration) {
	t.Answered++
	if correct {
		t.Correct++
	}
	if timeTaken > 0 {
		t.TotalTime += timeTaken
	}
	if t.Answered > 0 {
		t.Accuracy = float64(t.Correct) / float64(t.Answered)
	}
}

// Score returns correct answers over the planned question count. Unanswered
// questions count as wrong; an empty session scores 0.
func (t *Tally) Score(totalQuestions int) float64 {
	if totalQuestions <= 0 {
		return 0
	}
	return float64(t.Correct) / float64(totalQuestions)
}

package progress

import (
	"math"
	"sort"
	"time"

	"github.com/abhisek/studysync/internal/study"
)

// Counts is an additive answered/correct/time triple.
type Counts struct {
	Answered  int           `json:"answered"`
	Correct   int           `json:"correct"`
	TotalTime time.Duration `json:"total_time"`
}

func (c *Counts) add(o Counts) {
	c.Answered += o.Answered
	c.Correct += o.Correct
	c.TotalTime += o.TotalTime
}

// DayStats is one calendar day of activity.
type DayStats struct {
	Date time.Time `json:"date"`
	Counts
	Accuracy float64 `json:"accuracy"`
}

// PartStats is the activity for one part within a range.
type PartStats struct {
	PartType study.PartType `json:"part_type"`
	Counts
	Accuracy float64 `json:"accuracy"`
}

// Stats aggregates a user's progress over [From, To).
type Stats struct {
	UserID string    `json:"user_id"`
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	Counts
	Accuracy float64 `json:"accuracy"`

	// Buffered is how many of the answers are still waiting for sync.
	Buffered int `json:"buffered"`

	// StreakDays counts consecutive days up to today with a completed
	// session.
	StreakDays int `json:"streak_days"`

	Days   []DayStats  `json:"days"`
	ByPart []PartStats `json:"by_part,omitempty"`

	// Partial is set when the remote store could not be read and only
	// local data is included.
	Partial bool `json:"partial"`
}

// accuracy returns correct/answered, 0 when nothing was answered, rounded to
// decimals places when decimals > 0.
func accuracy(c Counts, decimals int) float64 {
	if c.Answered <= 0 {
		return 0
	}
	a := float64(c.Correct) / float64(c.Answered)
	if decimals <= 0 {
		return a
	}
	p := math.Pow10(decimals)
	return math.Round(a*p) / p
}

// rangeTally folds progress rows and buffered answers into per-day and
// per-part buckets.
type rangeTally struct {
	days  map[time.Time]*Counts
	parts map[study.PartType]*Counts
	total Counts
}

func newRangeTally() *rangeTally {
	return &rangeTally{
		days:  make(map[time.Time]*Counts),
		parts: make(map[study.PartType]*Counts),
	}
}

func (t *rangeTally) add(day time.Time, part study.PartType, c Counts) {
	d, ok := t.days[day]
	if !ok {
		d = &Counts{}
		t.days[day] = d
	}
	d.add(c)

	p, ok := t.parts[part]
	if !ok {
		p = &Counts{}
		t.parts[part] = p
	}
	p.add(c)

	t.total.add(c)
}

func (t *rangeTally) dayStats(decimals int) []DayStats {
	out := make([]DayStats, 0, len(t.days))
	for day, c := range t.days {
		out = append(out, DayStats{Date: day, Counts: *c, Accuracy: accuracy(*c, decimals)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func (t *rangeTally) partStats(decimals int) []PartStats {
	out := make([]PartStats, 0, len(study.AllParts()))
	for _, part := range study.AllParts() {
		c := t.parts[part]
		if c == nil {
			c = &Counts{}
		}
		out = append(out, PartStats{PartType: part, Counts: *c, Accuracy: accuracy(*c, decimals)})
	}
	return out
}

// streak counts consecutive active days ending at today. A day without
// activity ends the run; no activity today means no streak.
func streak(active map[time.Time]bool, today time.Time, limit int) int {
	n := 0
	for day := today; active[day]; day = day.AddDate(0, 0, -1) {
		n++
		if limit > 0 && n >= limit {
			break
		}
	}
	return n
}

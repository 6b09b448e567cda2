// Package progress maintains per-day progress rows and derives weekly and
// monthly statistics from them.
//
// Answer counts are merged into the remote user_progress table by increment,
// so concurrent writers for the same user, day and part never lose updates.
// Reads fold in answers still waiting in the offline buffer.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/abhisek/studysync/internal/remote"
	"github.com/abhisek/studysync/internal/store"
	"github.com/abhisek/studysync/internal/study"
)

const (
	DefaultStreakLookback = 366
	DefaultCacheTTL       = 10 * time.Minute
	DefaultRecentLimit    = 10
)

// Remote is the part of the remote store the aggregator reads and writes.
type Remote interface {
	remote.ProgressTable
	SelectSessions(ctx context.Context, f study.SessionFilter) ([]study.StudySession, error)
}

// Options wires an Aggregator.
type Options struct {
	Remote Remote
	Buffer store.AnswerBuffer  // optional; folds unsynced answers into reads
	Outbox store.SessionOutbox // optional; counts parked sessions in streaks
	Cache  Cache               // default NopCache

	CacheTTL time.Duration
	Location *time.Location // calendar days are taken in this zone; default UTC

	// AccuracyDecimals rounds accuracy values; zero or less disables
	// rounding.
	AccuracyDecimals int

	// StreakLookback caps how many days back a streak is searched.
	StreakLookback int

	Logger zerolog.Logger
	Clock  func() time.Time
}

// Aggregator records and reads study progress.
type Aggregator struct {
	opts Options
}

// New creates an Aggregator.
func New(opts Options) *Aggregator {
	if opts.Cache == nil {
		opts.Cache = NopCache{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.StreakLookback <= 0 {
		opts.StreakLookback = DefaultStreakLookback
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Aggregator{opts: opts}
}

// RecordAnswer adds one answer to the user's progress row for the day of at.
func (a *Aggregator) RecordAnswer(ctx context.Context, userID string, at time.Time, part study.PartType, correct bool, timeTaken time.Duration) error {
	if userID == "" {
		return &study.ValidationError{Field: "user_id", Reason: "required"}
	}
	if !part.Valid() {
		return &study.ValidationError{Field: "part_type", Reason: fmt.Sprintf("unknown part %q", part)}
	}

	d := study.ProgressDelta{
		UserID:   userID,
		Date:     study.Day(at, a.opts.Location),
		PartType: part,
		Answered: 1,
	}
	if correct {
		d.Correct = 1
	}
	if timeTaken > 0 {
		d.TotalTime = timeTaken
	}
	if err := a.opts.Remote.UpsertProgress(ctx, d); err != nil {
		return fmt.Errorf("record progress: %w", err)
	}
	a.invalidate(ctx, userID)
	return nil
}

// SessionCompleted drops cached stats so the next read sees the new streak.
func (a *Aggregator) SessionCompleted(ctx context.Context, s study.StudySession) error {
	a.invalidate(ctx, s.UserID)
	return nil
}

// AnswerBuffered drops cached stats so the next read folds in the buffered
// answer.
func (a *Aggregator) AnswerBuffered(ctx context.Context, oa study.OfflineAnswer) error {
	a.invalidate(ctx, oa.UserID)
	return nil
}

func (a *Aggregator) invalidate(ctx context.Context, userID string) {
	if err := a.opts.Cache.Invalidate(ctx, userID); err != nil {
		a.opts.Logger.Warn().Err(err).Str("user_id", userID).Msg("invalidate stats cache")
	}
}

// Today returns the current calendar day in the configured zone.
func (a *Aggregator) Today() time.Time {
	return study.Day(a.opts.Clock(), a.opts.Location)
}

// WeeklyStats aggregates the seven days starting at weekStart.
func (a *Aggregator) WeeklyStats(ctx context.Context, userID string, weekStart time.Time) (Stats, error) {
	from := calendarDay(weekStart)
	return a.cached(ctx, userID, "weekly:"+from.Format(study.DateLayout), func() (Stats, error) {
		return a.rangeStats(ctx, userID, from, from.AddDate(0, 0, 7), false)
	})
}

// MonthlyStats aggregates the calendar month containing month, with a
// breakdown by part.
func (a *Aggregator) MonthlyStats(ctx context.Context, userID string, month time.Time) (Stats, error) {
	from := study.MonthStart(calendarDay(month))
	return a.cached(ctx, userID, "monthly:"+from.Format("2006-01"), func() (Stats, error) {
		return a.rangeStats(ctx, userID, from, from.AddDate(0, 1, 0), true)
	})
}

// cached serves field from the cache or computes and stores it. Partial
// results are never cached.
func (a *Aggregator) cached(ctx context.Context, userID, field string, compute func() (Stats, error)) (Stats, error) {
	if userID == "" {
		return Stats{}, &study.ValidationError{Field: "user_id", Reason: "required"}
	}
	log := a.opts.Logger.With().Str("user_id", userID).Str("stats", field).Logger()

	// Streaks end today, so the day is part of the key.
	field += "@" + a.Today().Format(study.DateLayout)

	b, ok, err := a.opts.Cache.Get(ctx, userID, field)
	if err != nil {
		log.Warn().Err(err).Msg("read stats cache")
	}
	if ok {
		var st Stats
		if err := json.Unmarshal(b, &st); err == nil {
			return st, nil
		}
		log.Warn().Msg("discarding undecodable cached stats")
	}

	st, err := compute()
	if err != nil || st.Partial {
		return st, err
	}
	if b, err := json.Marshal(st); err == nil {
		if err := a.opts.Cache.Set(ctx, userID, field, b, a.opts.CacheTTL); err != nil {
			log.Warn().Err(err).Msg("write stats cache")
		}
	}
	return st, nil
}

func (a *Aggregator) rangeStats(ctx context.Context, userID string, from, to time.Time, byPart bool) (Stats, error) {
	var (
		rows     []study.UserProgress
		buffered []study.OfflineAnswer
		streakN  int
		partial  [2]bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = a.opts.Remote.SelectProgress(gctx, userID, from, to)
		if study.IsUnavailable(err) {
			partial[0] = true
			return nil
		}
		return err
	})
	if a.opts.Buffer != nil {
		g.Go(func() error {
			var err error
			buffered, err = a.opts.Buffer.PendingByUser(gctx, userID, a.instant(from), a.instant(to))
			return err
		})
	}
	g.Go(func() error {
		var err error
		streakN, partial[1], err = a.streak(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Stats{}, fmt.Errorf("aggregate progress: %w", err)
	}

	t := newRangeTally()
	for _, r := range rows {
		t.add(r.Date, r.PartType, Counts{Answered: r.QuestionsAnswered, Correct: r.CorrectAnswers, TotalTime: r.TotalTime})
	}
	for _, b := range buffered {
		c := Counts{Answered: 1, TotalTime: b.Elapsed()}
		if b.IsCorrect {
			c.Correct = 1
		}
		t.add(study.Day(b.AnsweredAt, a.opts.Location), b.PartType, c)
	}

	dec := a.opts.AccuracyDecimals
	st := Stats{
		UserID:     userID,
		From:       from,
		To:         to,
		Counts:     t.total,
		Accuracy:   accuracy(t.total, dec),
		Buffered:   len(buffered),
		StreakDays: streakN,
		Days:       t.dayStats(dec),
		Partial:    partial[0] || partial[1],
	}
	if byPart {
		st.ByPart = t.partStats(dec)
	}
	return st, nil
}

// calendarDay keeps the date of t as written, in t's own zone.
func calendarDay(t time.Time) time.Time {
	return study.Day(t, t.Location())
}

// instant converts a calendar day to the instant it starts in the
// configured zone.
func (a *Aggregator) instant(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, a.opts.Location)
}

// streak counts the consecutive days up to today with at least one
// completed session, remote or parked locally.
func (a *Aggregator) streak(ctx context.Context, userID string) (int, bool, error) {
	today := a.Today()
	since := a.instant(today.AddDate(0, 0, -a.opts.StreakLookback))
	done := true

	partial := false
	sessions, err := a.opts.Remote.SelectSessions(ctx, study.SessionFilter{
		UserID:    userID,
		Completed: &done,
		Since:     since,
	})
	switch {
	case study.IsUnavailable(err):
		partial = true
	case err != nil:
		return 0, false, err
	}

	if a.opts.Outbox != nil {
		parked, err := a.opts.Outbox.ParkedByUser(ctx, userID)
		if err != nil {
			return 0, false, err
		}
		sessions = append(sessions, parked...)
	}

	active := make(map[time.Time]bool)
	for _, s := range sessions {
		if !s.Completed {
			continue
		}
		at := s.StartTime
		if s.EndTime != nil {
			at = *s.EndTime
		}
		active[study.Day(at, a.opts.Location)] = true
	}
	return streak(active, today, a.opts.StreakLookback), partial, nil
}

// Recent is a list of completed sessions, newest first.
type Recent struct {
	Sessions []study.StudySession `json:"sessions"`
	Partial  bool                 `json:"partial"`
}

// RecentSessions returns up to limit completed sessions, including those
// still parked locally.
func (a *Aggregator) RecentSessions(ctx context.Context, userID string, limit int) (Recent, error) {
	if userID == "" {
		return Recent{}, &study.ValidationError{Field: "user_id", Reason: "required"}
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	var out Recent
	done := true
	remoteSessions, err := a.opts.Remote.SelectSessions(ctx, study.SessionFilter{
		UserID:      userID,
		Completed:   &done,
		Limit:       limit,
		NewestFirst: true,
	})
	switch {
	case study.IsUnavailable(err):
		out.Partial = true
	case err != nil:
		return Recent{}, fmt.Errorf("recent sessions: %w", err)
	}

	seen := make(map[string]bool)
	if a.opts.Outbox != nil {
		parked, err := a.opts.Outbox.ParkedByUser(ctx, userID)
		if err != nil {
			return Recent{}, fmt.Errorf("recent sessions: %w", err)
		}
		for _, s := range parked {
			if s.Completed {
				out.Sessions = append(out.Sessions, s)
				seen[s.ID] = true
			}
		}
	}
	for _, s := range remoteSessions {
		// A parked copy is newer than the remote row.
		if !seen[s.ID] {
			out.Sessions = append(out.Sessions, s)
		}
	}

	sort.SliceStable(out.Sessions, func(i, j int) bool {
		return out.Sessions[i].StartTime.After(out.Sessions[j].StartTime)
	})
	if len(out.Sessions) > limit {
		out.Sessions = out.Sessions[:limit]
	}
	return out, nil
}

// ProgressRange returns the raw progress rows for days in [from, to).
func (a *Aggregator) ProgressRange(ctx context.Context, userID string, from, to time.Time) ([]study.UserProgress, error) {
	if userID == "" {
		return nil, &study.ValidationError{Field: "user_id", Reason: "required"}
	}
	from, to = calendarDay(from), calendarDay(to)
	if to.Before(from) {
		return nil, &study.ValidationError{Field: "to", Reason: "before from"}
	}
	rows, err := a.opts.Remote.SelectProgress(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("progress range: %w", err)
	}
	return rows, nil
}

// Package reconcile pushes locally held study data to the remote store once
// it is reachable again: parked session rows first, then buffered answers.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/abhisek/studysync/internal/remote"
	"github.com/abhisek/studysync/internal/store"
	"github.com/abhisek/studysync/internal/study"
)

// DefaultKeepRuns is how many sync runs the local log retains.
const DefaultKeepRuns = 50

// Remote is the part of the remote store the reconciler writes to.
type Remote interface {
	remote.SessionTable
	remote.AnswerTable
	Ping(ctx context.Context) error
}

// ProgressRecorder increments progress for an answer that landed remotely
// for the first time. A failed increment keeps the answer pending so the
// next pass retries it.
type ProgressRecorder interface {
	RecordAnswer(ctx context.Context, userID string, at time.Time, part study.PartType, correct bool, timeTaken time.Duration) error
}

// Options wires a Reconciler.
type Options struct {
	Remote   Remote
	Buffer   store.AnswerBuffer
	Outbox   store.SessionOutbox
	Runs     store.SyncRunRepo // optional
	Progress ProgressRecorder  // optional
	KeepRuns int               // default DefaultKeepRuns
	Logger   zerolog.Logger
	Clock    func() time.Time
}

// Summary reports one reconciliation pass.
type Summary struct {
	Attempted      int
	Succeeded      int
	Failed         int
	SessionsPushed int
	SessionsFailed int
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Status is a snapshot of what is waiting locally.
type Status struct {
	PendingAnswers int            `json:"pending_answers"`
	SyncedAnswers  int            `json:"synced_answers"`
	ParkedSessions int            `json:"parked_sessions"`
	LastRun        *store.SyncRun `json:"last_run,omitempty"`
}

// Reconciler drains the offline answer buffer and the session outbox.
type Reconciler struct {
	opts  Options
	group singleflight.Group

	// The shared pass runs on its own context, cancelled only once every
	// caller waiting on it has given up.
	mu         sync.Mutex
	waiters    int
	pass       context.Context
	cancelPass context.CancelFunc
}

// New creates a Reconciler.
func New(opts Options) *Reconciler {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.KeepRuns <= 0 {
		opts.KeepRuns = DefaultKeepRuns
	}
	return &Reconciler{opts: opts}
}

// Reconcile runs one pass. Concurrent calls share the pass already in
// flight.
//
// Only answers buffered before the pass started are processed. Individual
// failures leave their entries pending and are counted in the summary; an
// error is returned only when the remote store is unreachable at the start
// of the pass or ctx is cancelled.
//
// Cancelling ctx returns ctx.Err() to this caller only. The shared pass
// keeps running for the other callers and is stopped once the last of them
// cancels; that caller waits for it to wind down.
func (r *Reconciler) Reconcile(ctx context.Context) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}

	r.mu.Lock()
	if r.pass == nil {
		r.pass, r.cancelPass = context.WithCancel(context.WithoutCancel(ctx))
	}
	pass := r.pass
	r.waiters++
	r.mu.Unlock()

	ch := r.group.DoChan("reconcile", func() (any, error) {
		defer r.endPass(pass)
		return r.run(pass)
	})

	select {
	case res := <-ch:
		r.leave(false)
		if res.Shared {
			r.opts.Logger.Debug().Msg("joined reconciliation already in flight")
		}
		return res.Val.(Summary), res.Err
	case <-ctx.Done():
		if !r.leave(true) {
			return Summary{}, ctx.Err()
		}
		res := <-ch
		return res.Val.(Summary), ctx.Err()
	}
}

// leave drops one waiter. When the last waiter leaves cancelled, the pass is
// cancelled and leave reports true.
func (r *Reconciler) leave(cancelled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waiters--
	if !cancelled || r.waiters > 0 || r.cancelPass == nil {
		return false
	}
	r.cancelPass()
	r.pass, r.cancelPass = nil, nil
	return true
}

func (r *Reconciler) endPass(pass context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pass == pass {
		r.cancelPass()
		r.pass, r.cancelPass = nil, nil
	}
}

func (r *Reconciler) run(ctx context.Context) (Summary, error) {
	sum := Summary{StartedAt: r.opts.Clock().UTC()}
	log := r.opts.Logger

	// Snapshot first so answers buffered while we push sessions wait for
	// the next pass.
	through, err := r.opts.Buffer.HighWater(ctx)
	if err != nil {
		return sum, fmt.Errorf("snapshot buffer: %w", err)
	}

	if err := r.opts.Remote.Ping(ctx); err != nil {
		sum.FinishedAt = r.opts.Clock().UTC()
		r.saveRun(ctx, sum, err)
		log.Warn().Err(err).Msg("remote store unreachable; nothing synced")
		return sum, &study.UnavailableError{Op: "reconcile", Err: err}
	}

	blocked, err := r.pushSessions(ctx, &sum)
	if err != nil {
		sum.FinishedAt = r.opts.Clock().UTC()
		r.saveRun(ctx, sum, err)
		return sum, err
	}

	err = r.pushAnswers(ctx, through, blocked, &sum)
	sum.FinishedAt = r.opts.Clock().UTC()
	r.saveRun(ctx, sum, err)
	if err != nil {
		return sum, err
	}

	log.Info().
		Int("attempted", sum.Attempted).
		Int("succeeded", sum.Succeeded).
		Int("failed", sum.Failed).
		Int("sessions", sum.SessionsPushed).
		Dur("took", sum.FinishedAt.Sub(sum.StartedAt)).
		Msg("reconciliation finished")
	return sum, nil
}

// pushSessions writes every parked session row. It returns the IDs of
// sessions that are still missing remotely; their answers cannot land yet.
func (r *Reconciler) pushSessions(ctx context.Context, sum *Summary) (map[string]bool, error) {
	parked, err := r.opts.Outbox.Parked(ctx)
	if err != nil {
		return nil, fmt.Errorf("list parked sessions: %w", err)
	}

	blocked := make(map[string]bool)
	for _, p := range parked {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.pushSession(ctx, p); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			sum.SessionsFailed++
			if !p.CreatedRemote {
				blocked[p.Session.ID] = true
			}
			r.opts.Logger.Warn().Err(err).Str("session_id", p.Session.ID).Msg("push parked session")
			continue
		}
		sum.SessionsPushed++
	}
	return blocked, nil
}

func (r *Reconciler) pushSession(ctx context.Context, p store.ParkedSession) error {
	s := p.Session
	update := p.CreatedRemote && s.Completed

	if !p.CreatedRemote {
		err := r.opts.Remote.InsertSession(ctx, s)
		switch {
		case err == nil:
		case study.IsConflict(err):
			// Inserted by an earlier pass that failed before clearing the
			// outbox; the remote row may be stale.
			update = s.Completed
		default:
			return fmt.Errorf("insert session: %w", err)
		}
		if err := r.opts.Outbox.MarkCreated(ctx, s.ID); err != nil {
			return err
		}
	}

	if update {
		if err := r.opts.Remote.UpdateSession(ctx, s); err != nil {
			return fmt.Errorf("update session: %w", err)
		}
	}
	return r.opts.Outbox.Remove(ctx, s.ID)
}

func (r *Reconciler) pushAnswers(ctx context.Context, through int64, blocked map[string]bool, sum *Summary) error {
	buf := r.opts.Buffer
	for a, err := range buf.PendingThrough(ctx, through) {
		if err != nil {
			return fmt.Errorf("read buffer: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		sum.Attempted++
		key := a.Key()

		if a.Landed {
			// Answer row already stored; only the increment is owed.
			if err := r.recordProgress(ctx, a); err != nil {
				if ctx.Err() != nil {
					sum.Attempted--
					return ctx.Err()
				}
				sum.Failed++
				if ferr := buf.RecordFailure(ctx, key, err); ferr != nil {
					return ferr
				}
				continue
			}
			if err := r.markSynced(ctx, a); err != nil {
				return err
			}
			sum.Succeeded++
			continue
		}

		if blocked[a.SessionID] {
			sum.Failed++
			if err := buf.RecordFailure(ctx, key, errSessionParked); err != nil {
				return err
			}
			continue
		}

		created, err := r.opts.Remote.UpsertAnswer(ctx, a.UserAnswer)
		if err != nil && !study.IsConflict(err) {
			if ctx.Err() != nil {
				sum.Attempted--
				return ctx.Err()
			}
			sum.Failed++
			r.opts.Logger.Warn().Err(err).Str("key", key.String()).Msg("sync answer")
			if ferr := buf.RecordFailure(ctx, key, err); ferr != nil {
				return ferr
			}
			continue
		}

		if created && r.opts.Progress != nil {
			// Durable before the increment so a crash between the two
			// still replays it.
			if err := buf.MarkLanded(ctx, key, a.ID); err != nil {
				return err
			}
			if err := r.recordProgress(ctx, a); err != nil {
				if ctx.Err() != nil {
					sum.Attempted--
					return ctx.Err()
				}
				sum.Failed++
				if ferr := buf.RecordFailure(ctx, key, err); ferr != nil {
					return ferr
				}
				continue
			}
		}
		if err := r.markSynced(ctx, a); err != nil {
			return err
		}
		sum.Succeeded++
	}
	return nil
}

func (r *Reconciler) markSynced(ctx context.Context, a study.OfflineAnswer) error {
	ok, err := r.opts.Buffer.MarkSynced(ctx, a.Key(), a.ID)
	if err != nil {
		return err
	}
	if !ok {
		r.opts.Logger.Debug().Str("key", a.Key().String()).Msg("answer re-buffered during sync; newer payload stays pending")
	}
	return nil
}

var errSessionParked = errors.New("session not yet stored remotely")

// recordProgress applies the increment for a landed answer. An answer that
// can never be counted is logged and reported as done.
func (r *Reconciler) recordProgress(ctx context.Context, a study.OfflineAnswer) error {
	if r.opts.Progress == nil {
		return nil
	}
	err := r.opts.Progress.RecordAnswer(ctx, a.UserID, a.AnsweredAt, a.PartType, a.IsCorrect, a.Elapsed())
	if study.IsValidation(err) {
		r.opts.Logger.Error().Err(err).Str("key", a.Key().String()).Msg("dropping progress for invalid answer")
		return nil
	}
	if err != nil {
		r.opts.Logger.Warn().Err(err).Str("key", a.Key().String()).Msg("record progress for synced answer")
	}
	return err
}

func (r *Reconciler) saveRun(ctx context.Context, sum Summary, runErr error) {
	if r.opts.Runs == nil {
		return
	}
	run := &store.SyncRun{
		StartedAt:      sum.StartedAt,
		FinishedAt:     sum.FinishedAt,
		Attempted:      sum.Attempted,
		Succeeded:      sum.Succeeded,
		Failed:         sum.Failed,
		SessionsPushed: sum.SessionsPushed,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	// Record the run even if the caller's context is already done.
	ctx = context.WithoutCancel(ctx)
	if err := r.opts.Runs.Save(ctx, run); err != nil {
		r.opts.Logger.Warn().Err(err).Msg("save sync run")
		return
	}
	if err := r.opts.Runs.Prune(ctx, r.opts.KeepRuns); err != nil {
		r.opts.Logger.Warn().Err(err).Msg("prune sync runs")
	}
}

// Purge deletes synced buffer entries older than retain.
func (r *Reconciler) Purge(ctx context.Context, retain time.Duration) (int64, error) {
	cutoff := r.opts.Clock().Add(-retain)
	n, err := r.opts.Buffer.Purge(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge buffer: %w", err)
	}
	r.opts.Logger.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("purged synced answers")
	return n, nil
}

// Status reports what is waiting locally and the last recorded run.
func (r *Reconciler) Status(ctx context.Context) (Status, error) {
	pending, synced, err := r.opts.Buffer.Counts(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("count buffer: %w", err)
	}
	parked, err := r.opts.Outbox.Parked(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("list parked sessions: %w", err)
	}
	st := Status{PendingAnswers: pending, SyncedAnswers: synced, ParkedSessions: len(parked)}
	if r.opts.Runs != nil {
		st.LastRun, err = r.opts.Runs.Latest(ctx)
		if err != nil {
			return Status{}, fmt.Errorf("latest sync run: %w", err)
		}
	}
	return st, nil
}

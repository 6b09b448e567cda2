package remote

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/abhisek/studysync/internal/study"
)

// RetryConfig configures retry behavior for transient failures.
type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultRetryConfig returns the retry policy used when none is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		InitialWait: 200 * time.Millisecond,
		MaxWait:     2 * time.Second,
		Multiplier:  2.0,
	}
}

// RetryStore is a decorator that retries UnavailableErrors with exponential
// backoff and jitter.
//
// Only operations whose outcome is unchanged by a repeat are retried.
// UpsertAnswer, InsertAnswer and UpsertProgress pass straight through: a lost
// reply after a committed write would otherwise flip the created flag or
// apply an increment twice.
type RetryStore struct {
	inner  Store
	config RetryConfig
}

// WithRetry wraps a Store with retry logic.
func WithRetry(s Store, cfg RetryConfig) Store {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &RetryStore{inner: s, config: cfg}
}

func (r *RetryStore) Ping(ctx context.Context) error {
	_, err := retry(ctx, r.config, func() (struct{}, error) {
		return struct{}{}, r.inner.Ping(ctx)
	})
	return err
}

func (r *RetryStore) SelectQuestions(ctx context.Context, f study.QuestionFilter) ([]study.Question, error) {
	return retry(ctx, r.config, func() ([]study.Question, error) {
		return r.inner.SelectQuestions(ctx, f)
	})
}

func (r *RetryStore) UpsertQuestions(ctx context.Context, qs []study.Question) (int, error) {
	return retry(ctx, r.config, func() (int, error) {
		return r.inner.UpsertQuestions(ctx, qs)
	})
}

func (r *RetryStore) InsertSession(ctx context.Context, s study.StudySession) error {
	_, err := retry(ctx, r.config, func() (struct{}, error) {
		return struct{}{}, r.inner.InsertSession(ctx, s)
	})
	return err
}

func (r *RetryStore) UpdateSession(ctx context.Context, s study.StudySession) error {
	_, err := retry(ctx, r.config, func() (struct{}, error) {
		return struct{}{}, r.inner.UpdateSession(ctx, s)
	})
	return err
}

func (r *RetryStore) SelectSessions(ctx context.Context, f study.SessionFilter) ([]study.StudySession, error) {
	return retry(ctx, r.config, func() ([]study.StudySession, error) {
		return r.inner.SelectSessions(ctx, f)
	})
}

func (r *RetryStore) InsertAnswer(ctx context.Context, a study.UserAnswer) error {
	return r.inner.InsertAnswer(ctx, a)
}

func (r *RetryStore) UpsertAnswer(ctx context.Context, a study.UserAnswer) (bool, error) {
	return r.inner.UpsertAnswer(ctx, a)
}

func (r *RetryStore) UpsertProgress(ctx context.Context, d study.ProgressDelta) error {
	return r.inner.UpsertProgress(ctx, d)
}

func (r *RetryStore) SelectProgress(ctx context.Context, userID string, from, to time.Time) ([]study.UserProgress, error) {
	return retry(ctx, r.config, func() ([]study.UserProgress, error) {
		return r.inner.SelectProgress(ctx, userID, from, to)
	})
}

func retry[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := range cfg.MaxAttempts {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return zero, err
		}

		// Last attempt: don't sleep, just return the error.
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff(cfg, attempt)):
		}
	}
	return zero, lastErr
}

// shouldRetry reports whether err is transient.
func shouldRetry(err error) bool {
	// Context errors are never retried.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return study.IsUnavailable(err)
}

// backoff computes the wait duration for the given attempt.
func backoff(cfg RetryConfig, attempt int) time.Duration {
	mult := cfg.Multiplier
	if mult < 1 {
		mult = 1
	}
	wait := float64(cfg.InitialWait) * math.Pow(mult, float64(attempt))
	if cfg.MaxWait > 0 && wait > float64(cfg.MaxWait) {
		wait = float64(cfg.MaxWait)
	}

	// Add ±20% jitter.
	jitter := wait * 0.2 * (2*rand.Float64() - 1)
	wait += jitter

	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait)
}

package questions

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/abhisek/studysync/internal/store"
	"github.com/abhisek/studysync/internal/study"
)

// DefaultCacheTTL is how long a fetched question set stays usable offline.
const DefaultCacheTTL = 24 * time.Hour

// CachedPool serves questions from the remote bank and keeps a local copy.
// When the bank is unreachable it falls back to the unexpired local copy so
// a session can still start offline.
type CachedPool struct {
	pool  *Pool
	cache store.QuestionCache
	ttl   time.Duration
	log   zerolog.Logger
}

// NewCachedPool wraps pool with a local cache.
func NewCachedPool(pool *Pool, cache store.QuestionCache, ttl time.Duration, log zerolog.Logger) *CachedPool {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedPool{pool: pool, cache: cache, ttl: ttl, log: log}
}

// Fetch implements Source.
func (c *CachedPool) Fetch(ctx context.Context, part study.PartType, count int, difficulty *study.Difficulty) ([]study.Question, error) {
	f, err := c.pool.filter(part, count, difficulty)
	if err != nil {
		return nil, err
	}

	qs, err := c.pool.Fetch(ctx, part, count, difficulty)
	if err == nil {
		if len(qs) > 0 {
			if cerr := c.cache.Put(ctx, qs, c.ttl); cerr != nil {
				c.log.Warn().Err(cerr).Str("part", string(part)).Msg("cache questions")
			}
		}
		return qs, nil
	}
	if !study.IsUnavailable(err) {
		return nil, err
	}

	cached, cerr := c.cache.Get(ctx, f)
	if cerr != nil {
		c.log.Warn().Err(cerr).Str("part", string(part)).Msg("read question cache")
		return nil, err
	}
	if len(cached) == 0 {
		return nil, err
	}
	c.log.Info().
		Str("part", string(part)).
		Int("questions", len(cached)).
		Msg("remote unavailable, serving cached questions")
	return cached, nil
}

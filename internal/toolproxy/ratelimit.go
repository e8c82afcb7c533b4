package toolproxy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"orion/internal/apperr"
)

// Limiter tracks per-(tenant,doc) buckets of call and token counts over a
// sliding period. Check records one call; AddTokens records the tokens a
// completed call actually returned.
type Limiter interface {
	Check(ctx context.Context, key string) error
	AddTokens(ctx context.Context, key string, tokens int) error
}

type bucket struct {
	count       int
	tokens      int
	windowStart time.Time
}

// memoryLimiter is the default single-process limiter. One mutex guards the
// table; it is held only for check-and-update, never across I/O.
type memoryLimiter struct {
	maxCalls  int
	maxTokens int
	period    time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewMemoryLimiter builds the in-process limiter.
func NewMemoryLimiter(maxCalls, maxTokens int, period time.Duration) Limiter {
	if period <= 0 {
		period = time.Minute
	}
	return &memoryLimiter{
		maxCalls:  maxCalls,
		maxTokens: maxTokens,
		period:    period,
		buckets:   make(map[string]*bucket),
		now:       time.Now,
	}
}

func (l *memoryLimiter) bucketFor(key string) *bucket {
	b, ok := l.buckets[key]
	now := l.now()
	if !ok || now.Sub(b.windowStart) > l.period {
		b = &bucket{windowStart: now}
		l.buckets[key] = b
	}
	return b
}

func (l *memoryLimiter) Check(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.bucketFor(key)
	if b.count+1 > l.maxCalls || b.tokens > l.maxTokens {
		return apperr.TooManyRequests("RATE_LIMIT_EXCEEDED",
			fmt.Sprintf("bucket %s: %d calls, %d tokens in window", key, b.count, b.tokens))
	}
	b.count++
	return nil
}

func (l *memoryLimiter) AddTokens(_ context.Context, key string, tokens int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.bucketFor(key)
	b.tokens += tokens
	return nil
}

// redisLimiter shares buckets across replicas. Counters live under
// ratelimit:{key}:calls / :tokens with the period as TTL.
type redisLimiter struct {
	client    *redis.Client
	maxCalls  int
	maxTokens int
	period    time.Duration
}

// NewRedisLimiter builds the distributed limiter.
func NewRedisLimiter(client *redis.Client, maxCalls, maxTokens int, period time.Duration) Limiter {
	if period <= 0 {
		period = time.Minute
	}
	return &redisLimiter{client: client, maxCalls: maxCalls, maxTokens: maxTokens, period: period}
}

func (l *redisLimiter) Check(ctx context.Context, key string) error {
	callsKey := "ratelimit:" + key + ":calls"
	tokensKey := "ratelimit:" + key + ":tokens"

	pipe := l.client.TxPipeline()
	calls := pipe.Incr(ctx, callsKey)
	pipe.Expire(ctx, callsKey, l.period)
	tokens := pipe.Get(ctx, tokensKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return fmt.Errorf("rate limit check %s: %w", key, err)
	}
	used := 0
	if v, err := tokens.Int(); err == nil {
		used = v
	}
	if int(calls.Val()) > l.maxCalls || used > l.maxTokens {
		return apperr.TooManyRequests("RATE_LIMIT_EXCEEDED",
			fmt.Sprintf("bucket %s: %d calls, %d tokens in window", key, calls.Val(), used))
	}
	return nil
}

func (l *redisLimiter) AddTokens(ctx context.Context, key string, tokens int) error {
	tokensKey := "ratelimit:" + key + ":tokens"
	pipe := l.client.TxPipeline()
	pipe.IncrBy(ctx, tokensKey, int64(tokens))
	pipe.Expire(ctx, tokensKey, l.period)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rate limit add tokens %s: %w", key, err)
	}
	return nil
}

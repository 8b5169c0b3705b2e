package scraper

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
	"portfolio_scraper/config"
)

// RateLimiter blocks between consecutive detail fetches and reports how long
// it waited.
type RateLimiter interface {
	Wait(ctx context.Context) (time.Duration, error)
}

func NewRateLimiter(cfg config.RateLimitConfig) RateLimiter {
	var chain Chain
	if cfg.Max > 0 {
		chain = append(chain, NewJitterLimiter(cfg.Min, cfg.Max))
	}
	if cfg.RPS > 0 {
		chain = append(chain, NewRPSLimiter(cfg.RPS))
	}
	return chain
}

// JitterLimiter sleeps for a uniformly random delay in [min, max].
type JitterLimiter struct {
	min   time.Duration
	max   time.Duration
	sleep func(context.Context, time.Duration) error
}

func NewJitterLimiter(lo, hi time.Duration) *JitterLimiter {
	if hi < lo {
		hi = lo
	}
	return &JitterLimiter{min: lo, max: hi, sleep: sleep}
}

func (l *JitterLimiter) Next() time.Duration {
	if l.max <= l.min {
		return l.min
	}
	return l.min + time.Duration(rand.Int64N(int64(l.max-l.min)+1))
}

func (l *JitterLimiter) Wait(ctx context.Context) (time.Duration, error) {
	d := l.Next()
	return d, l.sleep(ctx, d)
}

// RPSLimiter caps the sustained fetch rate with a token bucket of size one.
type RPSLimiter struct {
	limiter *rate.Limiter
}

func NewRPSLimiter(rps float64) *RPSLimiter {
	return &RPSLimiter{limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

func (l *RPSLimiter) Wait(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	err := l.limiter.Wait(ctx)
	return time.Since(start), err
}

// Chain waits on each limiter in turn.
type Chain []RateLimiter

func (c Chain) Wait(ctx context.Context) (time.Duration, error) {
	var total time.Duration
	for _, l := range c {
		d, err := l.Wait(ctx)
		total += d
		if err != nil {
			return total, err
		}
	}
	return total, ctx.Err()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

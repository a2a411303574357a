// Package ratelimit gates outbound API calls: a concurrency cap, a minimum
// interval between admissions that adapts to server quota headers, and
// retry with backoff for transient failures.
package ratelimit

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
	HeaderRetry     = "Retry-After"

	// The adaptive interval never exceeds base/minQuotaRatio from the ratio rule alone.
	minQuotaRatio = 0.1
)

type Config struct {
	MaxConcurrent     int
	RequestsPerSecond float64
	LowWaterMark      int
	SlowdownFactor    float64
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	RetryAfterBuffer  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 20
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 100
	}
	if c.LowWaterMark <= 0 {
		c.LowWaterMark = 5
	}
	if c.SlowdownFactor <= 1 {
		c.SlowdownFactor = 1.2
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.RetryAfterBuffer < 0 {
		c.RetryAfterBuffer = 0
	}
	return c
}

// Limiter is safe for concurrent use and is meant to be shared by every
// request issued against one upstream.
type Limiter struct {
	cfg    Config
	sem    *semaphore.Weighted
	pace   *rate.Limiter
	logger *zap.Logger

	mu           sync.Mutex
	baseInterval time.Duration
	interval     time.Duration
	remaining    int

	inFlight atomic.Int64
	retries  atomic.Int64

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(d time.Duration) time.Duration
}

func New(cfg Config, logger *zap.Logger) *Limiter {
	cfg = cfg.withDefaults()
	base := time.Duration(float64(time.Second) / cfg.RequestsPerSecond)
	return &Limiter{
		cfg:          cfg,
		sem:          semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		pace:         rate.NewLimiter(rate.Every(base), 1),
		logger:       logger,
		baseInterval: base,
		interval:     base,
		remaining:    -1,
		sleep:        sleepCtx,
		jitter:       defaultJitter,
	}
}

// Acquire blocks until a concurrency slot is free and the pacing interval
// has elapsed since the previous admission. The returned release must be
// called exactly once; extra calls are ignored.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := l.pace.Wait(ctx); err != nil {
		l.sem.Release(1)
		return nil, err
	}
	l.inFlight.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			l.inFlight.Add(-1)
			l.sem.Release(1)
		})
	}, nil
}

// Do runs op under the limiter and retries it up to maxRetries times while
// the returned error is retryable. Each attempt takes a fresh slot; the
// backoff wait happens outside of it. Response headers returned by op feed
// the adaptive interval even when op fails.
func (l *Limiter) Do(ctx context.Context, maxRetries int, op func(ctx context.Context) (http.Header, error)) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	delay := l.cfg.BaseDelay
	for attempt := 0; ; attempt++ {
		release, err := l.Acquire(ctx)
		if err != nil {
			return err
		}
		header, err := op(ctx)
		release()
		if header != nil {
			l.Observe(header)
		}
		if err == nil {
			return nil
		}
		if !IsRetryable(err) || attempt >= maxRetries {
			return err
		}

		wait := l.backoff(err, delay)
		delay *= 2
		if delay > l.cfg.MaxDelay {
			delay = l.cfg.MaxDelay
		}
		l.retries.Add(1)
		if l.logger != nil {
			l.logger.Debug("retrying request",
				zap.Int("attempt", attempt+1),
				zap.Int("max_retries", maxRetries),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (l *Limiter) backoff(err error, delay time.Duration) time.Duration {
	var ra interface{ RetryAfter() time.Duration }
	if errors.As(err, &ra) {
		if d := ra.RetryAfter(); d > 0 {
			return d + l.cfg.RetryAfterBuffer
		}
	}
	wait := delay + l.jitter(delay)
	if wait > l.cfg.MaxDelay {
		wait = l.cfg.MaxDelay
	}
	return wait
}

// Observe adjusts the pacing interval from quota headers. The interval grows
// as the remaining/limit ratio shrinks, and is inflated by SlowdownFactor once
// remaining drops below LowWaterMark. It never goes below the configured base.
func (l *Limiter) Observe(h http.Header) {
	limit, okLimit := headerInt(h, HeaderLimit)
	remaining, okRemaining := headerInt(h, HeaderRemaining)
	if !okRemaining {
		return
	}
	reset, _ := headerInt(h, HeaderReset)

	l.mu.Lock()
	defer l.mu.Unlock()

	target := l.baseInterval
	if okLimit && limit > 0 {
		ratio := float64(remaining) / float64(limit)
		if ratio < minQuotaRatio {
			ratio = minQuotaRatio
		}
		if ratio < 1 {
			target = time.Duration(float64(l.baseInterval) / ratio)
		}
	}
	if reset > 0 && remaining > 0 {
		spread := time.Duration(reset) * time.Second / time.Duration(remaining)
		if spread > target {
			target = spread
		}
	}
	if remaining < l.cfg.LowWaterMark {
		target = time.Duration(float64(target) * l.cfg.SlowdownFactor)
	}
	if target < l.baseInterval {
		target = l.baseInterval
	}
	if target > l.cfg.MaxDelay {
		target = l.cfg.MaxDelay
	}

	l.remaining = remaining
	if target != l.interval {
		l.interval = target
		l.pace.SetLimit(rate.Every(target))
		if l.logger != nil && remaining < l.cfg.LowWaterMark {
			l.logger.Warn("upstream quota low, slowing down",
				zap.Int("remaining", remaining),
				zap.Int("limit", limit),
				zap.Duration("interval", target),
			)
		}
	}
}

func (l *Limiter) Interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interval
}

// Remaining is the last server-reported quota, or -1 before any report.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remaining
}

func (l *Limiter) InFlight() int {
	return int(l.inFlight.Load())
}

// Retries counts backoff waits taken across all calls.
func (l *Limiter) Retries() int64 {
	return l.retries.Load()
}

// IsRetryable reports whether any error in err's chain declares itself retryable.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// ParseRetryAfter reads a Retry-After header in either delta-seconds or HTTP-date form.
func ParseRetryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get(HeaderRetry))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func headerInt(h http.Header, key string) (int, bool) {
	v := strings.TrimSpace(h.Get(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		f, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil {
			return 0, false
		}
		n = int(f)
	}
	return n, true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func defaultJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)/2 + 1))
}

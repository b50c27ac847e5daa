package common

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimiter paces requests locally and backs off when the venue-reported request
// weight for the current window approaches its cap.
type RateLimiter struct {
	pacer  *rate.Limiter
	cap    int
	window time.Duration
	log    *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	used        int
	windowStart time.Time
}

// NewRateLimiter allows weightCap per window (2400/min on USDT-M futures) and paces to
// requestsPerSecond.
func NewRateLimiter(weightCap int, window time.Duration, requestsPerSecond float64, log *zap.Logger) *RateLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &RateLimiter{
		pacer:       rate.NewLimiter(rate.Limit(requestsPerSecond), max(1, int(requestsPerSecond))),
		cap:         weightCap,
		window:      window,
		log:         log,
		now:         time.Now,
		windowStart: time.Now(),
	}
}

// Wait blocks until the next request may go out. At 90% of the weight cap it first
// sleeps to the end of the current window.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if d := rl.backoff(); d > 0 {
		rl.log.Warn("request weight near cap, delaying", zap.Duration("delay", d))
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return rl.pacer.Wait(ctx)
}

func (rl *RateLimiter) backoff() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.rollLocked()
	if rl.used*10 < rl.cap*9 {
		return 0
	}
	return rl.window - rl.now().Sub(rl.windowStart)
}

func (rl *RateLimiter) rollLocked() {
	if rl.now().Sub(rl.windowStart) >= rl.window {
		rl.used = 0
		rl.windowStart = rl.now()
	}
}

// UpdateFromHeader records the X-MBX-USED-WEIGHT-1M value. Unparseable values are
// ignored.
func (rl *RateLimiter) UpdateFromHeader(v string) {
	weight, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	rl.mu.Lock()
	rl.rollLocked()
	rl.used = weight
	rl.mu.Unlock()

	switch pct := float64(weight) / float64(rl.cap) * 100; {
	case pct >= 95:
		rl.log.Error("request weight critical", zap.Int("used", weight), zap.Int("cap", rl.cap))
	case pct >= 80:
		rl.log.Warn("request weight high", zap.Int("used", weight), zap.Int("cap", rl.cap))
	}
}

// Usage returns the weight used in the current window.
func (rl *RateLimiter) Usage() (used, weightCap int, pct float64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.rollLocked()
	return rl.used, rl.cap, float64(rl.used) / float64(rl.cap) * 100
}

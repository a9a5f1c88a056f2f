package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Limiter enforces a minimum interval between consecutive calls. It keeps a
// single next-allowed timestamp; the first call never waits.
type Limiter struct {
	interval time.Duration
	clock    Clock

	mu          sync.Mutex
	nextAllowed time.Time
}

// New creates a Limiter. A nil clock means RealClock; a non-positive
// interval disables waiting.
func New(interval time.Duration, clock Clock) *Limiter {
	if clock == nil {
		clock = RealClock{}
	}
	return &Limiter{interval: interval, clock: clock}
}

// Wait blocks until a call is allowed and reserves the slot. If ctx is
// cancelled while waiting the slot is not consumed.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if delay := l.nextAllowed.Sub(now); delay > 0 {
		zap.L().Debug("ratelimit: waiting for slot", zap.Duration("delay", delay))
		if err := l.clock.Sleep(ctx, delay); err != nil {
			return eris.Wrap(err, "ratelimit: wait")
		}
		now = l.clock.Now()
		if now.Before(l.nextAllowed) {
			now = l.nextAllowed
		}
	}

	l.nextAllowed = now.Add(l.interval)
	return nil
}

package quota

import (
	"context"
	"sync"
	"time"
)

// Pacer spaces successive retrieval attempts of the same resource. The very
// first call over the lifetime of a Pacer never sleeps, so the first
// retrieval of a run starts immediately.
type Pacer struct {
	wait      time.Duration // flat delay between retrievals
	waitRetry time.Duration // cap for the linear per-retry backoff

	mu    sync.Mutex
	first bool
}

// NewPacer creates a pacer with a flat wait and a retry-backoff cap. Either
// value may be zero to disable that policy.
func NewPacer(wait, waitRetry time.Duration) *Pacer {
	return &Pacer{wait: wait, waitRetry: waitRetry, first: true}
}

// SleepBetween blocks before attempt number count (counted from 1) according
// to the configured policy: a linear backoff of count-1 seconds capped at the
// per-retry value when this is a retry, otherwise the flat wait. It returns
// early with the context error on cancellation.
func (p *Pacer) SleepBetween(ctx context.Context, count int) error {
	p.mu.Lock()
	first := p.first
	p.first = false
	p.mu.Unlock()
	if first {
		return nil
	}

	d := p.delayFor(count)
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pacer) delayFor(count int) time.Duration {
	if p.waitRetry > 0 && count > 1 {
		d := time.Duration(count-1) * time.Second
		if d > p.waitRetry {
			d = p.waitRetry
		}
		return d
	}
	return p.wait
}

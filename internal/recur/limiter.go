package recur

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// hostLimiter spaces requests to the same host during recursive expansion.
type hostLimiter struct {
	delay time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newHostLimiter(delay time.Duration) *hostLimiter {
	l := &hostLimiter{delay: delay}
	if delay > 0 {
		l.limiters = make(map[string]*rate.Limiter)
	}
	return l
}

// Wait blocks until the politeness delay for host has passed.
func (l *hostLimiter) Wait(ctx context.Context, host string) error {
	if l == nil || l.delay <= 0 || host == "" {
		return nil
	}
	host = strings.ToLower(host)

	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(l.delay), 1)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	return limiter.Wait(ctx)
}

package ratelimit

import (
	"context"
	"sync"
	"time"
)

type record struct {
	failures     int
	lastFailure  time.Time
	blockedUntil time.Time
}

// Limiter counts failed authentication attempts per client and blocks a
// client once it exceeds maxFailures within window.
type Limiter struct {
	mu          sync.Mutex
	clients     map[string]*record
	maxFailures int
	window      time.Duration
	block       time.Duration
	now         func() time.Time
}

func NewLimiter(maxFailures int, window, block time.Duration) *Limiter {
	return &Limiter{
		clients:     make(map[string]*record),
		maxFailures: maxFailures,
		window:      window,
		block:       block,
		now:         time.Now,
	}
}

// Allow reports whether client may attempt to authenticate and, if not, how
// long it remains blocked.
func (l *Limiter) Allow(client string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.clients[client]
	if !ok {
		return true, 0
	}
	if now := l.now(); now.Before(rec.blockedUntil) {
		return false, rec.blockedUntil.Sub(now)
	}
	return true, 0
}

// Fail records a failed attempt and returns the number of failures inside
// the current window.
func (l *Limiter) Fail(client string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec, ok := l.clients[client]
	if !ok {
		rec = &record{}
		l.clients[client] = rec
	}
	if now.Sub(rec.lastFailure) > l.window {
		rec.failures = 0
	}
	rec.failures++
	rec.lastFailure = now
	if rec.failures > l.maxFailures {
		rec.blockedUntil = now.Add(l.block)
	}
	return rec.failures
}

// Succeed forgets the failures of client.
func (l *Limiter) Succeed(client string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.clients, client)
}

// Prune drops clients that are neither blocked nor failed recently.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for client, rec := range l.clients {
		if now.Sub(rec.lastFailure) > 2*l.window && !now.Before(rec.blockedUntil) {
			delete(l.clients, client)
			removed++
		}
	}
	return removed
}

// Run prunes stale clients every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}

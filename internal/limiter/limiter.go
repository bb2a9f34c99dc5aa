// Package limiter throttles lending requests per user and operation.
package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Limiter records a request and decides whether it may proceed.
type Limiter interface {
	// Hit counts one request of userID for op. When it returns false the
	// caller should retry after the returned duration.
	Hit(ctx context.Context, userID uuid.UUID, op string) (bool, time.Duration, error)
}

// Policy is a fixed-window budget with a lockout once it is exceeded.
type Policy struct {
	Max      int
	Window   time.Duration
	BlockFor time.Duration
}

type counter struct {
	hits         int
	windowStart  time.Time
	blockedUntil time.Time
}

type key struct {
	user uuid.UUID
	op   string
}

// Memory keeps counters in process; it backs the server when no database is configured.
type Memory struct {
	mu  sync.Mutex
	p   Policy
	now func() time.Time
	m   map[key]*counter
}

func NewMemory(p Policy) *Memory {
	return &Memory{p: p, now: time.Now, m: map[key]*counter{}}
}

func (l *Memory) Hit(_ context.Context, userID uuid.UUID, op string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	k := key{userID, op}
	c, ok := l.m[k]
	if !ok {
		c = &counter{windowStart: now}
		l.m[k] = c
	}
	if c.blockedUntil.After(now) {
		return false, c.blockedUntil.Sub(now), nil
	}
	if now.Sub(c.windowStart) > l.p.Window {
		c.hits, c.windowStart = 0, now
	}
	c.hits++
	if c.hits > l.p.Max {
		c.blockedUntil = now.Add(l.p.BlockFor)
		return false, l.p.BlockFor, nil
	}
	return true, 0, nil
}

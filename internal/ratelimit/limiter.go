// Package ratelimit provides fixed-window admission control per user for
// requests/minute and tokens/minute. Reservation is optimistic: counters are
// bumped at admission and trued up once actual usage is known. Over-budget
// turns are rejected immediately; there is no queueing and no implicit retry.
package ratelimit

import (
	"sync"
	"time"
)

type counters struct {
	windowStartMinute int64 // unix time / 60
	requests          int
	tokens            int
}

type Limiter struct {
	requestsPerMinute int
	tokensPerMinute   int

	mu    sync.Mutex
	users map[string]*counters
	now   func() time.Time
}

func New(requestsPerMinute, tokensPerMinute int) *Limiter {
	if requestsPerMinute < 1 {
		requestsPerMinute = 1
	}
	if tokensPerMinute < 1 {
		tokensPerMinute = 1
	}
	return &Limiter{
		requestsPerMinute: requestsPerMinute,
		tokensPerMinute:   tokensPerMinute,
		users:             make(map[string]*counters),
		now:               time.Now,
	}
}

// WithClock overrides the time source. Test seam.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow reserves capacity for one request plus requestedTokens in the user's
// current 60-second window. Counters are incremented on admission so a burst
// of concurrent turns cannot all slip under the budget.
func (l *Limiter) Allow(userID string, requestedTokens int) bool {
	if requestedTokens < 0 {
		requestedTokens = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.currentWindow(userID)
	if c.requests+1 > l.requestsPerMinute {
		return false
	}
	if c.tokens+requestedTokens > l.tokensPerMinute {
		return false
	}
	c.requests++
	c.tokens += requestedTokens
	return true
}

// AddUsage trues up the token reservation after actual usage is known. The
// result is clamped to [0, tokensPerMinute]; a window that rolled since
// admission simply absorbs the delta into fresh counters.
func (l *Limiter) AddUsage(userID string, actualTokens, allocatedTokens int) {
	if actualTokens < 0 {
		actualTokens = 0
	}
	if allocatedTokens < 0 {
		allocatedTokens = 0
	}
	delta := actualTokens - allocatedTokens
	if delta == 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.currentWindow(userID)
	tokens := c.tokens + delta
	if tokens < 0 {
		tokens = 0
	} else if tokens > l.tokensPerMinute {
		tokens = l.tokensPerMinute
	}
	c.tokens = tokens
}

// currentWindow returns the user's counters, resetting them when the fixed
// window has rolled. Callers must hold l.mu.
func (l *Limiter) currentWindow(userID string) *counters {
	nowMin := l.now().Unix() / 60
	c, ok := l.users[userID]
	if !ok || c.windowStartMinute != nowMin {
		c = &counters{windowStartMinute: nowMin}
		l.users[userID] = c
	}
	return c
}

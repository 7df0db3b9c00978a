package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is a single-process sliding window, used when no Redis is
// configured.
type MemoryLimiter struct {
	mu     sync.Mutex
	config Config
	hits   map[string][]time.Time
	now    func() time.Time
}

func NewMemoryLimiter(config Config) *MemoryLimiter {
	return &MemoryLimiter{
		config: config,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	windowStart := now.Add(-l.config.Window)

	hits := l.hits[key]
	i := 0
	for i < len(hits) && !hits[i].After(windowStart) {
		i++
	}
	hits = hits[i:]

	res := Result{
		Limit:   l.config.RequestsPerWindow,
		ResetAt: now.Add(l.config.Window),
	}

	if len(hits) < l.config.RequestsPerWindow {
		hits = append(hits, now)
		res.Allowed = true
		res.Remaining = l.config.RequestsPerWindow - len(hits)
	} else {
		// A non-positive limit denies everything and leaves no hits to age out.
		res.RetryAfter = l.config.Window
		if len(hits) > 0 {
			res.RetryAfter = hits[0].Add(l.config.Window).Sub(now)
		}
		res.ResetAt = now.Add(res.RetryAfter)
	}

	if len(hits) == 0 {
		delete(l.hits, key)
	} else {
		l.hits[key] = hits
	}

	return res, nil
}

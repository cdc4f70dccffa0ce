package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Verdict is the outcome of counting one request against a window.
type Verdict struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Counter counts hits per key inside one-second windows.
type Counter interface {
	Hit(ctx context.Context, key string, limit int, now time.Time) (Verdict, error)
}

// window returns the current second and the instant the next one starts.
func window(now time.Time) (int64, time.Time) {
	sec := now.Unix()
	return sec, time.Unix(sec+1, 0).UTC()
}

func verdictFor(count int64, limit int, resetAt time.Time) Verdict {
	if count > int64(limit) {
		return Verdict{Allowed: false, Limit: limit, ResetAt: resetAt}
	}
	return Verdict{Allowed: true, Limit: limit, Remaining: limit - int(count), ResetAt: resetAt}
}

// MemoryCounter keeps the current window of every key in process memory.
// Keys from older windows are dropped the first time a newer window is seen.
type MemoryCounter struct {
	mu      sync.Mutex
	current int64
	hits    map[string]int64
}

// NewMemoryCounter returns an empty MemoryCounter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{hits: make(map[string]int64)}
}

// Hit implements Counter.
func (m *MemoryCounter) Hit(_ context.Context, key string, limit int, now time.Time) (Verdict, error) {
	if limit <= 0 || key == "" {
		return Verdict{Allowed: true}, nil
	}
	sec, resetAt := window(now)

	m.mu.Lock()
	defer m.mu.Unlock()
	if sec > m.current {
		m.current = sec
		clear(m.hits)
	} else if sec < m.current {
		// A caller with a stale clock reading lands in the live window.
		resetAt = time.Unix(m.current+1, 0).UTC()
	}
	count := m.hits[key]
	if count >= int64(limit) {
		return Verdict{Allowed: false, Limit: limit, ResetAt: resetAt}, nil
	}
	count++
	m.hits[key] = count
	return verdictFor(count, limit, resetAt), nil
}

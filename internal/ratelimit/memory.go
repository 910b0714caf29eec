package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryKey struct {
	principal   string
	endpoint    string
	windowStart int64
}

// Memory is the process-local backend. Counters live in a map guarded by a
// mutex; stale windows are swept whenever a new window opens.
type Memory struct {
	mu     sync.Mutex
	counts map[memoryKey]int
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		counts: make(map[memoryKey]int),
		now:    time.Now,
	}
}

func (m *Memory) Allow(_ context.Context, principal, endpoint string, max int, window time.Duration) (bool, error) {
	if err := validateWindow(max, window); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	start := windowStart(now, window).Unix()
	key := memoryKey{principal: principal, endpoint: endpoint, windowStart: start}

	if _, exists := m.counts[key]; !exists {
		m.sweep(now, window)
	}
	if m.counts[key] >= max {
		return false, nil
	}
	m.counts[key]++
	return true, nil
}

// sweep drops windows older than twice the window size. Called with the
// mutex held, only when a new window opens.
func (m *Memory) sweep(now time.Time, window time.Duration) {
	cutoff := now.Add(-2 * window).Unix()
	for key := range m.counts {
		if key.windowStart < cutoff {
			delete(m.counts, key)
		}
	}
}

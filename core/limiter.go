package core

import (
	"fmt"
	"sync"
)

// CallLimiter enforces a maximum number of calls of one kind per run.
type CallLimiter struct {
	name  string
	max   int
	count int
	mu    sync.Mutex
}

// NewCallLimiter creates a limiter allowing max calls. If max == 0, unlimited
// calls are allowed.
func NewCallLimiter(name string, max int) *CallLimiter {
	return &CallLimiter{name: name, max: max}
}

// Increment records a call and returns an error if the limit is exceeded.
func (l *CallLimiter) Increment() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max > 0 && l.count >= l.max {
		return fmt.Errorf("exceeded max %s calls: %d", l.name, l.max)
	}
	l.count++

	return nil
}

// Count returns the number of calls recorded so far.
func (l *CallLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.count
}

// Remaining returns how many calls are left before hitting the limit.
func (l *CallLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max == 0 {
		return -1 // unlimited
	}

	return l.max - l.count
}

package server

import (
	"fmt"
	"sync"
)

// SessionLimiter bounds the number of scans a single client runs at once.
type SessionLimiter struct {
	mu     sync.Mutex
	max    int
	active map[string]int
}

// SessionLimitError is returned when a client already runs the maximum
// number of sessions.
type SessionLimitError struct {
	Client string
	Limit  int
}

func (e *SessionLimitError) Error() string {
	return fmt.Sprintf("client %s already runs %d scan sessions", e.Client, e.Limit)
}

// NewSessionLimiter creates a limiter allowing max concurrent sessions per
// client. A non-positive max disables limiting.
func NewSessionLimiter(max int) *SessionLimiter {
	return &SessionLimiter{max: max, active: make(map[string]int)}
}

// Acquire reserves a session slot for client. The returned release func must
// be called exactly once when the session ends.
func (l *SessionLimiter) Acquire(client string) (release func(), err error) {
	if l == nil || l.max <= 0 {
		return func() {}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active[client] >= l.max {
		return nil, &SessionLimitError{Client: client, Limit: l.max}
	}
	l.active[client]++

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.active[client]--
			if l.active[client] <= 0 {
				delete(l.active, client)
			}
		})
	}, nil
}

// Active returns the number of sessions client is running.
func (l *SessionLimiter) Active(client string) int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active[client]
}

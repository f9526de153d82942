package server

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLimiter(t *testing.T) {
	l := NewSessionLimiter(2)

	r1, err := l.Acquire("a")
	require.NoError(t, err)
	r2, err := l.Acquire("a")
	require.NoError(t, err)
	assert.Equal(t, 2, l.Active("a"))

	_, err = l.Acquire("a")
	var limitErr *SessionLimitError
	require.True(t, errors.As(err, &limitErr))
	assert.Equal(t, 2, limitErr.Limit)
	assert.Equal(t, "a", limitErr.Client)

	_, err = l.Acquire("b")
	require.NoError(t, err)

	r1()
	r1() // releasing twice frees one slot only
	assert.Equal(t, 1, l.Active("a"))
	r2()
	assert.Zero(t, l.Active("a"))
}

func TestSessionLimiterDisabled(t *testing.T) {
	for _, l := range []*SessionLimiter{nil, NewSessionLimiter(0)} {
		for i := 0; i < 10; i++ {
			release, err := l.Acquire("a")
			require.NoError(t, err)
			defer release()
		}
		assert.Zero(t, l.Active("a"))
	}
}

func TestSessionLimiterConcurrent(t *testing.T) {
	l := NewSessionLimiter(5)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Acquire("a"); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, accepted)
	assert.Equal(t, 5, l.Active("a"))
}

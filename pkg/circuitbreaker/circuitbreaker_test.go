package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestCircuitBreaker(t *testing.T) {
	failure := errors.New("unreachable")
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}

	newBreaker := func() *CircuitBreaker {
		return NewCircuitBreaker(Settings{
			Name:        "test",
			MaxFailures: 2,
			Timeout:     time.Second,
			Now:         c.now,
		})
	}

	t.Run("opens after consecutive failures", func(t *testing.T) {
		cb := newBreaker()
		assert.ErrorIs(t, cb.Execute(func() error { return failure }), failure)
		assert.Equal(t, StateClosed, cb.State())
		assert.ErrorIs(t, cb.Execute(func() error { return failure }), failure)
		assert.Equal(t, StateOpen, cb.State())

		called := false
		err := cb.Execute(func() error { called = true; return nil })
		assert.ErrorIs(t, err, ErrOpen)
		assert.False(t, called)
	})

	t.Run("success resets the failure count", func(t *testing.T) {
		cb := newBreaker()
		_ = cb.Execute(func() error { return failure })
		assert.NoError(t, cb.Execute(func() error { return nil }))
		_ = cb.Execute(func() error { return failure })
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("half-open after timeout", func(t *testing.T) {
		cb := newBreaker()
		_ = cb.Execute(func() error { return failure })
		_ = cb.Execute(func() error { return failure })
		assert.Equal(t, StateOpen, cb.State())

		c.t = c.t.Add(2 * time.Second)
		assert.Equal(t, StateHalfOpen, cb.State())

		// one failed trial call reopens immediately
		assert.ErrorIs(t, cb.Execute(func() error { return failure }), failure)
		assert.Equal(t, StateOpen, cb.State())

		c.t = c.t.Add(2 * time.Second)
		assert.NoError(t, cb.Execute(func() error { return nil }))
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("defaults", func(t *testing.T) {
		cb := NewCircuitBreaker(Settings{Name: "redis"})
		assert.Equal(t, "redis", cb.Name())
		assert.Equal(t, 5, cb.maxFailures)
		assert.Equal(t, 5*time.Second, cb.timeout)
	})
}

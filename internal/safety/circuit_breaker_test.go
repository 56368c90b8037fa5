package safety

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("bybit_instruments", CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
	})
	cb.now = clock.Now

	boom := errors.New("connection reset")
	fail := func() error { return boom }
	ok := func() error { return nil }

	assert.ErrorIs(t, cb.Call(fail), boom)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.ErrorIs(t, cb.Call(fail), boom)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Call(func() error { called = true; return nil })
	var open *ErrCircuitOpen
	require.ErrorAs(t, err, &open)
	assert.False(t, called)

	clock.Advance(31 * time.Second)
	require.NoError(t, cb.Call(ok))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("bybit_instruments", CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Second})
	cb.now = clock.Now

	_ = cb.Call(func() error { return errors.New("timeout") })
	require.Equal(t, StateOpen, cb.GetState())

	clock.Advance(2 * time.Second)
	_ = cb.Call(func() error { return errors.New("timeout") })
	assert.Equal(t, StateOpen, cb.GetState())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
}

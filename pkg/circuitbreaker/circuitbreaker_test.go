package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDownstream = errors.New("downstream unavailable")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func failing(context.Context) error    { return errDownstream }
func succeeding(context.Context) error { return nil }

func newTestBreaker(clock *fakeClock, transitions *[]string) *CircuitBreaker {
	return NewCircuitBreaker("whatsapp", Config{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             10 * time.Second,
		HalfOpenMaxRequests: 1,
	},
		WithClock(clock.now),
		WithStateChangeHook(func(_ string, from, to State) {
			*transitions = append(*transitions, from.String()+"->"+to.String())
		}),
	)
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	var transitions []string
	cb := newTestBreaker(clock, &transitions)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, failing), errDownstream)
	}
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.False(t, called)
	assert.Equal(t, []string{"closed->open"}, transitions)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	var transitions []string
	cb := newTestBreaker(clock, &transitions)
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	_ = cb.Execute(ctx, failing)
	require.NoError(t, cb.Execute(ctx, succeeding))
	_ = cb.Execute(ctx, failing)
	_ = cb.Execute(ctx, failing)

	assert.Equal(t, StateClosed, cb.GetState())
	assert.Empty(t, transitions)
}

func TestHalfOpenRecovery(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	var transitions []string
	cb := newTestBreaker(clock, &transitions)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, failing)
	}
	clock.advance(11 * time.Second)

	require.NoError(t, cb.Execute(ctx, succeeding))
	assert.Equal(t, StateHalfOpen, cb.GetState())
	require.NoError(t, cb.Execute(ctx, succeeding))
	assert.Equal(t, StateClosed, cb.GetState())

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	var transitions []string
	cb := newTestBreaker(clock, &transitions)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, failing)
	}
	clock.advance(10 * time.Second)

	assert.ErrorIs(t, cb.Execute(ctx, failing), errDownstream)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Execute(ctx, succeeding), ErrCircuitBreakerOpen)
}

func TestHalfOpenLimitsConcurrentProbes(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	var transitions []string
	cb := newTestBreaker(clock, &transitions)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, failing)
	}
	clock.advance(10 * time.Second)

	var nested error
	err := cb.Execute(ctx, func(ctx context.Context) error {
		nested = cb.Execute(ctx, succeeding)
		return nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, nested, ErrCircuitBreakerOpen)
}

func TestCallerCancellationIsNotAFailure(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	var transitions []string
	cb := newTestBreaker(clock, &transitions)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	}
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestReset(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	var transitions []string
	cb := newTestBreaker(clock, &transitions)
	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), failing)
	}
	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, "whatsapp", cb.Name())
}

func TestConfigDefaults(t *testing.T) {
	cb := NewCircuitBreaker("x", Config{})
	assert.Equal(t, DefaultConfig(), cb.config)
}

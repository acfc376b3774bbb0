package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream unavailable")

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker("embeddings", cfg)
	cb.now = clock.Now
	cb.toNewGeneration(clock.Now())
	return cb, clock
}

func fail() error    { return errUpstream }
func succeed() error { return nil }

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var transitions []State
	cb, _ := newTestBreaker(Config{
		FailureThreshold: 3,
		Timeout:          time.Second,
		OnStateChange: func(_ string, _ State, to State) {
			transitions = append(transitions, to)
		},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	}

	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)
	assert.Equal(t, []State{StateOpen}, transitions)
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	cb, clock := newTestBreaker(Config{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		MaxRequests:      2,
		Timeout:          time.Second,
	})
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, fail))
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(2 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, succeed))
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(Config{FailureThreshold: 1, Timeout: time.Second})
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, fail))
	clock.Advance(2 * time.Second)

	require.Error(t, cb.Execute(ctx, fail))
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerIgnoresNonFailures(t *testing.T) {
	errBadRequest := errors.New("bad request")
	cb, _ := newTestBreaker(Config{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, errBadRequest) },
	})
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, func() error { return errBadRequest }), errBadRequest)
	assert.ErrorIs(t, cb.Execute(ctx, func() error { return context.Canceled }), context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(2), cb.Counts().TotalSuccesses)
}

func TestBreakerIntervalResetsCounts(t *testing.T) {
	cb, clock := newTestBreaker(Config{FailureThreshold: 2, Interval: time.Minute})
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, fail))
	clock.Advance(2 * time.Minute)
	require.Error(t, cb.Execute(ctx, fail))

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(1), cb.Counts().ConsecutiveFailures)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}

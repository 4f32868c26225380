package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int, reset time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker("test", BreakerConfig{FailureThreshold: threshold, ResetTimeout: reset})
	b.now = clock.Now
	return b, clock
}

var errBoom = errors.New("boom")

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	for range 2 {
		assert.ErrorIs(t, b.Execute(ctx, fail), errBoom)
		assert.Equal(t, Closed, b.State())
	}
	assert.ErrorIs(t, b.Execute(ctx, fail), errBoom)
	assert.Equal(t, Open, b.State())

	called := false
	err := b.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(2, time.Minute)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	require.NoError(t, b.Execute(ctx, succeed))
	_ = b.Execute(ctx, fail)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("probe success closes", func(t *testing.T) {
		t.Parallel()
		b, clock := newTestBreaker(1, time.Minute)
		_ = b.Execute(ctx, fail)
		assert.Equal(t, Open, b.State())

		clock.Advance(time.Minute)
		assert.Equal(t, HalfOpen, b.State())
		require.NoError(t, b.Execute(ctx, succeed))
		assert.Equal(t, Closed, b.State())
	})

	t.Run("probe failure reopens", func(t *testing.T) {
		t.Parallel()
		b, clock := newTestBreaker(1, time.Minute)
		_ = b.Execute(ctx, fail)
		clock.Advance(2 * time.Minute)
		assert.ErrorIs(t, b.Execute(ctx, fail), errBoom)
		assert.Equal(t, Open, b.State())
		assert.ErrorIs(t, b.Execute(ctx, succeed), ErrOpen)
	})
}

func TestExecuteVal(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(1, time.Minute)
	v, err := ExecuteVal(context.Background(), b, func(context.Context) (string, error) {
		return "Acme Data", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Acme Data", v)
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	t.Parallel()

	var got []string
	b := NewBreaker("meta", BreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		OnStateChange: func(name string, from, to State) {
			got = append(got, name+":"+from.String()+"->"+to.String())
		},
	})
	_ = b.Execute(context.Background(), fail)
	assert.Equal(t, []string{"meta:closed->open"}, got)
}

func TestBreakers(t *testing.T) {
	t.Parallel()

	set := NewBreakers(FromCircuitConfig(1, 60))
	a := set.Get("ccs")
	assert.Same(t, a, set.Get("ccs"))
	assert.NotSame(t, a, set.Get("experian"))

	_ = a.Execute(context.Background(), fail)
	states := set.States()
	assert.Equal(t, Open, states["ccs"])
	assert.Equal(t, Closed, states["experian"])
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "half-open", HalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())

	text, err := HalfOpen.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "half-open", string(text))
}

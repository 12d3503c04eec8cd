package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/wait"
)

func TestZeroRetries(t *testing.T) {
	s := Policy{}.Start()
	assert.False(t, s.Exhausted())
	assert.Zero(t, s.Remaining())

	s = s.Increment(errors.New("first"))
	assert.True(t, s.Exhausted())
	assert.Equal(t, 1, s.Attempts())
}

func TestIncrementIsImmutable(t *testing.T) {
	first, second := errors.New("first"), errors.New("second")
	s0 := Policy{MaxRetries: 1}.Start()
	s1 := s0.Increment(first)
	s2 := s1.Increment(second)

	assert.Equal(t, 1, s0.Remaining())
	assert.Empty(t, s0.History())
	assert.Equal(t, 0, s1.Remaining())
	assert.False(t, s1.Exhausted())
	assert.Equal(t, []error{first}, s1.History())
	assert.True(t, s2.Exhausted())
	assert.Equal(t, []error{first, second}, s2.History())
	assert.Same(t, second, s2.Last())

	// branching from the same state does not leak history
	s1b := s1.Increment(errors.New("other"))
	assert.Same(t, second, s2.Last())
	assert.NotSame(t, second, s1b.Last())
}

func TestRemainingNonIncreasing(t *testing.T) {
	s := Policy{MaxRetries: 5}.Start()
	prev := s.Remaining()
	for !s.Exhausted() {
		s = s.Increment(errors.New("x"))
		require.LessOrEqual(t, s.Remaining(), prev)
		prev = s.Remaining()
	}
	assert.Equal(t, 6, s.Attempts())
}

func TestNegativeMaxRetries(t *testing.T) {
	assert.Zero(t, Policy{MaxRetries: -3}.Start().Remaining())
}

func TestDelay(t *testing.T) {
	s := Policy{MaxRetries: 5}.Start()
	assert.Zero(t, s.Increment(nil).Delay())

	s = Policy{MaxRetries: 5, Backoff: wait.Backoff{Duration: 10 * time.Millisecond, Factor: 2, Cap: 50 * time.Millisecond}}.Start()
	assert.Zero(t, s.Delay())
	want := []time.Duration{10, 20, 40, 50, 50}
	for _, w := range want {
		s = s.Increment(errors.New("x"))
		assert.Equal(t, w*time.Millisecond, s.Delay())
	}

	s = Policy{MaxRetries: 1, Backoff: wait.Backoff{Duration: 10 * time.Millisecond}}.Start()
	assert.Equal(t, 10*time.Millisecond, s.Increment(nil).Increment(nil).Delay())
}

func TestSleep(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), time.Millisecond))
	require.NoError(t, Sleep(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}

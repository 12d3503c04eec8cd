// Package retry holds the retry budget of a single send. A [State] is a
// value, every transition returns a new one.
package retry

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// Policy bounds how often a send is retried and how long to wait between
// attempts. A zero Backoff retries immediately.
type Policy struct {
	MaxRetries int
	Backoff    wait.Backoff
}

func (p Policy) Start() State {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	return State{policy: p, remaining: p.MaxRetries}
}

type State struct {
	policy    Policy
	remaining int
	history   []error
}

// Remaining is the number of retries left. It goes negative once a failure
// is recorded with no budget left.
func (s State) Remaining() int { return s.remaining }

func (s State) Exhausted() bool { return s.remaining < 0 }

// Attempts is the number of failed attempts recorded so far.
func (s State) Attempts() int { return len(s.history) }

func (s State) History() []error {
	return append([]error(nil), s.history...)
}

// Last is the most recent recorded failure.
func (s State) Last() error {
	if len(s.history) == 0 {
		return nil
	}
	return s.history[len(s.history)-1]
}

// Increment records a failed attempt and spends one retry.
func (s State) Increment(err error) State {
	history := make([]error, len(s.history), len(s.history)+1)
	copy(history, s.history)
	return State{
		policy:    s.policy,
		remaining: s.remaining - 1,
		history:   append(history, err),
	}
}

// Delay is how long to wait before the next attempt.
func (s State) Delay() time.Duration {
	n := len(s.history)
	b := s.policy.Backoff
	if n == 0 || b.Duration <= 0 {
		return 0
	}
	b.Steps = n + 1
	var d time.Duration
	for i := 0; i < n; i++ {
		d = b.Step()
	}
	return d
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

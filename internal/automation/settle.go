package automation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultPollInterval is the pause between output reads while settling.
const DefaultPollInterval = time.Second

// ErrSettleTimeout is returned when a bounded settle gives up.
var ErrSettleTimeout = errors.New("settle timed out")

// ReadFunc reads the current output value.
type ReadFunc func(ctx context.Context) (string, error)

// Settler waits for the output field to move away from the last confirmed
// value. The application sends no completion event, so inequality with the
// sentinel is the only signal that a recalculation has landed.
//
// With Timeout and MaxPolls both zero the wait is unbounded: if the true new
// output happens to equal the sentinel the wait never ends.
type Settler struct {
	Interval time.Duration
	Timeout  time.Duration
	MaxPolls int

	// Sleep and Now are replaceable for tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// Wait polls read until it returns something other than sentinel and returns
// that value with the number of reads it took. Read errors are returned as is.
func (s Settler) Wait(ctx context.Context, read ReadFunc, sentinel string) (string, int, error) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	sleep := s.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	now := s.Now
	if now == nil {
		now = time.Now
	}
	start := now()

	for polls := 1; ; polls++ {
		value, err := read(ctx)
		if err != nil {
			return "", polls, err
		}
		if value != sentinel {
			return value, polls, nil
		}
		if s.MaxPolls > 0 && polls >= s.MaxPolls {
			return "", polls, fmt.Errorf("%w: output still %q after %d reads", ErrSettleTimeout, sentinel, polls)
		}
		if s.Timeout > 0 {
			if elapsed := now().Sub(start); elapsed >= s.Timeout {
				return "", polls, fmt.Errorf("%w: output still %q after %s", ErrSettleTimeout, sentinel, elapsed.Round(time.Millisecond))
			}
		}
		if err := sleep(ctx, interval); err != nil {
			return "", polls, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

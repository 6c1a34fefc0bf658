// Package poll turns "has the target application reacted yet" questions into
// bounded waits. Every wait is a fixed number of samples separated by a fixed
// delay; the attempt count is the bound, not wall-clock time.
package poll

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
)

// ErrExhausted is wrapped by the error Observe returns when no sample
// satisfied the probe.
var ErrExhausted = errors.New("poll: attempts exhausted")

var errPending = errors.New("poll: pending")

// Spec is a sampling budget.
type Spec struct {
	Tick     time.Duration // delay between samples
	MaxTicks int           // total number of samples, at least 1
}

// Every builds a Spec.
func Every(tick time.Duration, maxTicks int) Spec {
	return Spec{Tick: tick, MaxTicks: maxTicks}
}

func (s Spec) String() string {
	return fmt.Sprintf("%d x %s", s.attempts(), s.Tick)
}

func (s Spec) attempts() int {
	if s.MaxTicks < 1 {
		return 1
	}
	return s.MaxTicks
}

// TimeoutError reports an exhausted budget.
type TimeoutError struct {
	Attempts int
	Last     error // last non-fatal observation, if the probe reported one
}

func (e *TimeoutError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("no match after %d attempts: %v", e.Attempts, e.Last)
	}
	return fmt.Sprintf("no match after %d attempts", e.Attempts)
}

// Unwrap lets errors.Is(err, ErrExhausted) succeed.
func (e *TimeoutError) Unwrap() error { return ErrExhausted }

// Probe samples the environment once. attempt is 1-based. Returning done=true
// stops the loop with value; a non-nil err aborts the loop immediately.
type Probe[T any] func(attempt int) (value T, done bool, err error)

// Observe samples probe until it reports done, it fails, or the budget is
// spent. The probe is called exactly s.MaxTicks times when nothing matches.
func Observe[T any](s Spec, probe Probe[T]) (T, error) {
	var (
		result  T
		fatal   error
		attempt int
	)

	op := func() error {
		attempt++
		v, done, err := probe(attempt)
		if err != nil {
			fatal = err
			return nil
		}
		if !done {
			return errPending
		}
		result = v
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(s.Tick), uint64(s.attempts()-1))
	if err := backoff.Retry(op, b); err != nil {
		var zero T
		return zero, &TimeoutError{Attempts: attempt}
	}
	if fatal != nil {
		var zero T
		return zero, fatal
	}
	return result, nil
}

// Until is Observe for probes that produce no value.
func Until(s Spec, cond func(attempt int) (bool, error)) error {
	_, err := Observe(s, func(attempt int) (struct{}, bool, error) {
		ok, err := cond(attempt)
		return struct{}{}, ok, err
	})
	return err
}

// Settle blocks for a fixed delay. Used between synthetic input steps where
// there is no state to confirm.
func Settle(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

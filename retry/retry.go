// Package retry implements the time-budgeted retry envelope (§4.E) that
// wraps every provider-side connector call: Register, Deregister,
// Heartbeat. The loop is generic over the call's return type so it can
// wrap RegisterInstance's (code, instance_id) pair as easily as a bare
// code.
package retry

import (
	"time"

	"github.com/meshgov/polaris-client/codes"
)

// Budget configures one retry envelope invocation.
type Budget struct {
	// Timeout is the total wall-clock budget for the whole call,
	// including every retry and every inter-retry sleep.
	Timeout time.Duration
	// MaxTries bounds the number of connector calls regardless of
	// remaining budget.
	MaxTries int
	// Interval is the sleep between retries, capped to whatever budget
	// remains.
	Interval time.Duration
}

// Call is one attempt against the connector. It receives the remaining
// budget as its authoritative deadline, exactly as the spec requires: the
// final call's timeout argument is the remaining budget, not the
// original one.
type Call func(remaining time.Duration) codes.Code

// Do runs call under budget, retrying NetworkFailed/ServerError outcomes
// until a terminal code is returned, the budget is exhausted, or
// MaxTries calls have been made — whichever comes first.
func Do(b Budget, call Call) codes.Code {
	budget := b.Timeout
	tries := b.MaxTries
	if tries <= 0 {
		tries = 1
	}

	var last codes.Code
	for tries > 0 && budget > 0 {
		tries--

		t0 := time.Now()
		last = call(budget)
		used := time.Since(t0)

		if !last.Retryable() || used >= budget {
			break
		}
		budget -= used

		wait := b.Interval
		if wait > budget {
			wait = budget
		}
		if wait > 0 {
			time.Sleep(wait)
		}
		budget -= wait
	}
	return last
}

// DoWithResult is Do's generalization for calls that also return a value
// alongside the code (RegisterInstance's instance id). result is
// overwritten on every attempt; callers read it only after Do returns a
// terminal or Ok code.
func DoWithResult[T any](b Budget, call func(remaining time.Duration) (codes.Code, T)) (codes.Code, T) {
	var result T
	budget := b.Timeout
	tries := b.MaxTries
	if tries <= 0 {
		tries = 1
	}

	var last codes.Code
	for tries > 0 && budget > 0 {
		tries--

		t0 := time.Now()
		last, result = call(budget)
		used := time.Since(t0)

		if !last.Retryable() || used >= budget {
			return last, result
		}
		budget -= used

		wait := b.Interval
		if wait > budget {
			wait = budget
		}
		if wait > 0 {
			time.Sleep(wait)
		}
		budget -= wait
	}
	return last, result
}

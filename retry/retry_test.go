package retry

import (
	"testing"
	"time"

	"github.com/meshgov/polaris-client/codes"
)

// TestS1RetriesTransientThenSucceeds matches spec scenario S1: two
// NetworkFailed outcomes followed by Ok, budget/tries generous enough
// that all three calls happen, total wall time stays within the budget.
func TestS1RetriesTransientThenSucceeds(t *testing.T) {
	outcomes := []codes.Code{codes.NetworkFailed, codes.NetworkFailed, codes.Ok}
	results := []string{"", "", "id-7"}
	calls := 0

	code, id := DoWithResult(Budget{Timeout: 1000 * time.Millisecond, MaxTries: 5, Interval: 10 * time.Millisecond},
		func(remaining time.Duration) (codes.Code, string) {
			c, r := outcomes[calls], results[calls]
			calls++
			return c, r
		})

	if code != codes.Ok || id != "id-7" {
		t.Fatalf("expected (Ok, id-7), got (%v, %v)", code, id)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestTerminalCodeStopsImmediately(t *testing.T) {
	calls := 0
	code := Do(Budget{Timeout: time.Second, MaxTries: 5, Interval: 10 * time.Millisecond}, func(remaining time.Duration) codes.Code {
		calls++
		return codes.InvalidArgument
	})
	if code != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", code)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call for a terminal code, got %d", calls)
	}
}

// TestS6BudgetExhaustion matches spec scenario S6: every call takes
// 300ms and returns ServerError; budget 700ms, max_retries 10 → only two
// attempts fit, final code is still ServerError.
func TestS6BudgetExhaustion(t *testing.T) {
	calls := 0
	start := time.Now()
	code := Do(Budget{Timeout: 700 * time.Millisecond, MaxTries: 10, Interval: 50 * time.Millisecond}, func(remaining time.Duration) codes.Code {
		calls++
		time.Sleep(300 * time.Millisecond)
		return codes.ServerError
	})
	elapsed := time.Since(start)

	if code != codes.ServerError {
		t.Fatalf("expected ServerError, got %v", code)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", calls)
	}
	if elapsed < 600*time.Millisecond || elapsed > 750*time.Millisecond {
		t.Fatalf("expected wall time in [600ms, 750ms], got %v", elapsed)
	}
}

func TestNeverExceedsMaxTries(t *testing.T) {
	calls := 0
	Do(Budget{Timeout: time.Hour, MaxTries: 3, Interval: time.Microsecond}, func(remaining time.Duration) codes.Code {
		calls++
		return codes.NetworkFailed
	})
	if calls != 3 {
		t.Fatalf("expected exactly MaxTries=3 calls, got %d", calls)
	}
}

package breaker

import (
	"testing"
	"time"

	"github.com/meshgov/polaris-client/codes"
	"github.com/meshgov/polaris-client/model"
	"github.com/meshgov/polaris-client/plugin"
)

var svc = model.ServiceKey{Namespace: "A", Name: "S"}

func TestErrorCountOpensAfterConsecutiveFailures(t *testing.T) {
	policy := DefaultErrorCountPolicy()
	policy.ConsecutiveErrorThreshold = 3
	policy.SleepWindow = 30 * time.Millisecond
	b := New(policy)

	for i := 0; i < 3; i++ {
		report, ok := b.Admit(svc, "i1")
		if !ok {
			t.Fatalf("call %d: expected admission while closed", i)
		}
		report(false)
	}

	if got := b.State(svc, "i1"); got != StateOpen {
		t.Fatalf("expected Open after 3 consecutive failures, got %v", got)
	}

	if _, ok := b.Admit(svc, "i1"); ok {
		t.Fatal("expected Admit to deny while Open and before sleep window elapses")
	}
}

func TestHalfOpenSingleProbeThenClose(t *testing.T) {
	policy := DefaultErrorCountPolicy()
	policy.ConsecutiveErrorThreshold = 3
	policy.SleepWindow = 20 * time.Millisecond
	policy.HalfOpenSuccessThreshold = 1
	b := New(policy)

	for i := 0; i < 3; i++ {
		report, _ := b.Admit(svc, "i1")
		report(false)
	}
	if got := b.State(svc, "i1"); got != StateOpen {
		t.Fatalf("expected Open, got %v", got)
	}

	time.Sleep(30 * time.Millisecond)

	report1, ok1 := b.Admit(svc, "i1")
	if !ok1 {
		t.Fatal("expected exactly one admitted probe after sleep window elapses")
	}
	// A second concurrent admission attempt must be rejected — only one
	// anointed prober is allowed in half-open.
	if _, ok2 := b.Admit(svc, "i1"); ok2 {
		t.Fatal("expected second concurrent half-open admission to be denied")
	}

	report1(true)
	if got := b.State(svc, "i1"); got != StateClosed {
		t.Fatalf("expected Closed after successful half-open probe, got %v", got)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	policy := DefaultErrorCountPolicy()
	policy.ConsecutiveErrorThreshold = 3
	policy.SleepWindow = 20 * time.Millisecond
	b := New(policy)

	for i := 0; i < 3; i++ {
		report, _ := b.Admit(svc, "i2")
		report(false)
	}
	time.Sleep(30 * time.Millisecond)

	report, ok := b.Admit(svc, "i2")
	if !ok {
		t.Fatal("expected half-open admission")
	}
	report(false)

	if got := b.State(svc, "i2"); got != StateOpen {
		t.Fatalf("expected Open again after half-open failure, got %v", got)
	}
}

func TestErrorRateOpensOnceMinSamplesAndThresholdExceeded(t *testing.T) {
	policy := DefaultErrorRatePolicy()
	policy.WindowSize = 10
	policy.MinRequests = 5
	policy.ErrorRateThreshold = 0.5
	b := New(policy)

	// 4 failures is below MinRequests=5, must not trip yet.
	for i := 0; i < 4; i++ {
		report, ok := b.Admit(svc, "i3")
		if !ok {
			t.Fatal("expected admission while closed")
		}
		report(false)
	}
	if got := b.State(svc, "i3"); got != StateClosed {
		t.Fatalf("expected still Closed below MinRequests, got %v", got)
	}

	report, _ := b.Admit(svc, "i3")
	report(false) // 5th failure, rate 1.0 >= 0.5 and samples >= MinRequests

	if got := b.State(svc, "i3"); got != StateOpen {
		t.Fatalf("expected Open once MinRequests and rate threshold are met, got %v", got)
	}
}

func TestErrorCountAndErrorRateRegisteredUnderCircuitBreakerKind(t *testing.T) {
	r := plugin.New()
	r.Register("errorCount", plugin.KindCircuitBreaker, func() plugin.Plugin {
		return New(DefaultErrorCountPolicy())
	})
	r.Register("errorRate", plugin.KindCircuitBreaker, func() plugin.Plugin {
		return New(DefaultErrorRatePolicy())
	})

	for _, name := range []string{"errorCount", "errorRate"} {
		inst, code := r.Get(name, plugin.KindCircuitBreaker)
		if code != codes.Ok {
			t.Fatalf("Get(%q, CircuitBreaker) = %v, want Ok", name, code)
		}
		if _, ok := inst.(*Breaker); !ok {
			t.Fatalf("Get(%q, CircuitBreaker) returned %T, want *Breaker", name, inst)
		}
	}
}

func TestSetDisabledAlwaysAdmitsAndStaysClosed(t *testing.T) {
	policy := DefaultErrorCountPolicy()
	policy.ConsecutiveErrorThreshold = 1
	b := New(policy)
	b.SetDisabled(true)

	for i := 0; i < 5; i++ {
		report, ok := b.Admit(svc, "i4")
		if !ok {
			t.Fatal("expected a disabled breaker to always admit")
		}
		report(false)
	}
	if got := b.State(svc, "i4"); got != StateClosed {
		t.Fatalf("expected a disabled breaker to report Closed, got %v", got)
	}
}

func TestClosedInstanceAlwaysAdmitted(t *testing.T) {
	b := New(DefaultErrorCountPolicy())
	for i := 0; i < 50; i++ {
		report, ok := b.Admit(svc, "healthy")
		if !ok {
			t.Fatal("expected closed instance to always be admitted")
		}
		report(true)
	}
	if got := b.State(svc, "healthy"); got != StateClosed {
		t.Fatalf("expected Closed, got %v", got)
	}
}

package outlier

import (
	"context"
	"testing"
	"time"

	"github.com/meshgov/polaris-client/breaker"
	"github.com/meshgov/polaris-client/model"
)

var svc = model.ServiceKey{Namespace: "A", Name: "S"}

// scriptedDetector returns a fixed outcome regardless of the instance
// probed, so tests can drive the chain deterministically.
type scriptedDetector struct {
	outcome Outcome
}

func (d *scriptedDetector) Name() string { return "scripted" }

func (d *scriptedDetector) Probe(ctx context.Context, inst model.Instance, timeout time.Duration) (Outcome, time.Duration) {
	return d.outcome, time.Millisecond
}

// TestS4SuspectOnlyProbingClosesAfterTwoSuccesses matches spec scenario
// S4: I1 is open with its sleep window already elapsed, I2 is closed.
// With suspects-only sampling (SampleRate 0), only I1 is probed. A
// success moves it to half-open; the next tick's success closes it.
func TestS4SuspectOnlyProbingClosesAfterTwoSuccesses(t *testing.T) {
	policy := breaker.DefaultErrorCountPolicy()
	policy.ConsecutiveErrorThreshold = 1
	policy.SleepWindow = time.Millisecond
	policy.HalfOpenSuccessThreshold = 2
	b := breaker.New(policy)

	// Drive I1 to Open.
	report, _ := b.Admit(svc, "I1")
	report(false)
	if got := b.State(svc, "I1"); got != breaker.StateOpen {
		t.Fatalf("expected I1 Open, got %v", got)
	}
	time.Sleep(5 * time.Millisecond) // let the sleep window elapse

	instances := []model.Instance{
		{ID: "I1", Host: "10.0.0.1", Port: 9000},
		{ID: "I2", Host: "10.0.0.2", Port: 9000},
	}
	probed := map[string]int{}
	source := func() []model.Instance {
		return instances
	}
	countingDetector := &countingProbe{inner: &scriptedDetector{outcome: Success}, probed: probed}

	chain := NewChain(svc, ChainConfig{Detectors: []Detector{countingDetector}, SampleRate: 0}, b, source)

	chain.DetectInstance(context.Background())
	if probed["I1"] != 1 || probed["I2"] != 0 {
		t.Fatalf("expected only I1 probed this tick, got %v", probed)
	}
	if got := b.State(svc, "I1"); got != breaker.StateHalfOpen {
		t.Fatalf("expected I1 Half-Open after one successful probe, got %v", got)
	}

	chain.DetectInstance(context.Background())
	if got := b.State(svc, "I1"); got != breaker.StateClosed {
		t.Fatalf("expected I1 Closed after a second successful probe, got %v", got)
	}
}

type countingProbe struct {
	inner  Detector
	probed map[string]int
}

func (c *countingProbe) Name() string { return c.inner.Name() }

func (c *countingProbe) Probe(ctx context.Context, inst model.Instance, timeout time.Duration) (Outcome, time.Duration) {
	c.probed[inst.ID]++
	return c.inner.Probe(ctx, inst, timeout)
}

func TestFirstDecisiveDetectorWinsOverTimeout(t *testing.T) {
	b := breaker.New(breaker.DefaultErrorCountPolicy())
	instances := []model.Instance{{ID: "i1", Host: "h", Port: 1}}
	source := func() []model.Instance { return instances }

	chain := NewChain(svc, ChainConfig{
		Detectors: []Detector{
			&scriptedDetector{outcome: Timeout},
			&scriptedDetector{outcome: Fail},
		},
		SampleRate: 1, // force the healthy instance to be probed too
	}, b, source)

	chain.DetectInstance(context.Background())
	// Still closed: one failed probe is below the default
	// ConsecutiveErrorThreshold.
	if got := b.State(svc, "i1"); got != breaker.StateClosed {
		t.Fatalf("expected Closed after a single failure, got %v", got)
	}
}

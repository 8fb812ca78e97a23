package loadbalance

import (
	"fmt"
	"testing"

	"github.com/meshgov/polaris-client/breaker"
	"github.com/meshgov/polaris-client/model"
)

var testInstances = []model.Instance{
	{ID: "i1", Host: "10.0.0.1", Port: 8001, Weight: 10},
	{ID: "i2", Host: "10.0.0.2", Port: 8002, Weight: 5},
	{ID: "i3", Host: "10.0.0.3", Port: 8003, Weight: 10},
}

var testKey = model.ServiceKey{Namespace: "default", Name: "orders"}

func TestWeightedRandomDistribution(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick(testInstances, PickOptions{ServiceKey: testKey})
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.ID]++
	}

	ratio := float64(counts["i1"]) / float64(counts["i2"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio i1/i2 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomNoInstances(t *testing.T) {
	b := &WeightedRandomBalancer{}
	_, err := b.Pick(nil, PickOptions{ServiceKey: testKey})
	if err != ErrNoInstances {
		t.Fatalf("expected ErrNoInstances, got %v", err)
	}
}

func TestConsistentHashStableForSameKey(t *testing.T) {
	b := NewConsistentHashBalancer("ringHash", 0)
	opts := PickOptions{ServiceKey: testKey, HashKey: "user-123"}

	inst1, err := b.Pick(testInstances, opts)
	if err != nil {
		t.Fatal(err)
	}
	inst2, err := b.Pick(testInstances, opts)
	if err != nil {
		t.Fatal(err)
	}
	if inst1.ID != inst2.ID {
		t.Fatalf("same key mapped to different instances: %s vs %s", inst1.ID, inst2.ID)
	}
}

func TestConsistentHashSpreadsAcrossInstances(t *testing.T) {
	b := NewConsistentHashBalancer("ringHash", 0)

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		inst, err := b.Pick(testInstances, PickOptions{ServiceKey: testKey, HashKey: fmt.Sprintf("key-%d", i)})
		if err != nil {
			t.Fatal(err)
		}
		seen[inst.ID] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different instances, got %d", len(seen))
	}
}

func TestMurmurHashStableForSameKey(t *testing.T) {
	b := NewMurmurHashBalancer()
	opts := PickOptions{ServiceKey: testKey, HashKey: "user-123"}

	inst1, err := b.Pick(testInstances, opts)
	if err != nil {
		t.Fatal(err)
	}
	inst2, err := b.Pick(testInstances, opts)
	if err != nil {
		t.Fatal(err)
	}
	if inst1.ID != inst2.ID {
		t.Fatalf("same key mapped to different instances: %s vs %s", inst1.ID, inst2.ID)
	}
}

// fakeGate lets tests pin breaker state per instance without a real Breaker.
type fakeGate map[string]breaker.State

func (g fakeGate) State(svc model.ServiceKey, instanceID string) breaker.State {
	return g[instanceID]
}

func TestPickSkipsOpenInstances(t *testing.T) {
	b := &WeightedRandomBalancer{}
	gate := fakeGate{"i1": breaker.StateOpen, "i3": breaker.StateOpen}

	for i := 0; i < 50; i++ {
		inst, err := b.Pick(testInstances, PickOptions{ServiceKey: testKey, Gate: gate})
		if err != nil {
			t.Fatal(err)
		}
		if inst.ID != "i2" {
			t.Fatalf("expected only i2 to be picked while i1/i3 are open, got %s", inst.ID)
		}
	}
}

func TestPickAllOpenPicksAnywayByDefault(t *testing.T) {
	b := &WeightedRandomBalancer{}
	gate := fakeGate{"i1": breaker.StateOpen, "i2": breaker.StateOpen, "i3": breaker.StateOpen}

	inst, err := b.Pick(testInstances, PickOptions{ServiceKey: testKey, Gate: gate})
	if err != nil {
		t.Fatalf("expected PickAnyway default to still return an instance, got error: %v", err)
	}
	if inst == nil {
		t.Fatal("expected a non-nil instance")
	}
}

func TestPickAllOpenFailsWhenPolicyIsFail(t *testing.T) {
	b := &WeightedRandomBalancer{}
	gate := fakeGate{"i1": breaker.StateOpen, "i2": breaker.StateOpen, "i3": breaker.StateOpen}

	_, err := b.Pick(testInstances, PickOptions{ServiceKey: testKey, Gate: gate, AllOpen: Fail})
	if err != ErrNoInstances {
		t.Fatalf("expected ErrNoInstances under Fail policy, got %v", err)
	}
}

func TestPickSkipsIsolatedInstances(t *testing.T) {
	b := &WeightedRandomBalancer{}
	instances := []model.Instance{
		{ID: "i1", Host: "10.0.0.1", Port: 8001, Weight: 10, Isolate: true},
		{ID: "i2", Host: "10.0.0.2", Port: 8002, Weight: 10},
	}

	for i := 0; i < 20; i++ {
		inst, err := b.Pick(instances, PickOptions{ServiceKey: testKey})
		if err != nil {
			t.Fatal(err)
		}
		if inst.ID != "i2" {
			t.Fatalf("expected isolated instance i1 to be skipped, got %s", inst.ID)
		}
	}
}

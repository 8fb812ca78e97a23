// Package weightadjuster implements the "defaultWeightAdjuster" plugin
// kind (§4.N): a load-balancer-side consultation that decays an
// instance's effective weight while the circuit breaker considers it
// suspect, and restores the configured weight once it's back to closed.
//
// Decaying is computed on read rather than by mutating Instance.Weight
// in place, since ServiceData snapshots are immutable once published
// (§3 invariant) — the adjuster is consulted alongside the breaker's
// Gate, not wired into the breaker itself.
package weightadjuster

import (
	"github.com/meshgov/polaris-client/breaker"
	"github.com/meshgov/polaris-client/model"
	"github.com/meshgov/polaris-client/plugin"
)

func init() {
	plugin.RegisterBuiltinHook(func(r *plugin.Registry) {
		r.Register("defaultWeightAdjuster", plugin.KindWeightAdjuster, func() plugin.Plugin {
			return NewDefault(0.5, 0.25)
		})
	})
}

// Adjuster computes the effective weight a load balancer should use for
// an instance, given the breaker's current view of it.
type Adjuster interface {
	Name() string
	EffectiveWeight(inst model.Instance, state breaker.State) int
}

// DefaultWeightAdjuster halves an instance's configured weight while
// its breaker is half-open, and drops it to a small fraction
// while fully open — never to zero, so a lone surviving instance can
// still take traffic under the "pick anyway" all-open fallback.
type DefaultWeightAdjuster struct {
	HalfOpenFactor float64
	OpenFactor     float64
}

func NewDefault(halfOpenFactor, openFactor float64) *DefaultWeightAdjuster {
	return &DefaultWeightAdjuster{HalfOpenFactor: halfOpenFactor, OpenFactor: openFactor}
}

func (a *DefaultWeightAdjuster) Name() string { return "defaultWeightAdjuster" }

func (a *DefaultWeightAdjuster) EffectiveWeight(inst model.Instance, state breaker.State) int {
	switch state {
	case breaker.StateHalfOpen:
		return scale(inst.Weight, a.HalfOpenFactor)
	case breaker.StateOpen:
		return scale(inst.Weight, a.OpenFactor)
	default:
		return inst.Weight
	}
}

func scale(weight int, factor float64) int {
	if weight <= 0 {
		return 0
	}
	w := int(float64(weight) * factor)
	if w < 1 {
		w = 1
	}
	return w
}

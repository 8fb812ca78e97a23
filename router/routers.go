package router

import "github.com/meshgov/polaris-client/model"

// matchAll reports whether inst.Metadata contains every key/value pair
// in want.
func matchAll(inst model.Instance, want map[string]string) bool {
	for k, v := range want {
		if inst.Metadata[k] != v {
			return false
		}
	}
	return true
}

func filter(instances []model.Instance, keep func(model.Instance) bool) []model.Instance {
	out := make([]model.Instance, 0, len(instances))
	for _, inst := range instances {
		if keep(inst) {
			out = append(out, inst)
		}
	}
	return out
}

// RuleRouter filters by exact match against every key in
// Criteria.Metadata. If nothing matches, it falls back to the
// unfiltered list rather than routing to nothing — no rule-language
// schema is specified to express a harder failure policy.
type RuleRouter struct{}

func (r *RuleRouter) Name() string { return "ruleRouter" }

func (r *RuleRouter) Route(instances []model.Instance, criteria Criteria) []model.Instance {
	if len(criteria.Metadata) == 0 {
		return instances
	}
	matched := filter(instances, func(inst model.Instance) bool { return matchAll(inst, criteria.Metadata) })
	if len(matched) == 0 {
		return instances
	}
	return matched
}

// NearbyRouter prefers instances sharing criteria.Metadata[Key] with the
// caller (commonly a zone or region), falling back to the full list if
// no instance shares it.
type NearbyRouter struct {
	Key string
}

func (r *NearbyRouter) Name() string { return "nearbyRouter" }

func (r *NearbyRouter) Route(instances []model.Instance, criteria Criteria) []model.Instance {
	want, ok := criteria.Metadata[r.Key]
	if !ok || want == "" {
		return instances
	}
	matched := filter(instances, func(inst model.Instance) bool { return inst.Metadata[r.Key] == want })
	if len(matched) == 0 {
		return instances
	}
	return matched
}

// SetDivisionRouter strictly partitions traffic by criteria.Metadata[Key]
// with no fallback — a caller in one set must never reach an instance
// outside it, the isolation guarantee the set-division mechanism exists
// for. A caller without the key set is left unrestricted.
type SetDivisionRouter struct {
	Key string
}

func (r *SetDivisionRouter) Name() string { return "setDivisionRouter" }

func (r *SetDivisionRouter) Route(instances []model.Instance, criteria Criteria) []model.Instance {
	want, ok := criteria.Metadata[r.Key]
	if !ok || want == "" {
		return instances
	}
	return filter(instances, func(inst model.Instance) bool { return inst.Metadata[r.Key] == want })
}

// CanaryRouter routes canary-tagged callers to instances carrying the
// matching canary tag, falling back to the unfiltered list when none
// carries it, and routes everyone else away from canary-tagged instances
// entirely.
type CanaryRouter struct {
	Key string
}

func (r *CanaryRouter) Name() string { return "canaryRouter" }

func (r *CanaryRouter) Route(instances []model.Instance, criteria Criteria) []model.Instance {
	want, isCanaryCaller := criteria.Metadata[r.Key]
	if isCanaryCaller && want != "" {
		matched := filter(instances, func(inst model.Instance) bool { return inst.Metadata[r.Key] == want })
		if len(matched) > 0 {
			return matched
		}
		return instances
	}
	return filter(instances, func(inst model.Instance) bool { return inst.Metadata[r.Key] == "" })
}

// DstMetaRouter is the general-purpose destination-metadata filter: exact
// match against every key the caller supplies, falling back to the
// unfiltered list when nothing matches (same fallback policy as
// RuleRouter, which this generalizes).
type DstMetaRouter struct{}

func (r *DstMetaRouter) Name() string { return "dstMetaRouter" }

func (r *DstMetaRouter) Route(instances []model.Instance, criteria Criteria) []model.Instance {
	if len(criteria.Metadata) == 0 {
		return instances
	}
	matched := filter(instances, func(inst model.Instance) bool { return matchAll(inst, criteria.Metadata) })
	if len(matched) == 0 {
		return instances
	}
	return matched
}

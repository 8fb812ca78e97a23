// Package router implements the service-router plugin kind (§4.M): a
// narrowing pipeline run over a service's instance list before load
// balancing gets to pick one.
//
// Chain composes Routers by reducing over them left to right, the same
// reduce-over-a-slice shape the teacher's middleware.Chain uses for RPC
// middleware — here each stage narrows a []model.Instance instead of
// wrapping a HandlerFunc.
package router

import (
	"github.com/meshgov/polaris-client/model"
	"github.com/meshgov/polaris-client/plugin"
)

// Criteria is the request-side context a router filters against. Only
// Metadata is consulted by the filters shipped here — there is no
// rule-language schema specified to parse anything richer.
type Criteria struct {
	Metadata map[string]string
}

// Router narrows a candidate list. Implementations must not mutate the
// slice they're given; they return a new slice (or the same one
// unchanged) reflecting the narrowing.
type Router interface {
	Name() string
	Route(instances []model.Instance, criteria Criteria) []model.Instance
}

func init() {
	plugin.RegisterBuiltinHook(func(r *plugin.Registry) {
		r.Register("ruleRouter", plugin.KindServiceRouter, func() plugin.Plugin { return &RuleRouter{} })
		r.Register("nearbyRouter", plugin.KindServiceRouter, func() plugin.Plugin { return &NearbyRouter{Key: "zone"} })
		r.Register("setDivisionRouter", plugin.KindServiceRouter, func() plugin.Plugin { return &SetDivisionRouter{Key: "set"} })
		r.Register("canaryRouter", plugin.KindServiceRouter, func() plugin.Plugin { return &CanaryRouter{Key: "canary"} })
		r.Register("dstMetaRouter", plugin.KindServiceRouter, func() plugin.Plugin { return &DstMetaRouter{} })
	})
}

// Chain runs each Router in order, feeding one's output into the next.
// A stage that narrows the list to zero instances short-circuits the
// remaining stages — there is nothing left to narrow further.
type Chain struct {
	routers []Router
}

func NewChain(routers ...Router) *Chain {
	return &Chain{routers: routers}
}

func (c *Chain) Route(instances []model.Instance, criteria Criteria) []model.Instance {
	current := instances
	for _, r := range c.routers {
		if len(current) == 0 {
			return current
		}
		current = r.Route(current, criteria)
	}
	return current
}

package loadbalance

import (
	"math/rand"

	"github.com/meshgov/polaris-client/model"
	"github.com/meshgov/polaris-client/plugin"
)

// WeightedRandomBalancer picks among eligible instances with probability
// proportional to Instance.Weight. Instances with weight 0 are eligible but
// never selected unless every eligible instance is weight 0, in which case
// it degrades to uniform random.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Name() string { return "weightedRandom" }

func (b *WeightedRandomBalancer) LoadBalanceType() plugin.LoadBalanceType {
	return plugin.LoadBalanceWeightedRandom
}

func (b *WeightedRandomBalancer) Pick(instances []model.Instance, opts PickOptions) (*model.Instance, error) {
	elig, err := candidates(instances, opts)
	if err != nil {
		return nil, err
	}

	weights := make([]int, len(elig))
	total := 0
	for i, inst := range elig {
		w := inst.Weight
		if opts.Gate != nil && opts.Adjuster != nil {
			w = opts.Adjuster.EffectiveWeight(inst, opts.Gate.State(opts.ServiceKey, inst.ID))
		}
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return pickRandom(elig), nil
	}

	r := rand.Intn(total)
	for i := range elig {
		r -= weights[i]
		if r < 0 {
			return &elig[i], nil
		}
	}
	return pickRandom(elig), nil
}

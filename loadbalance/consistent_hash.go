package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"

	"github.com/meshgov/polaris-client/model"
	"github.com/meshgov/polaris-client/plugin"
)

// ConsistentHashBalancer maps a caller-supplied key to an instance using a
// hash ring built fresh from the current candidate list on every Pick —
// the instance set changes as the registry pushes updates, so the ring
// cannot be built incrementally the way the teacher's Add-then-Pick API
// did; rebuilding from a small instance list (tens, not millions) is cheap
// enough to do inline.
//
// Virtual nodes: each real instance gets 100 positions on the ring so that
// a handful of instances still spread evenly instead of clustering.
//
// registered under four plugin names (ringHash, simpleHash, maglev,
// l5cst) — polaris treats Maglev and L5CST as distinct wire-visible
// algorithms, but this client does not implement Maglev's permutation
// table or L5's legacy CST hash, so both fall back to the same ring.
type ConsistentHashBalancer struct {
	name     string
	lbType   plugin.LoadBalanceType
	replicas int
}

func NewConsistentHashBalancer(name string, lbType plugin.LoadBalanceType) *ConsistentHashBalancer {
	return &ConsistentHashBalancer{name: name, lbType: lbType, replicas: 100}
}

func (b *ConsistentHashBalancer) Name() string { return b.name }

func (b *ConsistentHashBalancer) LoadBalanceType() plugin.LoadBalanceType { return b.lbType }

func (b *ConsistentHashBalancer) Pick(instances []model.Instance, opts PickOptions) (*model.Instance, error) {
	elig, err := candidates(instances, opts)
	if err != nil {
		return nil, err
	}

	ring := make([]uint32, 0, len(elig)*b.replicas)
	nodes := make(map[uint32]*model.Instance, len(elig)*b.replicas)
	for i := range elig {
		inst := &elig[i]
		for r := 0; r < b.replicas; r++ {
			h := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s:%d#%d", inst.Host, inst.Port, r)))
			ring = append(ring, h)
			nodes[h] = inst
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i] < ring[j] })

	hash := crc32.ChecksumIEEE([]byte(opts.HashKey))
	idx := sort.Search(len(ring), func(i int) bool { return ring[i] >= hash })
	if idx == len(ring) {
		idx = 0
	}
	return nodes[ring[idx]], nil
}

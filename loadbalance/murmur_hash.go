package loadbalance

import (
	"fmt"
	"sort"

	"github.com/meshgov/polaris-client/model"
	"github.com/meshgov/polaris-client/plugin"
)

// MurmurHashBalancer is the cMurmurHash plugin: the same consistent-hash
// ring as ConsistentHashBalancer, but keyed with MurmurHash3 (x86, 32-bit)
// instead of CRC32, matching polaris's historical cMurmurHash algorithm
// name. No corpus dependency provides MurmurHash3, so it is implemented
// directly against the well-known public-domain algorithm.
type MurmurHashBalancer struct {
	replicas int
}

func NewMurmurHashBalancer() *MurmurHashBalancer {
	return &MurmurHashBalancer{replicas: 100}
}

func (b *MurmurHashBalancer) Name() string { return "cMurmurHash" }

func (b *MurmurHashBalancer) LoadBalanceType() plugin.LoadBalanceType {
	return plugin.LoadBalanceCMurmurHash
}

func (b *MurmurHashBalancer) Pick(instances []model.Instance, opts PickOptions) (*model.Instance, error) {
	elig, err := candidates(instances, opts)
	if err != nil {
		return nil, err
	}

	ring := make([]uint32, 0, len(elig)*b.replicas)
	nodes := make(map[uint32]*model.Instance, len(elig)*b.replicas)
	for i := range elig {
		inst := &elig[i]
		for r := 0; r < b.replicas; r++ {
			h := murmur3_32([]byte(fmt.Sprintf("%s:%d#%d", inst.Host, inst.Port, r)), 0)
			ring = append(ring, h)
			nodes[h] = inst
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i] < ring[j] })

	hash := murmur3_32([]byte(opts.HashKey), 0)
	idx := sort.Search(len(ring), func(i int) bool { return ring[i] >= hash })
	if idx == len(ring) {
		idx = 0
	}
	return nodes[ring[idx]], nil
}

// murmur3_32 implements MurmurHash3's x86_32 variant.
func murmur3_32(data []byte, seed uint32) uint32 {
	const (
		c1 = 0xcc9e2d51
		c2 = 0x1b873593
	)

	h := seed
	length := len(data)
	nblocks := length / 4

	for i := 0; i < nblocks; i++ {
		k := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		k *= c1
		k = (k << 15) | (k >> 17)
		k *= c2

		h ^= k
		h = (h << 13) | (h >> 19)
		h = h*5 + 0xe6546b64
	}

	var k1 uint32
	tail := data[nblocks*4:]
	switch len(tail) {
	case 3:
		k1 ^= uint32(tail[2]) << 16
		fallthrough
	case 2:
		k1 ^= uint32(tail[1]) << 8
		fallthrough
	case 1:
		k1 ^= uint32(tail[0])
		k1 *= c1
		k1 = (k1 << 15) | (k1 >> 17)
		k1 *= c2
		h ^= k1
	}

	h ^= uint32(length)
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16
	return h
}

package connector

import (
	"context"
	"sync"

	"github.com/meshgov/polaris-client/model"
)

type subKey struct {
	svc  model.ServiceKey
	kind model.DataKind
}

// subscriptions tracks the cancel func for each active watch so
// Unsubscribe/Close can tear them down deterministically.
type subscriptions struct {
	mu sync.Mutex
	m  map[subKey]context.CancelFunc
}

func (s *subscriptions) add(key model.ServiceKey, kind model.DataKind, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[subKey]context.CancelFunc)
	}
	k := subKey{svc: key, kind: kind}
	if old, ok := s.m[k]; ok {
		old()
	}
	s.m[k] = cancel
}

func (s *subscriptions) cancel(key model.ServiceKey, kind model.DataKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := subKey{svc: key, kind: kind}
	if cancel, ok := s.m[k]; ok {
		cancel()
		delete(s.m, k)
	}
}

func (s *subscriptions) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, cancel := range s.m {
		cancel()
		delete(s.m, k)
	}
}

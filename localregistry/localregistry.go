// Package localregistry implements the "inmemory" local-registry plugin
// kind (§4.F): a per-(key,kind) cache of ServiceData snapshots, populated
// by a Connector subscription and read by consumers through an atomic
// snapshot load (the per-key entry lookup takes a short registry mutex).
//
// Snapshot retention is simplified relative to the abstract spec:
// ServiceData is immutable once published, so once a reader has loaded a
// pointer to one it stays valid for as long as the reader holds it —
// ordinary Go garbage collection gives "retained until no reader could
// hold a reference" for free, without an explicit refcount.
package localregistry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meshgov/polaris-client/codes"
	"github.com/meshgov/polaris-client/connector"
	"github.com/meshgov/polaris-client/logging"
	"github.com/meshgov/polaris-client/model"
	"github.com/meshgov/polaris-client/plugin"
)

func init() {
	plugin.RegisterBuiltinHook(func(r *plugin.Registry) {
		r.Register("inmemory", plugin.KindLocalRegistry, func() plugin.Plugin {
			return New(nil)
		})
	})
}

type cacheKey struct {
	svc  model.ServiceKey
	kind model.DataKind
}

type entry struct {
	snapshot atomic.Pointer[model.ServiceData]

	mu         sync.Mutex
	subscribed bool
	waiters    []chan struct{}
	lastErr    error
}

// Registry caches ServiceData snapshots keyed by (service, kind),
// populated on first miss via conn's SubscribeServiceData and refreshed
// by every subsequent push.
type Registry struct {
	conn connector.Connector

	mu      sync.Mutex
	entries map[cacheKey]*entry

	plugins *plugin.Registry
}

// New creates a Registry backed by conn, dispatching pre-update
// notifications through the process-wide plugin registry. conn may be
// nil for a Registry that is only ever populated by direct Publish calls
// (a private-mode Context wiring its own refresh path).
func New(conn connector.Connector) *Registry {
	return NewWithPlugins(conn, plugin.Default())
}

// NewWithPlugins is New with an injectable plugin registry, so tests can
// observe pre-update dispatch without polluting the process-wide
// singleton.
func NewWithPlugins(conn connector.Connector, plugins *plugin.Registry) *Registry {
	return &Registry{
		conn:    conn,
		entries: make(map[cacheKey]*entry),
		plugins: plugins,
	}
}

func (r *Registry) entryFor(key cacheKey) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		e = &entry{}
		r.entries[key] = e
	}
	return e
}

// Get returns the current snapshot for (svc, kind), triggering a
// subscription and blocking (bounded by timeout) if this is the first
// request for the key. Subsequent calls neither subscribe nor wait: they
// take the registry mutex only to look up the entry, then load its
// snapshot atomically.
func (r *Registry) Get(ctx context.Context, svc model.ServiceKey, kind model.DataKind, timeout time.Duration) (*model.ServiceData, codes.Code) {
	key := cacheKey{svc: svc, kind: kind}
	e := r.entryFor(key)

	if snap := e.snapshot.Load(); snap != nil {
		return snap, codes.Ok
	}

	wait, err := r.ensureSubscribed(e, key)
	if err != nil {
		return nil, codes.NetworkFailed
	}
	if wait == nil {
		// Another goroutine already has a snapshot by the time we
		// re-checked under ensureSubscribed's lock.
		if snap := e.snapshot.Load(); snap != nil {
			return snap, codes.Ok
		}
	}

	select {
	case <-wait:
		if snap := e.snapshot.Load(); snap != nil {
			return snap, codes.Ok
		}
		return nil, codes.ServiceNotFound
	case <-time.After(timeout):
		return nil, codes.NetworkFailed
	case <-ctx.Done():
		return nil, codes.NetworkFailed
	}
}

// ensureSubscribed subscribes at most once per key and returns a channel
// that closes when the first snapshot lands, or nil if a snapshot is
// already present.
func (r *Registry) ensureSubscribed(e *entry, key cacheKey) (<-chan struct{}, error) {
	e.mu.Lock()
	if e.snapshot.Load() != nil {
		e.mu.Unlock()
		return nil, nil
	}
	ch := make(chan struct{})
	e.waiters = append(e.waiters, ch)
	alreadySubscribed := e.subscribed
	e.subscribed = true
	e.mu.Unlock()

	if alreadySubscribed {
		return ch, nil
	}
	if r.conn == nil {
		return ch, nil
	}
	err := r.conn.SubscribeServiceData(key.svc, key.kind, func(data *model.ServiceData) {
		r.publish(key, data)
	})
	return ch, err
}

// publish applies the pre-update notification contract before swapping
// in the new snapshot: the plugin registry's observers see (old, new)
// instance lists before the old snapshot becomes unreachable to new
// readers.
func (r *Registry) publish(key cacheKey, next *model.ServiceData) {
	e := r.entryFor(key)
	prev := e.snapshot.Load()

	if prev != nil && !prev.Newer(next) {
		return
	}

	oldInstances := instancesAsAny(prev)
	newInstances := instancesAsAny(next)
	r.plugins.OnPreUpdateServiceData(oldInstances, newInstances)

	e.snapshot.Store(next)

	e.mu.Lock()
	waiters := e.waiters
	e.waiters = nil
	e.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}

	logging.Named("localregistry").Sugar().Debugw("published service data",
		"service", key.svc.String(), "revision", next.Revision, "instances", len(next.Instances))
}

func instancesAsAny(d *model.ServiceData) []any {
	if d == nil {
		return nil
	}
	out := make([]any, len(d.Instances))
	for i, inst := range d.Instances {
		out[i] = inst
	}
	return out
}

// Publish directly installs a snapshot without going through a
// connector subscription — used by tests and by any caller that already
// has data in hand (e.g. a Context seeding its registry before the
// connector's first watch event arrives).
func (r *Registry) Publish(svc model.ServiceKey, kind model.DataKind, data *model.ServiceData) {
	r.publish(cacheKey{svc: svc, kind: kind}, data)
}

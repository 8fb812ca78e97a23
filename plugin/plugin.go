// Package plugin implements the process-wide plugin registry: a
// name×kind → factory map that loads, names, and dispatches pluggable
// strategies across the eight extension points. The registry never
// throws — every failure mode is reported via codes.Code.
package plugin

import (
	"sync"

	"github.com/meshgov/polaris-client/codes"
	"github.com/meshgov/polaris-client/logging"
)

// Kind is one of the eight extension points.
type Kind int

const (
	KindServerConnector Kind = iota
	KindLocalRegistry
	KindServiceRouter
	KindLoadBalancer
	KindOutlierDetector
	KindCircuitBreaker
	KindWeightAdjuster
	KindStatReporter
)

func (k Kind) String() string {
	switch k {
	case KindServerConnector:
		return "ServerConnector"
	case KindLocalRegistry:
		return "LocalRegistry"
	case KindServiceRouter:
		return "ServiceRouter"
	case KindLoadBalancer:
		return "LoadBalancer"
	case KindOutlierDetector:
		return "OutlierDetector"
	case KindCircuitBreaker:
		return "CircuitBreaker"
	case KindWeightAdjuster:
		return "WeightAdjuster"
	case KindStatReporter:
		return "StatReporter"
	default:
		return "Unknown"
	}
}

// Plugin is the erasure type at the registry boundary: any value a
// factory can produce. Call sites that need a specific kind type-assert
// to the interface they expect (e.g. loadbalance.Balancer).
type Plugin any

// Factory constructs a new Plugin instance. Factories must be pure
// constructors — the registry may invoke one as a throwaway just to learn
// a load balancer's LoadBalanceType.
type Factory func() Plugin

// LoadBalanceTyped is implemented by load-balancer plugins so the
// registry can learn their algorithmic enum without a type assertion on
// the generic Plugin value.
type LoadBalanceTyped interface {
	LoadBalanceType() LoadBalanceType
}

// LoadBalanceType is the algorithmic enum used to look up a load balancer
// independent of its registered name.
type LoadBalanceType int

const (
	LoadBalanceUnspecified LoadBalanceType = iota
	LoadBalanceWeightedRandom
	LoadBalanceRingHash
	LoadBalanceMaglev
	LoadBalanceL5CST
	LoadBalanceSimpleHash
	LoadBalanceCMurmurHash
)

type descriptorKey struct {
	kind Kind
	name string
}

// PreUpdateHandler observes a service-data publish before the old
// snapshot becomes unreachable. It receives the old and new instance
// lists, never the ServiceData envelope, matching the original contract.
type PreUpdateHandler func(oldInstances, newInstances []any)

// Registry is the name×kind → factory map plus the pre-update observer
// list. A process-wide singleton is exposed via Default(); tests should
// construct their own via New() to avoid cross-test pollution.
type Registry struct {
	mu        sync.Mutex
	factories map[descriptorKey]Factory
	lbByType  map[LoadBalanceType]Factory

	obsMu     sync.Mutex
	observers []observerEntry
	obsSeq    uint64
}

func New() *Registry {
	return &Registry{
		factories: make(map[descriptorKey]Factory),
		lbByType:  make(map[LoadBalanceType]Factory),
	}
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the process-wide singleton, constructing and
// registering all built-ins on first use.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultReg = New()
		registerBuiltins(defaultReg)
	})
	return defaultReg
}

// builtinRegistrars is populated by each plugin package's init() via
// RegisterBuiltinHook (loadbalance, router, outlier, ...) so this package
// never imports its own plugin implementations and create an import cycle.
var builtinRegistrars []func(*Registry)

// RegisterBuiltinHook is called by plugin-implementation packages, from
// their init(), to contribute their built-in factories to the Default()
// singleton when it is first constructed. Registries made with New() do
// not receive them.
func RegisterBuiltinHook(f func(*Registry)) {
	builtinRegistrars = append(builtinRegistrars, f)
}

func registerBuiltins(r *Registry) {
	for _, f := range builtinRegistrars {
		f(r)
	}
}

// Register binds factory under (kind, name). Idempotent: re-registering
// the *same* factory value returns Ok; a *different* factory under an
// already-bound key returns PluginError.
func (r *Registry) Register(name string, kind Kind, factory Factory) codes.Code {
	key := descriptorKey{kind: kind, name: name}

	r.mu.Lock()
	existing, ok := r.factories[key]
	if ok && !sameFactory(existing, factory) {
		r.mu.Unlock()
		logging.Named("plugin").Sugar().Errorf("register plugin failed: kind %s name %s already exists", kind, name)
		return codes.PluginError
	}
	r.factories[key] = factory
	r.mu.Unlock()

	if kind == KindLoadBalancer {
		return r.indexLoadBalancer(name, factory)
	}
	return codes.Ok
}

// indexLoadBalancer constructs a throwaway instance to learn the plugin's
// LoadBalanceType and populates the secondary index. The first
// registration for a given type wins; later duplicates are warned and
// ignored.
func (r *Registry) indexLoadBalancer(name string, factory Factory) codes.Code {
	inst := factory()
	typed, ok := inst.(LoadBalanceTyped)
	if !ok {
		logging.Named("plugin").Sugar().Errorf("load balancer %s does not declare a LoadBalanceType", name)
		return codes.PluginError
	}
	lbType := typed.LoadBalanceType()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.lbByType[lbType]; exists {
		logging.Named("plugin").Sugar().Warnf("load balance type %d already registered, skipping %s", lbType, name)
		return codes.Ok
	}
	r.lbByType[lbType] = factory
	return codes.Ok
}

// Get constructs a new plugin instance for (name, kind).
func (r *Registry) Get(name string, kind Kind) (Plugin, codes.Code) {
	key := descriptorKey{kind: kind, name: name}
	r.mu.Lock()
	factory, ok := r.factories[key]
	r.mu.Unlock()
	if !ok {
		logging.Named("plugin").Sugar().Errorf("get plugin error: kind %s name %s not found", kind, name)
		return nil, codes.PluginError
	}
	return factory(), codes.Ok
}

// GetLoadBalancer constructs a new load balancer plugin by algorithmic type.
func (r *Registry) GetLoadBalancer(t LoadBalanceType) (Plugin, codes.Code) {
	r.mu.Lock()
	factory, ok := r.lbByType[t]
	r.mu.Unlock()
	if !ok {
		logging.Named("plugin").Sugar().Errorf("get load balancer error: type %d not found", t)
		return nil, codes.PluginError
	}
	return factory(), codes.Ok
}

// Subscription is the handle returned by RegisterInstancePreUpdateHandler,
// since Go function values are not comparable and so cannot be
// deregistered by identity the way the original handler-pointer contract
// does.
type Subscription struct {
	id  uint64
	reg *Registry
}

// Cancel removes the observer. A no-op if already cancelled.
func (s Subscription) Cancel() {
	if s.reg == nil {
		return
	}
	s.reg.obsMu.Lock()
	defer s.reg.obsMu.Unlock()
	for i, o := range s.reg.observers {
		if o.id == s.id {
			s.reg.observers = append(s.reg.observers[:i], s.reg.observers[i+1:]...)
			return
		}
	}
}

type observerEntry struct {
	id uint64
	fn PreUpdateHandler
}

// RegisterInstancePreUpdateHandler adds an observer to the ordered list.
// front places it ahead of all existing observers.
func (r *Registry) RegisterInstancePreUpdateHandler(h PreUpdateHandler, front bool) Subscription {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.obsSeq++
	entry := observerEntry{id: r.obsSeq, fn: h}
	if front {
		r.observers = append([]observerEntry{entry}, r.observers...)
	} else {
		r.observers = append(r.observers, entry)
	}
	return Subscription{id: entry.id, reg: r}
}

// DeregisterInstancePreUpdateHandler removes the observer identified by
// the Subscription returned from RegisterInstancePreUpdateHandler.
func (r *Registry) DeregisterInstancePreUpdateHandler(sub Subscription) {
	sub.Cancel()
}

// OnPreUpdateServiceData snapshots the observer list under a short lock,
// releases it, then invokes each observer with the old and new instance
// lists. Observers that (de)register during dispatch take effect on the
// next event, not this one.
func (r *Registry) OnPreUpdateServiceData(oldInstances, newInstances []any) {
	r.obsMu.Lock()
	snapshot := make([]observerEntry, len(r.observers))
	copy(snapshot, r.observers)
	r.obsMu.Unlock()

	for _, o := range snapshot {
		o.fn(oldInstances, newInstances)
	}
}

// sameFactory compares factory values for equality. Go function values
// are not comparable with ==, except that a nil function literal is; to
// get idempotent Register semantics for genuinely-the-same registration
// (the common case: calling Register twice with the result of the same
// package-level factory function), reflect is used to compare pointers.
func sameFactory(a, b Factory) bool {
	return funcPointer(a) == funcPointer(b)
}

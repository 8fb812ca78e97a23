// Package polaris implements the root Context (§4.C) and the
// Provider/Consumer API facade (§4.I) that ties every other package in
// this module together: reactor-driven timing, the plugin registry,
// the server connector, the local registry, per-service routing/
// balancing/breaking, and stat reporting.
package polaris

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meshgov/polaris-client/breaker"
	"github.com/meshgov/polaris-client/codes"
	"github.com/meshgov/polaris-client/config"
	"github.com/meshgov/polaris-client/connector"
	"github.com/meshgov/polaris-client/loadbalance"
	"github.com/meshgov/polaris-client/localregistry"
	"github.com/meshgov/polaris-client/logging"
	"github.com/meshgov/polaris-client/model"
	"github.com/meshgov/polaris-client/outlier"
	"github.com/meshgov/polaris-client/plugin"
	"github.com/meshgov/polaris-client/ratelimit"
	"github.com/meshgov/polaris-client/reactor"
	"github.com/meshgov/polaris-client/router"
	"github.com/meshgov/polaris-client/stat"
)

// Mode is how a Context's lifetime is owned, matching §4.C's three
// legal modes.
type Mode int

const (
	// Private: the API that created this Context owns it and destroys
	// it when the API is destroyed.
	Private Mode = iota
	// Share: externally owned; the API never destroys it.
	Share
	// Limit: owned by a rate-limit facade wrapping the API.
	Limit
)

func (m Mode) valid() bool {
	return m == Private || m == Share || m == Limit
}

// ErrInvalidMode is returned by the API constructors when Mode is none
// of Private, Share, Limit.
var ErrInvalidMode = errors.New("polaris: context mode must be Private, Share, or Limit")

// idleReapInterval and defaultIdleWindow govern the ServiceContext reaper.
const (
	idleReapInterval  = 30 * time.Second
	defaultIdleWindow = 10 * time.Minute
)

// Context is the root object: it owns the reactor, one server connector,
// one local registry, the service-context map, and the global tunables
// every facade call reads.
type Context struct {
	mode Mode

	Reactor       *reactor.Reactor
	Connector     connector.Connector
	LocalRegistry *localregistry.Registry
	Plugins       *plugin.Registry
	Config        *config.Config
	Reporters     []stat.Reporter

	// RateLimiter gates every facade call when mode is Limit. nil in
	// Private/Share mode, where no rate is enforced.
	RateLimiter *ratelimit.Limiter

	IdleWindow time.Duration

	mu       sync.Mutex
	services map[model.ServiceKey]*ServiceContext

	stopReaper func()
}

// New constructs a Context in the given mode, wiring a reactor, the
// process-wide plugin registry, and whatever connector/config the
// caller supplies. If conn is nil and cfg names a discover cluster
// (global.system.discoverCluster), an EtcdConnector is dialed against it
// instead of leaving the Context connectorless. The caller is
// responsible for calling Destroy when mode is Private.
func New(mode Mode, cfg *config.Config, conn connector.Connector) (*Context, error) {
	if !mode.valid() {
		return nil, ErrInvalidMode
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if conn == nil && len(cfg.Global.System.DiscoverCluster) > 0 {
		etcdConn, err := connector.NewEtcdConnector(cfg.Global.System.DiscoverCluster, cfg.Global.API.Timeout)
		if err != nil {
			return nil, err
		}
		conn = etcdConn
	}

	plugins := plugin.Default()
	ctx := &Context{
		mode:          mode,
		Reactor:       reactor.New(),
		Connector:     conn,
		LocalRegistry: localregistry.New(conn),
		Plugins:       plugins,
		Config:        cfg,
		IdleWindow:    defaultIdleWindow,
		services:      make(map[model.ServiceKey]*ServiceContext),
	}
	ctx.reporters(plugins)
	ctx.armReaper()
	return ctx, nil
}

// NewLimited is New(Limit, cfg, conn) plus a token-bucket gate: every
// facade call against the resulting Context consults ratePerSecond/
// burst before doing any work, returning codes.RateLimited once the
// bucket is empty.
func NewLimited(cfg *config.Config, conn connector.Connector, ratePerSecond float64, burst int) (*Context, error) {
	ctx, err := New(Limit, cfg, conn)
	if err != nil {
		return nil, err
	}
	ctx.RateLimiter = ratelimit.New(ratePerSecond, burst)
	return ctx, nil
}

func (c *Context) reporters(plugins *plugin.Registry) {
	for _, name := range []string{"monitor", "logAlert"} {
		inst, code := plugins.Get(name, plugin.KindStatReporter)
		if code != codes.Ok {
			continue
		}
		if r, ok := inst.(stat.Reporter); ok {
			c.Reporters = append(c.Reporters, r)
		}
	}
}

// Destroy stops the reactor and every background task it was driving.
// Only meaningful for Private-mode contexts; Share/Limit-mode contexts
// are owned elsewhere.
func (c *Context) Destroy() {
	if c.stopReaper != nil {
		c.stopReaper()
	}
	c.Reactor.Stop()
	if c.Connector != nil {
		c.Connector.Close()
	}
}

// ServiceContext is per-service state: the cached data access path, the
// configured router chain, load balancer, outlier-detector chain, and
// the breaker table — always populated, even with no-op plugins, per
// the §3 invariant.
type ServiceContext struct {
	Key model.ServiceKey

	Breaker       *breaker.Breaker
	Router        *router.Chain
	Balancer      loadbalance.Balancer
	Adjuster      loadbalance.WeightSource
	DetectorChain *outlier.Chain

	refs     atomic.Int32
	lastUsed atomic.Int64 // unix nanos

	stopDetection func()
}

// touch marks the ServiceContext as used just now, for the idle reaper.
func (sc *ServiceContext) touch() {
	sc.lastUsed.Store(time.Now().UnixNano())
}

// Acquire increments the reference count and returns the ServiceContext
// for key, creating it (with its configured breaker, balancer, router
// chain and detector chain) on first reference.
func (c *Context) Acquire(key model.ServiceKey) *ServiceContext {
	c.mu.Lock()
	sc, ok := c.services[key]
	if !ok {
		sc = c.newServiceContext(key)
		c.services[key] = sc
	}
	c.mu.Unlock()

	sc.refs.Add(1)
	sc.touch()
	return sc
}

// Release decrements the reference count. The ServiceContext is not
// torn down immediately — the idle reaper unloads untouched, unreferenced
// entries on its own schedule.
func (sc *ServiceContext) Release() {
	sc.refs.Add(-1)
}

func (c *Context) newServiceContext(key model.ServiceKey) *ServiceContext {
	sc := &ServiceContext{
		Key:     key,
		Breaker: c.buildBreaker(),
	}
	sc.touch()

	balancer, code := c.Plugins.GetLoadBalancer(plugin.LoadBalanceWeightedRandom)
	if code == codes.Ok {
		if b, ok := balancer.(loadbalance.Balancer); ok {
			sc.Balancer = b
		}
	}
	if adj, code := c.Plugins.Get("defaultWeightAdjuster", plugin.KindWeightAdjuster); code == codes.Ok {
		if a, ok := adj.(loadbalance.WeightSource); ok {
			sc.Adjuster = a
		}
	}
	sc.Router = router.NewChain()

	source := func() []model.Instance {
		data, code := c.LocalRegistry.Get(context.Background(), key, model.DataKindInstances, time.Millisecond)
		if code != codes.Ok || data == nil {
			return nil
		}
		return data.Instances
	}
	detectors, timeouts := c.builtinDetectors()
	chainCfg := outlier.ChainConfig{Detectors: detectors, Timeout: 500 * time.Millisecond, Timeouts: timeouts}
	sc.DetectorChain = outlier.NewChain(key, chainCfg, sc.Breaker, source)
	if c.Config == nil || c.Config.Consumer.OutlierDetection.When != config.Never {
		period := defaultCheckPeriod
		if c.Config != nil && c.Config.Consumer.OutlierDetection.CheckPeriod > 0 {
			period = c.Config.Consumer.OutlierDetection.CheckPeriod
		}
		sc.stopDetection = sc.DetectorChain.Schedule(c.Reactor, period)
	}
	return sc
}

const defaultCheckPeriod = 1000 * time.Millisecond

// defaultDetectorNames is used when the config carries no
// consumer.outlierDetection.{name} sub-map at all.
var defaultDetectorNames = []string{"tcp", "http"}

func (c *Context) detectorNames() []string {
	if c.Config == nil || len(c.Config.Consumer.OutlierDetection.Detectors) == 0 {
		return defaultDetectorNames
	}
	names := make([]string, 0, len(c.Config.Consumer.OutlierDetection.Detectors))
	for name := range c.Config.Consumer.OutlierDetection.Detectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// builtinDetectors builds the service's detector set from
// consumer.outlierDetection.{name}.{timeout,path}, falling back to
// tcp+http with their built-in defaults when nothing is configured.
// Returns the detectors alongside a per-name timeout override map for
// outlier.ChainConfig.Timeouts.
func (c *Context) builtinDetectors() ([]outlier.Detector, map[string]time.Duration) {
	var detectors []outlier.Detector
	timeouts := make(map[string]time.Duration)
	for _, name := range c.detectorNames() {
		inst, code := c.Plugins.Get(name, plugin.KindOutlierDetector)
		if code != codes.Ok {
			continue
		}
		d, ok := inst.(outlier.Detector)
		if !ok {
			continue
		}
		if c.Config != nil {
			if dc, ok := c.Config.Consumer.OutlierDetection.Detectors[name]; ok {
				if http, ok := d.(*outlier.HTTPDetector); ok && dc.Path != "" {
					http.Path = dc.Path
				}
				if dc.Timeout > 0 {
					timeouts[name] = dc.Timeout
				}
			}
		}
		detectors = append(detectors, d)
	}
	return detectors, timeouts
}

// buildBreaker selects the configured circuit-breaker strategy
// (consumer.circuitBreaker.chain, "errorCount" by default) from the
// plugin registry and applies consumer.circuitBreaker.setEnable: when
// disabled, the breaker table is still present (per the §3 invariant)
// but never gates selection or probing.
func (c *Context) buildBreaker() *breaker.Breaker {
	name := "errorCount"
	enabled := true
	if c.Config != nil {
		if c.Config.Consumer.CircuitBreaker.Chain != "" {
			name = c.Config.Consumer.CircuitBreaker.Chain
		}
		enabled = c.Config.Consumer.CircuitBreaker.SetEnable
	}

	var b *breaker.Breaker
	if inst, code := c.Plugins.Get(name, plugin.KindCircuitBreaker); code == codes.Ok {
		if cb, ok := inst.(*breaker.Breaker); ok {
			b = cb
		}
	}
	if b == nil {
		b = breaker.New(breaker.DefaultErrorCountPolicy())
	}
	b.SetDisabled(!enabled)
	return b
}

// armReaper runs a self-rescheduling reactor task that unloads
// ServiceContexts that have been both unreferenced and untouched for
// longer than IdleWindow.
func (c *Context) armReaper() {
	stopped := make(chan struct{})
	var tick reactor.Task
	tick = func() {
		select {
		case <-stopped:
			return
		default:
		}
		c.reapIdle()
		c.Reactor.AddTimer(tick, idleReapInterval)
	}
	c.Reactor.AddTimer(tick, idleReapInterval)
	c.stopReaper = func() { close(stopped) }
}

func (c *Context) reapIdle() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, sc := range c.services {
		if sc.refs.Load() > 0 {
			continue
		}
		idleFor := now.Sub(time.Unix(0, sc.lastUsed.Load()))
		if idleFor < c.IdleWindow {
			continue
		}
		if sc.stopDetection != nil {
			sc.stopDetection()
		}
		delete(c.services, key)
		logging.Named("polaris").Sugar().Debugw("reaped idle service context", "service", key.String())
	}
}

package polaris

import (
	"context"
	"time"

	"github.com/meshgov/polaris-client/codes"
	"github.com/meshgov/polaris-client/config"
	"github.com/meshgov/polaris-client/connector"
	"github.com/meshgov/polaris-client/loadbalance"
	"github.com/meshgov/polaris-client/model"
	"github.com/meshgov/polaris-client/router"
	"github.com/meshgov/polaris-client/stat"
)

// GetOneInstanceRequest selects a single instance of a service, narrowed
// by the router chain and picked by the configured load balancer.
type GetOneInstanceRequest struct {
	Namespace string
	Name      string
	Criteria  router.Criteria
	// HashKey is forwarded to hash-based balancers; ignored otherwise.
	HashKey string
	Timeout time.Duration
}

// ConsumerApi is the consumer-side facade: discovers instances through
// the local registry, narrows them through the service's router chain,
// and hands the survivors to its load balancer — all breaker-aware.
type ConsumerApi struct {
	ctx   *Context
	owned bool
}

func CreateConsumer(ctx *Context) (*ConsumerApi, error) {
	return &ConsumerApi{ctx: ctx, owned: ctx.mode == Private}, nil
}

func CreateConsumerFromConfig(cfg *config.Config, conn connector.Connector) (*ConsumerApi, error) {
	ctx, err := New(Private, cfg, conn)
	if err != nil {
		return nil, err
	}
	return &ConsumerApi{ctx: ctx, owned: true}, nil
}

func (c *ConsumerApi) Destroy() {
	if c.owned {
		c.ctx.Destroy()
	}
}

// GetOneInstance blocks (bounded by req.Timeout or the Context's
// default) until a snapshot is available, then returns one instance.
// The spec's caller-blocking retry contract (§9 Open Questions) is kept
// here as the default entry point; GetOneInstanceCtx offers the same
// operation cancelable via context.Context for callers that want to
// thread cooperative cancellation through instead.
func (c *ConsumerApi) GetOneInstance(req GetOneInstanceRequest) (*model.Instance, codes.Code) {
	return c.GetOneInstanceCtx(context.Background(), req)
}

// GetOneInstanceCtx is GetOneInstance with explicit cancellation.
func (c *ConsumerApi) GetOneInstanceCtx(ctx context.Context, req GetOneInstanceRequest) (*model.Instance, codes.Code) {
	key := model.ServiceKey{Namespace: req.Namespace, Name: req.Name}
	span := stat.StartSpan("GetOneInstance", key.String(), c.ctx.Reporters)

	if !c.ctx.RateLimiter.Allow() {
		return nil, span.Finish(codes.RateLimited)
	}
	if key.Empty() {
		return nil, span.Finish(codes.InvalidArgument)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.ctx.Config.Global.API.Timeout
	}

	sc := c.ctx.Acquire(key)
	defer sc.Release()
	sc.touch()

	data, code := c.ctx.LocalRegistry.Get(ctx, key, model.DataKindInstances, timeout)
	if code != codes.Ok {
		return nil, span.Finish(code)
	}

	candidates := data.Instances
	if sc.Router != nil {
		candidates = sc.Router.Route(candidates, req.Criteria)
	}
	if sc.Balancer == nil {
		return nil, span.Finish(codes.PluginError)
	}

	inst, err := sc.Balancer.Pick(candidates, loadbalance.PickOptions{
		ServiceKey: key,
		Gate:       sc.Breaker,
		Adjuster:   sc.Adjuster,
		HashKey:    req.HashKey,
	})
	if err != nil {
		return nil, span.Finish(codes.ServiceNotFound)
	}
	return inst, span.Finish(codes.Ok)
}

package polaris

import (
	"context"
	"time"

	"github.com/meshgov/polaris-client/codes"
	"github.com/meshgov/polaris-client/config"
	"github.com/meshgov/polaris-client/connector"
	"github.com/meshgov/polaris-client/retry"
	"github.com/meshgov/polaris-client/stat"
)

// RegisterRequest is the facade-level request; validated here before
// anything reaches the connector.
type RegisterRequest struct {
	Namespace string
	Name      string
	Token     string
	Host      string
	Port      int
	Weight    int
	Metadata  map[string]string
	Timeout   time.Duration
}

// DeregisterRequest/HeartbeatRequest share §4.I's validation rule:
// either InstanceID+Token, or the full (namespace,name,host,port,token)
// tuple.
type DeregisterRequest struct {
	Namespace  string
	Name       string
	Token      string
	InstanceID string
	Host       string
	Port       int
	Timeout    time.Duration
}

type HeartbeatRequest = DeregisterRequest

// ProviderApi is the provider-side facade (§4.I, §6): Register,
// Deregister, Heartbeat, each validated, retried under budget, and
// wrapped in an ApiStat span.
type ProviderApi struct {
	ctx   *Context
	owned bool
}

// Create wraps an existing Context. The Context's own Mode governs
// whether ProviderApi.Destroy tears it down.
func Create(ctx *Context) (*ProviderApi, error) {
	return &ProviderApi{ctx: ctx, owned: ctx.mode == Private}, nil
}

// CreateFromConfig builds a private Context from cfg and wraps it.
func CreateFromConfig(cfg *config.Config, conn connector.Connector) (*ProviderApi, error) {
	ctx, err := New(Private, cfg, conn)
	if err != nil {
		return nil, err
	}
	return &ProviderApi{ctx: ctx, owned: true}, nil
}

// CreateFromFile loads cfg from path and wraps a fresh private Context.
func CreateFromFile(path string, conn connector.Connector) (*ProviderApi, error) {
	cfg, err := config.FromFile(path)
	if err != nil {
		return nil, err
	}
	return CreateFromConfig(cfg, conn)
}

// CreateFromString parses content in the given format and wraps a fresh
// private Context.
func CreateFromString(content, format string, conn connector.Connector) (*ProviderApi, error) {
	cfg, err := config.FromString(content, format)
	if err != nil {
		return nil, err
	}
	return CreateFromConfig(cfg, conn)
}

// CreateWithDefaultFile wraps a private Context built purely from
// documented defaults — the fallback when no config file is supplied.
func CreateWithDefaultFile(conn connector.Connector) (*ProviderApi, error) {
	return CreateFromConfig(config.Default(), conn)
}

// Destroy tears down the underlying Context if this ProviderApi owns it
// (i.e. the Context is Private).
func (p *ProviderApi) Destroy() {
	if p.owned {
		p.ctx.Destroy()
	}
}

func (p *ProviderApi) budget(timeout time.Duration) retry.Budget {
	if timeout <= 0 {
		timeout = p.ctx.Config.Global.API.Timeout
	}
	return retry.Budget{
		Timeout:  timeout,
		MaxTries: p.ctx.Config.Global.API.MaxRetryTimes,
		Interval: p.ctx.Config.Global.API.RetryInterval,
	}
}

// Register validates req, then retries RegisterInstance under budget.
// Returns (Ok, instance_id) on success.
func (p *ProviderApi) Register(req RegisterRequest) (codes.Code, string) {
	span := stat.StartSpan("Register", req.Namespace+"/"+req.Name, p.ctx.Reporters)

	if !p.ctx.RateLimiter.Allow() {
		return span.Finish(codes.RateLimited), ""
	}
	if req.Namespace == "" || req.Name == "" || req.Token == "" || req.Host == "" {
		return span.Finish(codes.InvalidArgument), ""
	}
	if req.Port < 1 || req.Port > 65535 {
		return span.Finish(codes.InvalidArgument), ""
	}

	code, id := retry.DoWithResult(p.budget(req.Timeout), func(remaining time.Duration) (codes.Code, string) {
		return p.ctx.Connector.RegisterInstance(context.Background(), connector.RegisterRequest{
			Namespace: req.Namespace,
			Name:      req.Name,
			Token:     req.Token,
			Host:      req.Host,
			Port:      req.Port,
			Weight:    req.Weight,
			Metadata:  req.Metadata,
		}, remaining)
	})
	return span.Finish(code), id
}

func validDeregisterOrHeartbeat(req DeregisterRequest) bool {
	byID := req.InstanceID != "" && req.Token != ""
	byTuple := req.Namespace != "" && req.Name != "" && req.Token != "" && req.Host != "" &&
		req.Port >= 1 && req.Port <= 65535
	return byID || byTuple
}

// Deregister validates req against §4.I's either/or rule, then retries
// DeregisterInstance under budget.
func (p *ProviderApi) Deregister(req DeregisterRequest) codes.Code {
	span := stat.StartSpan("Deregister", req.Namespace+"/"+req.Name, p.ctx.Reporters)

	if !p.ctx.RateLimiter.Allow() {
		return span.Finish(codes.RateLimited)
	}
	if !validDeregisterOrHeartbeat(req) {
		return span.Finish(codes.InvalidArgument)
	}

	code := retry.Do(p.budget(req.Timeout), func(remaining time.Duration) codes.Code {
		return p.ctx.Connector.DeregisterInstance(context.Background(), connector.DeregisterRequest{
			Namespace:  req.Namespace,
			Name:       req.Name,
			Token:      req.Token,
			InstanceID: req.InstanceID,
			Host:       req.Host,
			Port:       req.Port,
		}, remaining)
	})
	return span.Finish(code)
}

// Heartbeat validates req against the same rule as Deregister, then
// retries InstanceHeartbeat under budget.
func (p *ProviderApi) Heartbeat(req HeartbeatRequest) codes.Code {
	span := stat.StartSpan("Heartbeat", req.Namespace+"/"+req.Name, p.ctx.Reporters)

	if !p.ctx.RateLimiter.Allow() {
		return span.Finish(codes.RateLimited)
	}
	if !validDeregisterOrHeartbeat(req) {
		return span.Finish(codes.InvalidArgument)
	}

	code := retry.Do(p.budget(req.Timeout), func(remaining time.Duration) codes.Code {
		return p.ctx.Connector.InstanceHeartbeat(context.Background(), connector.HeartbeatRequest{
			Namespace:  req.Namespace,
			Name:       req.Name,
			Token:      req.Token,
			InstanceID: req.InstanceID,
			Host:       req.Host,
			Port:       req.Port,
		}, remaining)
	})
	return span.Finish(code)
}

// Package connector implements the server-connector plugin kind (§4.D):
// the abstract contract every provider/consumer operation is eventually
// routed through to reach the control-plane cluster.
//
// The "grpc" plugin name is realized here over an etcd v3 client rather
// than a bespoke gRPC/protobuf wire schema — etcd's client already speaks
// gRPC over HTTP/2 to a clustered, Raft-replicated store, which gives
// Register/Heartbeat/Deregister/Subscribe the same durability and
// server-push semantics a real control-plane connector would provide,
// without this repository needing to design or vendor a protobuf schema.
package connector

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	rpctypes "go.etcd.io/etcd/api/v3/v3rpc/rpctypes"

	"github.com/meshgov/polaris-client/codes"
	"github.com/meshgov/polaris-client/logging"
	"github.com/meshgov/polaris-client/model"
	"github.com/meshgov/polaris-client/plugin"
)

// RegisterRequest carries the fields the validator in §4.I checks before
// this package is ever reached.
type RegisterRequest struct {
	Namespace string
	Name      string
	Token     string
	Host      string
	Port      int
	Weight    int
	Metadata  map[string]string
	// TTL is the registration lease lifetime; Heartbeat must be called
	// more often than this or the instance is reaped by the control plane.
	TTL time.Duration
}

// DeregisterRequest identifies an instance either by InstanceID+Token or
// by the full (namespace, name, host, port, token) tuple, matching §4.I's
// validation rule.
type DeregisterRequest struct {
	Namespace  string
	Name       string
	Token      string
	InstanceID string
	Host       string
	Port       int
}

// HeartbeatRequest has the same shape as DeregisterRequest.
type HeartbeatRequest = DeregisterRequest

// ServiceDataHandler receives a pushed snapshot from a subscription. It is
// invoked on the connector's own goroutine, never the reactor.
type ServiceDataHandler func(*model.ServiceData)

// Connector is the abstract server-connector contract of §4.D.
type Connector interface {
	RegisterInstance(ctx context.Context, req RegisterRequest, timeout time.Duration) (codes.Code, string)
	DeregisterInstance(ctx context.Context, req DeregisterRequest, timeout time.Duration) codes.Code
	InstanceHeartbeat(ctx context.Context, req HeartbeatRequest, timeout time.Duration) codes.Code
	SubscribeServiceData(key model.ServiceKey, kind model.DataKind, handler ServiceDataHandler) error
	Unsubscribe(key model.ServiceKey, kind model.DataKind) error
	Close() error
}

func init() {
	plugin.RegisterBuiltinHook(func(r *plugin.Registry) {
		r.Register("grpc", plugin.KindServerConnector, func() plugin.Plugin {
			return &EtcdConnector{}
		})
	})
}

const keyPrefix = "/polaris"

// EtcdConnector is the "grpc" server connector, backed by an etcd v3
// client. Registrations are leased; Heartbeat renews the lease;
// Deregister deletes the key (which also revokes the lease's hold on it).
type EtcdConnector struct {
	client *clientv3.Client

	subs subscriptions
}

// NewEtcdConnector dials endpoints and returns a ready Connector. The
// caller owns the returned value's lifetime and must Close it.
func NewEtcdConnector(endpoints []string, dialTimeout time.Duration) (*EtcdConnector, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdConnector{client: cli}, nil
}

func instanceKey(ns, name, instanceID string) string {
	return keyPrefix + "/" + ns + "/" + name + "/" + instanceID
}

func servicePrefix(key model.ServiceKey) string {
	return keyPrefix + "/" + key.Namespace + "/" + key.Name + "/"
}

// RegisterInstance grants a lease scoped to req.TTL, mints an instance id
// client-side, and Puts the instance record under it.
func (c *EtcdConnector) RegisterInstance(ctx context.Context, req RegisterRequest, timeout time.Duration) (codes.Code, string) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ttl := req.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	lease, err := c.client.Grant(ctx, int64(ttl.Seconds()))
	if err != nil {
		return classify(err), ""
	}

	instanceID := uuid.NewString()
	record := encodeInstance(model.Instance{
		ID:       instanceID,
		Host:     req.Host,
		Port:     req.Port,
		Weight:   req.Weight,
		Metadata: req.Metadata,
		Health:   model.HealthUp,
	})

	_, err = c.client.Put(ctx, instanceKey(req.Namespace, req.Name, instanceID), record, clientv3.WithLease(lease.ID))
	if err != nil {
		return classify(err), ""
	}
	return codes.Ok, instanceID
}

// InstanceHeartbeat renews the instance's lease. A lease that has already
// expired (or was never issued, under a process restart) surfaces as
// ServiceNotFound — terminal, not retried by §4.E.
func (c *EtcdConnector) InstanceHeartbeat(ctx context.Context, req HeartbeatRequest, timeout time.Duration) codes.Code {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	leaseID, err := c.leaseForInstance(ctx, req)
	if err != nil {
		return classify(err)
	}
	if _, err := c.client.KeepAliveOnce(ctx, leaseID); err != nil {
		return classify(err)
	}
	return codes.Ok
}

// DeregisterInstance deletes the instance's key, which also drops its
// lease binding.
func (c *EtcdConnector) DeregisterInstance(ctx context.Context, req DeregisterRequest, timeout time.Duration) codes.Code {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if req.InstanceID != "" {
		resp, err := c.client.Get(ctx, servicePrefix(model.ServiceKey{Namespace: req.Namespace, Name: req.Name}), clientv3.WithPrefix())
		if err != nil {
			return classify(err)
		}
		for _, kv := range resp.Kvs {
			if string(kv.Key) == instanceKey(req.Namespace, req.Name, req.InstanceID) {
				if _, err := c.client.Delete(ctx, string(kv.Key)); err != nil {
					return classify(err)
				}
				return codes.Ok
			}
		}
		return codes.ServiceNotFound
	}

	// Full-tuple deregistration: scan the service prefix for a matching
	// host:port, same lookup-before-delete idiom as the instance-id path.
	resp, err := c.client.Get(ctx, servicePrefix(model.ServiceKey{Namespace: req.Namespace, Name: req.Name}), clientv3.WithPrefix())
	if err != nil {
		return classify(err)
	}
	for _, kv := range resp.Kvs {
		inst, err := decodeInstance(kv.Value)
		if err != nil {
			continue
		}
		if inst.Host == req.Host && inst.Port == req.Port {
			if _, err := c.client.Delete(ctx, string(kv.Key)); err != nil {
				return classify(err)
			}
			return codes.Ok
		}
	}
	return codes.ServiceNotFound
}

// leaseForInstance re-derives the lease id bound to an instance by
// reading its key back (or, for a full-tuple request, the service record
// whose host:port matches); etcd does not let a client ask "what lease
// owns this key" other than via the key's metadata on a Get.
func (c *EtcdConnector) leaseForInstance(ctx context.Context, req HeartbeatRequest) (clientv3.LeaseID, error) {
	if req.InstanceID == "" {
		resp, err := c.client.Get(ctx, servicePrefix(model.ServiceKey{Namespace: req.Namespace, Name: req.Name}), clientv3.WithPrefix())
		if err != nil {
			return 0, err
		}
		for _, kv := range resp.Kvs {
			if inst, err := decodeInstance(kv.Value); err == nil && inst.Host == req.Host && inst.Port == req.Port {
				return clientv3.LeaseID(kv.Lease), nil
			}
		}
		return 0, rpctypes.ErrGRPCLeaseNotFound
	}
	resp, err := c.client.Get(ctx, instanceKey(req.Namespace, req.Name, req.InstanceID))
	if err != nil {
		return 0, err
	}
	if len(resp.Kvs) == 0 {
		return 0, rpctypes.ErrGRPCLeaseNotFound
	}
	return clientv3.LeaseID(resp.Kvs[0].Lease), nil
}

// SubscribeServiceData watches the service's key prefix and, on every
// change, re-Gets the whole prefix rather than reassembling state from
// individual watch events — the same "simpler than parsing deltas" idiom
// the teacher's Registry.Watch uses.
func (c *EtcdConnector) SubscribeServiceData(key model.ServiceKey, kind model.DataKind, handler ServiceDataHandler) error {
	ctx, cancel := context.WithCancel(context.Background())
	c.subs.add(key, kind, cancel)

	push := func() {
		data, err := c.fetch(ctx, key, kind)
		if err != nil {
			logging.Named("connector").Sugar().Warnw("subscribe refresh failed", "service", key.String(), "err", err)
			return
		}
		handler(data)
	}
	watchCh := c.client.Watch(ctx, servicePrefix(key), clientv3.WithPrefix())
	go func() {
		push()
		for range watchCh {
			push()
		}
	}()
	return nil
}

func (c *EtcdConnector) Unsubscribe(key model.ServiceKey, kind model.DataKind) error {
	c.subs.cancel(key, kind)
	return nil
}

func (c *EtcdConnector) fetch(ctx context.Context, key model.ServiceKey, kind model.DataKind) (*model.ServiceData, error) {
	resp, err := c.client.Get(ctx, servicePrefix(key), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	instances := make([]model.Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		inst, err := decodeInstance(kv.Value)
		if err != nil {
			continue
		}
		instances = append(instances, inst)
	}
	return &model.ServiceData{
		Key:       key,
		Kind:      kind,
		Revision:  revisionOf(resp.Header.Revision),
		FetchTime: time.Now(),
		Instances: instances,
	}, nil
}

func (c *EtcdConnector) Close() error {
	c.subs.cancelAll()
	return c.client.Close()
}

// classify maps etcd/grpc-status and context errors into the closed
// ReturnCode taxonomy (§7).
func classify(err error) codes.Code {
	if err == nil {
		return codes.Ok
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return codes.NetworkFailed
	case errors.Is(err, rpctypes.ErrGRPCLeaseNotFound), errors.Is(err, rpctypes.ErrLeaseNotFound):
		return codes.ServiceNotFound
	case errors.Is(err, rpctypes.ErrGRPCNoSpace), errors.Is(err, rpctypes.ErrGRPCUnhealthy):
		return codes.ServerError
	case errors.Is(err, concurrency.ErrSessionExpired):
		return codes.NetworkFailed
	default:
		return codes.ServerError
	}
}

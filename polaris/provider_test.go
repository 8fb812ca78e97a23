package polaris

import (
	"context"
	"testing"
	"time"

	"github.com/meshgov/polaris-client/codes"
	"github.com/meshgov/polaris-client/config"
	"github.com/meshgov/polaris-client/connector"
	"github.com/meshgov/polaris-client/model"
)

// scriptedConnector plays back a fixed sequence of outcomes for
// RegisterInstance and counts calls, letting tests drive the retry
// envelope deterministically without a real etcd cluster.
type scriptedConnector struct {
	registerScript []codes.Code
	registerID     string
	registerCalls  int

	heartbeatScript []codes.Code
	heartbeatCalls  int
}

func (c *scriptedConnector) RegisterInstance(ctx context.Context, req connector.RegisterRequest, timeout time.Duration) (codes.Code, string) {
	i := c.registerCalls
	c.registerCalls++
	if i >= len(c.registerScript) {
		return codes.ServerError, ""
	}
	code := c.registerScript[i]
	if code == codes.Ok {
		return code, c.registerID
	}
	return code, ""
}

func (c *scriptedConnector) DeregisterInstance(ctx context.Context, req connector.DeregisterRequest, timeout time.Duration) codes.Code {
	return codes.Ok
}

func (c *scriptedConnector) InstanceHeartbeat(ctx context.Context, req connector.HeartbeatRequest, timeout time.Duration) codes.Code {
	i := c.heartbeatCalls
	c.heartbeatCalls++
	if i >= len(c.heartbeatScript) {
		return codes.ServerError
	}
	return c.heartbeatScript[i]
}

func (c *scriptedConnector) SubscribeServiceData(key model.ServiceKey, kind model.DataKind, handler connector.ServiceDataHandler) error {
	return nil
}
func (c *scriptedConnector) Unsubscribe(key model.ServiceKey, kind model.DataKind) error { return nil }
func (c *scriptedConnector) Close() error                                                { return nil }

func testConfig() *config.Config {
	cfg, _ := config.FromString(`
global:
  api:
    timeout: 1000ms
    maxRetryTimes: 5
    retryInterval: 10ms
`, "yaml")
	return cfg
}

// TestS1RegisterRetriesTransientThenSucceeds matches spec scenario S1.
func TestS1RegisterRetriesTransientThenSucceeds(t *testing.T) {
	conn := &scriptedConnector{
		registerScript: []codes.Code{codes.NetworkFailed, codes.NetworkFailed, codes.Ok},
		registerID:     "id-7",
	}
	ctx, err := New(Private, testConfig(), conn)
	if err != nil {
		t.Fatal(err)
	}
	defer ctx.Destroy()

	api, _ := Create(ctx)
	start := time.Now()
	code, id := api.Register(RegisterRequest{Namespace: "A", Name: "S", Token: "t", Host: "1.2.3.4", Port: 8080})
	elapsed := time.Since(start)

	if code != codes.Ok || id != "id-7" {
		t.Fatalf("expected (Ok, id-7), got (%v, %q)", code, id)
	}
	if conn.registerCalls != 3 {
		t.Fatalf("expected 3 connector calls, got %d", conn.registerCalls)
	}
	if elapsed < 20*time.Millisecond || elapsed > time.Second {
		t.Fatalf("expected wall time in [20ms, 1000ms], got %v", elapsed)
	}
}

// TestS2HeartbeatEmptyInstanceIDIsInvalidArgument matches spec scenario
// S2: instance_id empty, token set → InvalidArgument, zero connector
// calls.
func TestS2HeartbeatEmptyInstanceIDIsInvalidArgument(t *testing.T) {
	conn := &scriptedConnector{}
	ctx, _ := New(Private, testConfig(), conn)
	defer ctx.Destroy()

	api, _ := Create(ctx)
	code := api.Heartbeat(HeartbeatRequest{Token: "t"})

	if code != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", code)
	}
	if conn.heartbeatCalls != 0 {
		t.Fatalf("expected zero connector calls, got %d", conn.heartbeatCalls)
	}
}

// TestValidatorRejectsBadRegisterRequests matches spec invariant #6.
func TestValidatorRejectsBadRegisterRequests(t *testing.T) {
	conn := &scriptedConnector{}
	ctx, _ := New(Private, testConfig(), conn)
	defer ctx.Destroy()
	api, _ := Create(ctx)

	cases := []RegisterRequest{
		{Namespace: "", Name: "S", Token: "t", Host: "h", Port: 8080},
		{Namespace: "A", Name: "", Token: "t", Host: "h", Port: 8080},
		{Namespace: "A", Name: "S", Token: "", Host: "h", Port: 8080},
		{Namespace: "A", Name: "S", Token: "t", Host: "", Port: 8080},
		{Namespace: "A", Name: "S", Token: "t", Host: "h", Port: 0},
		{Namespace: "A", Name: "S", Token: "t", Host: "h", Port: 65536},
		{Namespace: "A", Name: "S", Token: "t", Host: "h", Port: -1},
	}
	for i, req := range cases {
		if code, _ := api.Register(req); code != codes.InvalidArgument {
			t.Fatalf("case %d: expected InvalidArgument, got %v", i, code)
		}
	}
	if conn.registerCalls != 0 {
		t.Fatalf("expected validation failures to make zero connector calls, got %d", conn.registerCalls)
	}
}

func TestLimitModeRejectsCallsOnceBucketIsEmpty(t *testing.T) {
	conn := &scriptedConnector{registerScript: []codes.Code{codes.Ok, codes.Ok}, registerID: "id-1"}
	ctx, err := NewLimited(testConfig(), conn, 0.001, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer ctx.Destroy()

	api, _ := Create(ctx)
	req := RegisterRequest{Namespace: "A", Name: "S", Token: "t", Host: "h", Port: 8080}

	if code, _ := api.Register(req); code != codes.Ok {
		t.Fatalf("expected first call to consume the single burst token, got %v", code)
	}
	if code, _ := api.Register(req); code != codes.RateLimited {
		t.Fatalf("expected second call to be RateLimited, got %v", code)
	}
}

func TestHeartbeatAcceptsFullTupleWithoutInstanceID(t *testing.T) {
	conn := &scriptedConnector{heartbeatScript: []codes.Code{codes.Ok}}
	ctx, _ := New(Private, testConfig(), conn)
	defer ctx.Destroy()
	api, _ := Create(ctx)

	code := api.Heartbeat(HeartbeatRequest{Namespace: "A", Name: "S", Token: "t", Host: "h", Port: 8080})
	if code != codes.Ok {
		t.Fatalf("expected Ok, got %v", code)
	}
}

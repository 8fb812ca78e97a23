// Package outlier implements the outlier-detection chain (§4.G): a
// reactor-driven periodic probe of suspect instances, plus a
// policy-sampled subset of healthy ones, feeding results into the
// circuit breaker via the same Admit/report protocol consumer calls use.
package outlier

import (
	"context"
	"math/rand"
	"time"

	"github.com/meshgov/polaris-client/breaker"
	"github.com/meshgov/polaris-client/model"
	"github.com/meshgov/polaris-client/reactor"
)

// Outcome is what a single probe observed.
type Outcome int

const (
	Success Outcome = iota
	Fail
	Timeout
)

// Detector is one pluggable probe protocol, registered under the
// outlier-detector plugin kind ("tcp", "udp", "http").
type Detector interface {
	Name() string
	Probe(ctx context.Context, inst model.Instance, timeout time.Duration) (Outcome, time.Duration)
}

// SourceSet is the minimal view the chain needs of a service's current
// instance list — satisfied by a localregistry snapshot's Instances
// field or any test fixture.
type SourceSet func() []model.Instance

// ChainConfig controls one service's detector chain.
type ChainConfig struct {
	Detectors []Detector
	Timeout   time.Duration
	// Timeouts overrides Timeout per detector name (e.g.
	// consumer.outlierDetection.http.timeout), consulted by Detector
	// Name() before falling back to Timeout.
	Timeouts   map[string]time.Duration
	SampleRate float64 // fraction of healthy instances also probed per tick
}

// Chain runs a service's configured detectors against its current
// instance list on every tick.
type Chain struct {
	svc     model.ServiceKey
	cfg     ChainConfig
	breaker *breaker.Breaker
	source  SourceSet
}

func NewChain(svc model.ServiceKey, cfg ChainConfig, b *breaker.Breaker, source SourceSet) *Chain {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	return &Chain{svc: svc, cfg: cfg, breaker: b, source: source}
}

// DetectInstance runs one detection pass: every suspect (open/half-open)
// instance is probed, plus a SampleRate-sized sample of the rest.
func (c *Chain) DetectInstance(ctx context.Context) {
	instances := c.source()
	if len(instances) == 0 {
		return
	}

	for i := range instances {
		inst := instances[i]
		state := c.breaker.State(c.svc, inst.ID)
		suspect := state == breaker.StateOpen || state == breaker.StateHalfOpen
		if !suspect && !c.shouldSampleHealthy() {
			continue
		}
		c.probeOne(ctx, inst)
	}
}

func (c *Chain) shouldSampleHealthy() bool {
	return c.cfg.SampleRate > 0 && rand.Float64() < c.cfg.SampleRate
}

// probeOne requests breaker admission first — an Open instance still
// within its sleep window, or a HalfOpen instance whose single probe
// slot is already taken, is skipped for this tick. Admission granted,
// it runs the chain's detectors in declared order and reports the first
// decisive (non-timeout) outcome; if every detector times out, the probe
// is reported as a failure.
func (c *Chain) probeOne(ctx context.Context, inst model.Instance) {
	report, ok := c.breaker.Admit(c.svc, inst.ID)
	if !ok {
		return
	}

	success := false
	decided := false
	for _, d := range c.cfg.Detectors {
		timeout := c.cfg.Timeout
		if override, ok := c.cfg.Timeouts[d.Name()]; ok {
			timeout = override
		}
		outcome, _ := d.Probe(ctx, inst, timeout)
		if outcome == Timeout {
			continue
		}
		success = outcome == Success
		decided = true
		break
	}
	if !decided {
		success = false
	}
	report(success)
}

// Schedule arms a self-rescheduling reactor task that runs DetectInstance
// every period, matching the 1000ms (configurable) tick named in §4.G.
// The returned func cancels future rescheduling; in-flight probes still
// complete.
func (c *Chain) Schedule(r *reactor.Reactor, period time.Duration) (cancel func()) {
	stopped := make(chan struct{})
	var tick reactor.Task
	tick = func() {
		select {
		case <-stopped:
			return
		default:
		}
		c.DetectInstance(context.Background())
		r.AddTimer(tick, period)
	}
	r.AddTimer(tick, period)
	return func() { close(stopped) }
}

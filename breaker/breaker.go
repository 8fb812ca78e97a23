// Package breaker implements the per-(service,instance) circuit-breaker
// state machine (§4.H): error-count and error-rate strategies sharing one
// closed→open→half-open→{closed,open} transition engine, fed by the
// outlier detector chain and by consumer call outcomes.
//
// The transition engine is github.com/sony/gobreaker/v2's
// TwoStepCircuitBreaker: Admit/report map directly onto its Allow() +
// done(success) pair, and pinning its half-open MaxRequests to the
// policy's HalfOpenSuccessThreshold P gives us "at most P admitted
// probes in half-open, P consecutive successes to close" for free —
// exactly one admitted probe with the default P of 1. The
// error-rate strategy layers a sliding window (not gobreaker's
// cumulative-since-reset counters) on top so "rolling window of W
// requests" is honored literally.
package breaker

import (
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/meshgov/polaris-client/logging"
	"github.com/meshgov/polaris-client/model"
	"github.com/meshgov/polaris-client/plugin"
)

// init registers the two canonical circuit-breaker strategies under the
// CircuitBreaker plugin kind, the same way the outlier detectors and
// routers register themselves — so a Context can select between them by
// name instead of hardcoding one policy.
func init() {
	plugin.RegisterBuiltinHook(func(r *plugin.Registry) {
		r.Register("errorCount", plugin.KindCircuitBreaker, func() plugin.Plugin {
			return New(DefaultErrorCountPolicy())
		})
		r.Register("errorRate", plugin.KindCircuitBreaker, func() plugin.Plugin {
			return New(DefaultErrorRatePolicy())
		})
	})
}

// Strategy selects which condition trips the breaker from Closed to Open.
type Strategy int

const (
	ErrorCount Strategy = iota
	ErrorRate
)

// State mirrors the spec's three-state machine.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Policy configures one breaker strategy.
type Policy struct {
	Strategy Strategy

	// ConsecutiveErrorThreshold is N for the error-count strategy.
	ConsecutiveErrorThreshold int
	// WindowSize is W, the rolling sample size for the error-rate strategy.
	WindowSize int
	// MinRequests is M, the minimum samples before the error-rate
	// strategy is allowed to trip.
	MinRequests int
	// ErrorRateThreshold is θ.
	ErrorRateThreshold float64

	// SleepWindow is how long Open holds before admitting one probe.
	SleepWindow time.Duration
	// HalfOpenSuccessThreshold is P: consecutive successes needed in
	// half-open to close again. Also bounds concurrently-admitted
	// half-open probes to this many (1 realizes "only one probe at a
	// time").
	HalfOpenSuccessThreshold int

	// Disabled turns this Breaker into the no-op plug-in the §3
	// invariant permits: Admit always grants, State always reports
	// Closed. Set by Context when consumer.circuitBreaker.setEnable is
	// false, so the breaker table is still present but never gates.
	Disabled bool
}

// DefaultErrorCountPolicy matches spec.md's stated default: open at 10
// consecutive failures.
func DefaultErrorCountPolicy() Policy {
	return Policy{
		Strategy:                 ErrorCount,
		ConsecutiveErrorThreshold: 10,
		SleepWindow:               30 * time.Second,
		HalfOpenSuccessThreshold:  1,
	}
}

// DefaultErrorRatePolicy is a reasonable companion default for the
// error-rate strategy.
func DefaultErrorRatePolicy() Policy {
	return Policy{
		Strategy:                 ErrorRate,
		WindowSize:                100,
		MinRequests:                10,
		ErrorRateThreshold:        0.5,
		SleepWindow:               30 * time.Second,
		HalfOpenSuccessThreshold:  1,
	}
}

// Breaker manages one circuit-breaker state machine per (service,
// instance), lazily created on first use.
type Breaker struct {
	policy Policy

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	cb  *gobreaker.TwoStepCircuitBreaker[any]
	win *window // only used by the error-rate strategy
}

// New creates a Breaker enforcing policy across every instance it is
// consulted for.
func New(policy Policy) *Breaker {
	return &Breaker{policy: policy, entries: make(map[string]*entry)}
}

// SetDisabled flips this Breaker between enforcing its policy and acting
// as a no-op (Admit always grants, State always Closed). Must be called
// before the Breaker is shared across goroutines — the Context does this
// once, right after selecting the strategy, never concurrently with
// Admit/State.
func (b *Breaker) SetDisabled(disabled bool) {
	b.policy.Disabled = disabled
}

func key(svc model.ServiceKey, instanceID string) string {
	return svc.Namespace + "\x00" + svc.Name + "\x00" + instanceID
}

func (b *Breaker) getOrCreate(k string) *entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[k]; ok {
		return e
	}
	e := &entry{}
	if b.policy.Strategy == ErrorRate {
		e.win = newWindow(b.policy.WindowSize)
	}
	e.cb = gobreaker.NewTwoStepCircuitBreaker[any](b.settings(k, e))
	b.entries[k] = e
	return e
}

func (b *Breaker) settings(name string, e *entry) gobreaker.Settings {
	p := b.policy
	maxRequests := p.HalfOpenSuccessThreshold
	if maxRequests <= 0 {
		maxRequests = 1
	}
	sleep := p.SleepWindow
	if sleep <= 0 {
		sleep = 30 * time.Second
	}

	s := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(maxRequests),
		Timeout:     sleep,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logging.Named("breaker").Sugar().Infow("circuit breaker state changed",
				"instance", name, "from", from.String(), "to", to.String())
			if to == gobreaker.StateClosed && e.win != nil {
				e.win.reset()
			}
		},
	}

	switch p.Strategy {
	case ErrorCount:
		threshold := uint32(p.ConsecutiveErrorThreshold)
		if threshold == 0 {
			threshold = 10
		}
		s.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		}
	case ErrorRate:
		s.ReadyToTrip = func(counts gobreaker.Counts) bool {
			if e.win == nil {
				return false
			}
			rate, total := e.win.failureRate()
			if total < p.MinRequests {
				return false
			}
			return rate >= p.ErrorRateThreshold
		}
	}
	return s
}

// Admit requests permission to probe or call instanceID for service svc.
// ok is false when the instance is Open (not yet past its sleep window)
// or a half-open probe slot is already taken by another caller — the
// caller must not proceed in either case. When ok is true the caller must
// invoke report exactly once with the real outcome.
func (b *Breaker) Admit(svc model.ServiceKey, instanceID string) (report func(success bool), ok bool) {
	if b.policy.Disabled {
		return func(success bool) {}, true
	}
	e := b.getOrCreate(key(svc, instanceID))
	done, err := e.cb.Allow()
	if err != nil {
		return nil, false
	}
	return func(success bool) {
		if e.win != nil {
			e.win.record(success)
		}
		done(success)
	}, true
}

// State reports the current breaker state without admitting or denying a
// request — used by load balancers to skip Open instances.
func (b *Breaker) State(svc model.ServiceKey, instanceID string) State {
	if b.policy.Disabled {
		return StateClosed
	}
	e := b.getOrCreate(key(svc, instanceID))
	switch e.cb.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

package stat

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/meshgov/polaris-client/plugin"
)

func init() {
	plugin.RegisterBuiltinHook(func(r *plugin.Registry) {
		r.Register("monitor", plugin.KindStatReporter, func() plugin.Plugin {
			return NewMonitorReporter(prometheus.DefaultRegisterer)
		})
	})
}

// MonitorReporter ships ApiStat spans as Prometheus metrics: a call
// counter partitioned by API, service and return code, and a latency
// histogram partitioned by API.
type MonitorReporter struct {
	calls   *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

func NewMonitorReporter(reg prometheus.Registerer) *MonitorReporter {
	m := &MonitorReporter{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "polaris_client",
			Name:      "api_calls_total",
			Help:      "Total facade API calls by API name and return code.",
		}, []string{"api", "service", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "polaris_client",
			Name:      "api_call_latency_seconds",
			Help:      "Facade API call latency by API name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"api"}),
	}
	if reg != nil {
		m.calls = registerIgnoringDuplicate(reg, m.calls)
		m.latency = registerIgnoringDuplicate(reg, m.latency)
	}
	return m
}

// registerIgnoringDuplicate tolerates being constructed more than once
// against the same registerer (e.g. plugin.Get("monitor", ...) called
// again later) without panicking the way MustRegister would; a later
// reporter reuses the collector already registered.
func registerIgnoringDuplicate[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			panic(err)
		}
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	return c
}

func (m *MonitorReporter) Name() string { return "monitor" }

func (m *MonitorReporter) Report(s ApiStat) {
	m.calls.WithLabelValues(s.API, s.Service, s.Code.String()).Inc()
	m.latency.WithLabelValues(s.API).Observe(s.Latency.Seconds())
}

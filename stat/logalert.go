package stat

import (
	"github.com/meshgov/polaris-client/codes"
	"github.com/meshgov/polaris-client/logging"
	"github.com/meshgov/polaris-client/plugin"
)

func init() {
	plugin.RegisterBuiltinHook(func(r *plugin.Registry) {
		r.Register("logAlert", plugin.KindStatReporter, func() plugin.Plugin {
			return &LogAlertReporter{}
		})
	})
}

// LogAlertReporter logs a call outcome at Warn/Error when the return
// code signals something worth paging on; everything else is a Debug
// line, matching the ambient logging density the rest of the package
// uses.
type LogAlertReporter struct{}

func (r *LogAlertReporter) Name() string { return "logAlert" }

func (r *LogAlertReporter) Report(s ApiStat) {
	log := logging.Named("stat").Sugar()
	switch s.Code {
	case codes.Ok:
		log.Debugw("api call", "api", s.API, "service", s.Service, "latency", s.Latency)
	case codes.NetworkFailed, codes.ServerError:
		log.Warnw("api call transient failure", "api", s.API, "service", s.Service, "code", s.Code.String(), "latency", s.Latency)
	default:
		log.Errorw("api call failed", "api", s.API, "service", s.Service, "code", s.Code.String(), "latency", s.Latency)
	}
}

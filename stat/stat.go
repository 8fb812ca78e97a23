// Package stat implements the stat/alert-reporter plugin kind (§4.L):
// the ApiStat span every facade call is wrapped in, and the two built-in
// sinks it ships to — "monitor" (Prometheus) and "logAlert" (zap).
package stat

import (
	"time"

	"github.com/meshgov/polaris-client/codes"
)

// ApiStat is a scoped latency and return-code record for one facade
// call, shipped to every registered Reporter asynchronously once the
// call completes.
type ApiStat struct {
	API      string
	Service  string
	Code     codes.Code
	Latency  time.Duration
	StartedAt time.Time
}

// Reporter is the stat/alert-reporter plugin interface. Report must not
// block the caller for long — reporters that talk to slow sinks should
// buffer internally.
type Reporter interface {
	Name() string
	Report(ApiStat)
}

// Span starts an ApiStat timer for one facade call; Finish records the
// outcome and fans it out to every reporter.
type Span struct {
	stat      ApiStat
	reporters []Reporter
}

func StartSpan(api, service string, reporters []Reporter) *Span {
	return &Span{
		stat:      ApiStat{API: api, Service: service, StartedAt: time.Now()},
		reporters: reporters,
	}
}

func (s *Span) Finish(code codes.Code) codes.Code {
	s.stat.Code = code
	s.stat.Latency = time.Since(s.stat.StartedAt)
	for _, r := range s.reporters {
		go r.Report(s.stat)
	}
	return code
}

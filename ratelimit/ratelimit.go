// Package ratelimit adapts the teacher's token-bucket RPC middleware to
// a single call-site gate: Context.Limit mode consults one Limiter
// per facade call instead of wrapping a HandlerFunc chain, since there
// is no HandlerFunc here — just Register/Heartbeat/Deregister/
// GetOneInstance calls returning a codes.Code directly.
package ratelimit

import (
	"golang.org/x/time/rate"
)

// Limiter gates calls with a token-bucket, identical in spirit to
// RateLimitMiddleware's rate.NewLimiter(r, burst) but exposed as an
// Allow() check the polaris facade consults before doing any work.
type Limiter struct {
	limiter *rate.Limiter
}

// New builds a Limiter admitting r requests per second with burst
// capacity burst.
func New(r float64, burst int) *Limiter {
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(r), burst)}
}

// Allow reports whether the caller may proceed right now.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}

// Package logging provides the shared structured logger threaded through
// every component of the client. It wraps zap rather than introducing a
// bespoke logging abstraction, the same library etcd's own client depends
// on transitively.
package logging

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu      sync.RWMutex
	current *zap.Logger
)

func init() {
	l, _ := zap.NewProduction()
	current = l
}

// Set replaces the process-wide logger. Tests typically install a
// zaptest.NewLogger or zap.NewNop() here.
func Set(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	current = l
}

// L returns the current shared logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Named returns a child logger scoped to the given component name.
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// Package connectivity tracks whether the detection backend is reachable.
package connectivity

import (
	"context"
	"sync"

	"github.com/dj-oyu/detection-dashboard/internal/logger"
	"github.com/dj-oyu/detection-dashboard/internal/metrics"
	"github.com/dj-oyu/detection-dashboard/internal/store"
)

// HealthChecker is the part of the backend client the monitor needs.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Monitor runs health checks and commits their outcome to the store.
// There is no retry or backoff; the next scheduled check is the retry.
type Monitor struct {
	checker HealthChecker
	store   *store.Store
	metrics *metrics.Metrics

	mu        sync.Mutex
	listeners []func(connected bool)
}

// New creates a Monitor.
func New(checker HealthChecker, st *store.Store, m *metrics.Metrics) *Monitor {
	return &Monitor{checker: checker, store: st, metrics: m}
}

// OnChange registers fn to be called after each accepted transition.
// fn runs on the checking goroutine.
func (m *Monitor) OnChange(fn func(connected bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Check performs one health check and returns the connection state it
// observed. A check that completes after a newer one is discarded and does
// not change the stored state.
func (m *Monitor) Check(ctx context.Context) bool {
	seq := m.store.Begin(store.FeedConnection)
	err := m.checker.Health(ctx)
	ok := err == nil
	m.metrics.ObserveHealth(ok)

	accepted, changed := m.store.CommitConnection(seq, ok, err)
	if !accepted {
		return ok
	}
	if changed {
		if ok {
			logger.Info("Connectivity", "Backend connected")
		} else {
			logger.Warn("Connectivity", "Backend unreachable: %v", err)
		}
		m.fire(ok)
	} else if err != nil {
		logger.Debug("Connectivity", "Health check failed: %v", err)
	}
	return ok
}

func (m *Monitor) fire(connected bool) {
	m.mu.Lock()
	listeners := append([]func(bool){}, m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(connected)
	}
}

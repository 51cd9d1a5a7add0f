package proxy

import (
	"sync"

	"github.com/resubd/resubd/pkg/metrics"
	"github.com/resubd/resubd/pkg/subscription"
)

// tracker serializes registry access across sessions and keeps the
// registry-derived gauges current. The registry is single-threaded by
// contract; every call from every session goes through this mutex.
type tracker struct {
	mu       sync.Mutex
	registry *subscription.Registry
	metrics  *metrics.Metrics
}

func newTracker(registry *subscription.Registry, m *metrics.Metrics) *tracker {
	return &tracker{registry: registry, metrics: m}
}

func (t *tracker) recordInit(clientID string, payload interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.registry.RecordConnectionInit(clientID, payload)
}

func (t *tracker) register(clientID, query string, variables map[string]interface{}, transportID, messageType string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.registry.Register(clientID, query, variables, transportID, messageType)
	t.syncGauge()
}

func (t *tracker) observe(clientID string, payload map[string]interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.registry.ObserveResult(clientID, payload)
	if t.metrics != nil {
		t.metrics.ResultsObserved.Inc()
	}
}

// restore replays the client's session onto transport and returns the number
// of subscriptions replayed.
func (t *tracker) restore(clientID string, transport subscription.Transport) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.registry.SubscriptionCount(clientID)
	t.registry.Restore(clientID, transport)
	return n
}

func (t *tracker) remove(clientID, transportID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.registry.Remove(clientID, transportID)
	t.syncGauge()
}

func (t *tracker) forget(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.registry.Forget(clientID)
	t.syncGauge()
}

// syncGauge is called with the mutex held.
func (t *tracker) syncGauge() {
	if t.metrics != nil {
		t.metrics.SubscriptionsTracked.Set(float64(t.registry.TotalSubscriptions()))
	}
}

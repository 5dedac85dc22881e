package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Auth lifecycle events recorded by the session manager and the API client.
const (
	EventLogin          = "session.login"
	EventLogout         = "session.logout"
	EventExpired        = "session.expired"
	EventBootstrapReset = "session.bootstrap_reset"
	EventRefreshSuccess = "apiclient.refresh.success"
	EventRefreshFailure = "apiclient.refresh.failure"
	EventRedirect       = "apiclient.redirect"
	EventRetry          = "apiclient.retry"
)

// Events recorded by the sandbox API.
const (
	EventSandboxLogin           = "sandbox.login"
	EventSandboxLoginRejected   = "sandbox.login.rejected"
	EventSandboxRefresh         = "sandbox.refresh"
	EventSandboxRefreshRejected = "sandbox.refresh.rejected"
	EventSandboxRefreshReplay   = "sandbox.refresh.replay"
)

// Recorder increments counters for auth events.
type Recorder interface {
	Increment(event string)
}

// Nop discards every event.
type Nop struct{}

// Increment does nothing.
func (Nop) Increment(string) {}

// CounterMetrics keeps event counts in process. The CLI prints them with
// `trainee stats` and logs them when the session closes.
type CounterMetrics struct {
	mutex  sync.RWMutex
	counts map[string]*atomic.Int64
}

// NewCounterMetrics constructs an empty CounterMetrics.
func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{counts: make(map[string]*atomic.Int64)}
}

// Increment adds one to event.
func (recorder *CounterMetrics) Increment(event string) {
	recorder.counter(event).Add(1)
}

// Count returns how often event was recorded.
func (recorder *CounterMetrics) Count(event string) int64 {
	recorder.mutex.RLock()
	defer recorder.mutex.RUnlock()
	if counter, ok := recorder.counts[event]; ok {
		return counter.Load()
	}
	return 0
}

// Snapshot returns a copy of the non-zero counts.
func (recorder *CounterMetrics) Snapshot() map[string]int64 {
	recorder.mutex.RLock()
	defer recorder.mutex.RUnlock()
	snapshot := make(map[string]int64, len(recorder.counts))
	for event, counter := range recorder.counts {
		snapshot[event] = counter.Load()
	}
	return snapshot
}

func (recorder *CounterMetrics) counter(event string) *atomic.Int64 {
	recorder.mutex.RLock()
	counter, ok := recorder.counts[event]
	recorder.mutex.RUnlock()
	if ok {
		return counter
	}
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	if counter, ok = recorder.counts[event]; !ok {
		counter = new(atomic.Int64)
		recorder.counts[event] = counter
	}
	return counter
}

// PrometheusMetrics exports events as a labelled Prometheus counter.
type PrometheusMetrics struct {
	events *prometheus.CounterVec
}

// NewPrometheusMetrics registers the trainee_auth_events_total counter on registerer.
func NewPrometheusMetrics(registerer prometheus.Registerer) (*PrometheusMetrics, error) {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trainee_auth_events_total",
		Help: "Auth lifecycle events by name.",
	}, []string{"event"})
	if err := registerer.Register(events); err != nil {
		return nil, err
	}
	return &PrometheusMetrics{events: events}, nil
}

// Increment increases the counter labelled with event.
func (recorder *PrometheusMetrics) Increment(event string) {
	recorder.events.WithLabelValues(event).Inc()
}

// Fanout forwards each event to every recorder.
type Fanout []Recorder

// Increment forwards the event.
func (recorders Fanout) Increment(event string) {
	for _, recorder := range recorders {
		if recorder != nil {
			recorder.Increment(event)
		}
	}
}

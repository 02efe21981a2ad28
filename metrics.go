package authcore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Metrics holds the Prometheus collectors of the core. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registrations    *prometheus.CounterVec
	logins           *prometheus.CounterVec
	tokens           *prometheus.CounterVec
	sessionsCreated  prometheus.Counter
	sessionsRemoved  prometheus.Counter
	handshakes       *prometheus.CounterVec
	providerExchange *prometheus.HistogramVec
}

// NewMetrics registers the core's collectors on reg under namespace.
// An empty namespace defaults to "authcore".
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "authcore"
	}
	factory := promauto.With(reg)
	return &Metrics{
		registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Local account registrations by outcome",
		}, []string{"outcome"}),
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by method (local or provider name) and outcome",
		}, []string{"method", "outcome"}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Bearer tokens issued and verified by outcome",
		}, []string{"op", "outcome"}),
		sessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Server-side sessions created",
		}),
		sessionsRemoved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_destroyed_total",
			Help:      "Server-side sessions destroyed by logout",
		}),
		handshakes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "federated_handshakes_total",
			Help:      "Federated handshakes by provider and stage/outcome",
		}, []string{"provider", "outcome"}),
		providerExchange: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_exchange_seconds",
			Help:      "Latency of the code exchange with the identity provider",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
	}
}

func outcome(err error) string {
	if err != nil {
		return outcomeFailure
	}
	return outcomeSuccess
}

func (m *Metrics) registration(err error) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) login(method string, err error) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(method, outcome(err)).Inc()
}

func (m *Metrics) token(op string, err error) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues(op, outcome(err)).Inc()
}

func (m *Metrics) sessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

func (m *Metrics) sessionDestroyed() {
	if m == nil {
		return
	}
	m.sessionsRemoved.Inc()
}

func (m *Metrics) handshake(provider, stage string) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(provider, stage).Inc()
}

func (m *Metrics) exchange(provider string, start time.Time) {
	if m == nil {
		return
	}
	m.providerExchange.WithLabelValues(provider).Observe(time.Since(start).Seconds())
}

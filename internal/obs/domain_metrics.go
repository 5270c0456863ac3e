package obs

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CartMutationsTotal counts cart mutations by backing store, operation and outcome.
	CartMutationsTotal *prometheus.CounterVec
	// CartPersistenceFailures counts local storage reads or writes that failed.
	CartPersistenceFailures *prometheus.CounterVec
	// CheckoutOutcomesTotal counts checkout submissions by payment method and outcome.
	CheckoutOutcomesTotal *prometheus.CounterVec
	// CheckoutRejectedTotal counts submissions refused before any network call.
	CheckoutRejectedTotal *prometheus.CounterVec
	// RemoteRequestsTotal counts commerce API calls by operation and error code.
	RemoteRequestsTotal *prometheus.CounterVec
	// RemoteRequestLatency records commerce API latency in milliseconds.
	RemoteRequestLatency *prometheus.HistogramVec
	// SessionExpiredTotal counts credentials discarded after an AUTH failure.
	SessionExpiredTotal prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CartMutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_mutations_total",
			Help:      "Count of cart mutations by store, operation and result.",
		}, []string{"store", "op", "result"})
		CartPersistenceFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_persistence_failures_total",
			Help:      "Count of local cart storage failures by operation.",
		}, []string{"op"})
		CheckoutOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_outcomes_total",
			Help:      "Count of checkout submissions by payment method and result.",
		}, []string{"method", "result"})
		CheckoutRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_rejected_total",
			Help:      "Count of checkout submissions rejected locally by reason.",
		}, []string{"reason"})
		RemoteRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commerce_requests_total",
			Help:      "Count of commerce API requests by operation and result code.",
		}, []string{"op", "result"})
		RemoteRequestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commerce_request_duration_ms",
			Help:      "Latency of commerce API requests in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"op"})
		SessionExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_expired_total",
			Help:      "Number of stored credentials discarded after an auth failure.",
		})

		CartMutationsTotal = registerOrReuse(reg, CartMutationsTotal)
		CartPersistenceFailures = registerOrReuse(reg, CartPersistenceFailures)
		CheckoutOutcomesTotal = registerOrReuse(reg, CheckoutOutcomesTotal)
		CheckoutRejectedTotal = registerOrReuse(reg, CheckoutRejectedTotal)
		RemoteRequestsTotal = registerOrReuse(reg, RemoteRequestsTotal)
		RemoteRequestLatency = registerOrReuse(reg, RemoteRequestLatency)
		SessionExpiredTotal = registerOrReuse(reg, SessionExpiredTotal)
	})
}

// ObserveCartMutation records a cart mutation when metrics are registered.
func ObserveCartMutation(store, op, result string) {
	if CartMutationsTotal != nil {
		CartMutationsTotal.WithLabelValues(store, op, result).Inc()
	}
}

// ObservePersistenceFailure records a local storage failure.
func ObservePersistenceFailure(op string) {
	if CartPersistenceFailures != nil {
		CartPersistenceFailures.WithLabelValues(op).Inc()
	}
}

// ObserveCheckout records the outcome of a submission that reached the network.
func ObserveCheckout(method, result string) {
	if CheckoutOutcomesTotal != nil {
		CheckoutOutcomesTotal.WithLabelValues(method, result).Inc()
	}
}

// ObserveCheckoutRejected records a submission refused locally.
func ObserveCheckoutRejected(reason string) {
	if CheckoutRejectedTotal != nil {
		CheckoutRejectedTotal.WithLabelValues(reason).Inc()
	}
}

// ObserveRemote records a commerce API call.
func ObserveRemote(op, result string, took time.Duration) {
	if RemoteRequestsTotal != nil {
		RemoteRequestsTotal.WithLabelValues(op, result).Inc()
	}
	if RemoteRequestLatency != nil {
		RemoteRequestLatency.WithLabelValues(op).Observe(DurationMillis(took))
	}
}

// ObserveSessionExpired records a discarded credential.
func ObserveSessionExpired() {
	if SessionExpiredTotal != nil {
		SessionExpiredTotal.Inc()
	}
}

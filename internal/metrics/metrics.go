package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "jwks_server"

// Metrics holds the collectors shared by the HTTP and gRPC transports.
type Metrics struct {
	TokensIssued   *prometheus.CounterVec
	IssueFailures  prometheus.Counter
	JWKSRequests   prometheus.Counter
	PublishedKeys  prometheus.Gauge
	StoredKeys     prometheus.GaugeFunc
	RequestLatency *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg (or the default
// registerer if nil). storedKeys is sampled on every scrape.
func New(reg prometheus.Registerer, storedKeys func() int) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		TokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Tokens signed, by transport and whether an expired key was used.",
		}, []string{"transport", "expired_key"}),
		IssueFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issue_failures_total",
			Help:      "Token issuance requests that failed.",
		}),
		JWKSRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jwks_requests_total",
			Help:      "Key set documents served.",
		}),
		PublishedKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "published_keys",
			Help:      "Number of keys in the most recently served key set.",
		}),
		StoredKeys: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stored_keys",
			Help:      "Number of keys held in memory, expired ones included.",
		}, func() float64 { return float64(storedKeys()) }),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request latency by route.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"route"}),
	}

	for _, c := range []prometheus.Collector{
		m.TokensIssued,
		m.IssueFailures,
		m.JWKSRequests,
		m.PublishedKeys,
		m.StoredKeys,
		m.RequestLatency,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

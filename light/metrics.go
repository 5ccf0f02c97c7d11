package light

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"

	prometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "light"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of requests executed, by chain and outcome.
	Requests metrics.Counter
	// Number of attempts sent to nodes.
	Attempts metrics.Counter
	// Number of attempts that failed in transport.
	TransportFailures metrics.Counter
	// Number of responses rejected by the verifier.
	VerificationFailures metrics.Counter
	// Number of nodes blacklisted after a failed attempt.
	BlacklistedNodes metrics.Counter
	// Block number of the trust anchor.
	AnchorHeight metrics.Gauge
	// Time to execute a request, retries included.
	RequestDuration metrics.Histogram
	// Number of node list refreshes, by outcome.
	NodeListRefreshes metrics.Counter
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		Requests: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "requests",
			Help:      "Number of requests executed.",
		}, labelNames(labels, "chain", "outcome")).With(labelsAndValues...),
		Attempts: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "attempts",
			Help:      "Number of attempts sent to nodes.",
		}, labelNames(labels, "chain")).With(labelsAndValues...),
		TransportFailures: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "transport_failures",
			Help:      "Number of attempts that failed in transport.",
		}, labelNames(labels, "chain")).With(labelsAndValues...),
		VerificationFailures: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "verification_failures",
			Help:      "Number of responses rejected by the verifier.",
		}, labelNames(labels, "chain")).With(labelsAndValues...),
		BlacklistedNodes: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "blacklisted_nodes",
			Help:      "Number of nodes blacklisted after a failed attempt.",
		}, labelNames(labels, "chain")).With(labelsAndValues...),
		AnchorHeight: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "anchor_height",
			Help:      "Block number of the trust anchor.",
		}, labelNames(labels, "chain")).With(labelsAndValues...),
		RequestDuration: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "request_duration_seconds",
			Help:      "Time to execute a request, retries included.",
			Buckets:   stdprometheus.ExponentialBuckets(0.01, 2, 12),
		}, labelNames(labels, "chain")).With(labelsAndValues...),
		NodeListRefreshes: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "node_list_refreshes",
			Help:      "Number of node list refreshes.",
		}, labelNames(labels, "chain", "outcome")).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Requests:             discard.NewCounter(),
		Attempts:             discard.NewCounter(),
		TransportFailures:    discard.NewCounter(),
		VerificationFailures: discard.NewCounter(),
		BlacklistedNodes:     discard.NewCounter(),
		AnchorHeight:         discard.NewGauge(),
		RequestDuration:      discard.NewHistogram(),
		NodeListRefreshes:    discard.NewCounter(),
	}
}

// labelNames returns a fresh slice so that metrics never share label arrays.
func labelNames(labels []string, extra ...string) []string {
	out := make([]string, 0, len(labels)+len(extra))
	out = append(out, labels...)
	return append(out, extra...)
}

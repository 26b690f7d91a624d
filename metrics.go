package presence

import "github.com/prometheus/client_golang/prometheus"

const MetricsEventTypeSync = "sync"
const MetricsEventTypeJoin = "join"
const MetricsEventTypeLeave = "leave"

const MetricsTransportOpSubscribe = "subscribe"
const MetricsTransportOpTrack = "track"
const MetricsTransportOpUntrack = "untrack"
const MetricsTransportOpTeardown = "teardown"

var metricsNamespace = "presence"

var (
	eventsReceivedCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "events_received_count",
	}, []string{"type"})

	transportFailuresCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "transport_failures_count",
	}, []string{"op"})

	numSessionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "num_sessions",
	})

	numSubscribersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "num_subscribers",
	})

	notifyDurationHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "notify_duration_seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
)

var (
	eventsReceivedCountSync  prometheus.Counter
	eventsReceivedCountJoin  prometheus.Counter
	eventsReceivedCountLeave prometheus.Counter
)

func init() {
	prometheus.MustRegister(eventsReceivedCount)
	prometheus.MustRegister(transportFailuresCount)
	prometheus.MustRegister(numSessionsGauge)
	prometheus.MustRegister(numSubscribersGauge)
	prometheus.MustRegister(notifyDurationHistogram)

	eventsReceivedCountSync = eventsReceivedCount.WithLabelValues(MetricsEventTypeSync)
	eventsReceivedCountJoin = eventsReceivedCount.WithLabelValues(MetricsEventTypeJoin)
	eventsReceivedCountLeave = eventsReceivedCount.WithLabelValues(MetricsEventTypeLeave)
}

package binfish

import (
	"net/http"
	"time"

	"github.com/kayac/Binfish/apns"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus collectors of a supervisor.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal      *prometheus.CounterVec
	BatchesTotal       *prometheus.CounterVec
	SentTotal          prometheus.Counter
	FailedTotal        *prometheus.CounterVec
	ReplaysTotal       prometheus.Counter
	BatchDuration      prometheus.Histogram
	QueueLength        prometheus.GaugeFunc
	CommandQueueLength prometheus.GaugeFunc
}

// NewMetrics registers the collectors on a new registry. queueLen and
// cmdqLen are sampled on every scrape.
func NewMetrics(queueLen, cmdqLen func() int) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "binfish",
			Name:      "requests_total",
			Help:      "Total number of push requests by HTTP status.",
		}, []string{"code"}),
		BatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "binfish",
			Name:      "batches_total",
			Help:      "Total number of delivery queue runs by result.",
		}, []string{"result"}),
		SentTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "binfish",
			Name:      "notifications_sent_total",
			Help:      "Total number of frames written to the gateway, replays included.",
		}),
		FailedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "binfish",
			Name:      "notifications_failed_total",
			Help:      "Total number of failed notifications by status.",
		}, []string{"status"}),
		ReplaysTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "binfish",
			Name:      "replays_total",
			Help:      "Total number of replays after an error record.",
		}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "binfish",
			Name:      "batch_duration_seconds",
			Help:      "Duration of delivery queue runs, error polling included.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		QueueLength: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "binfish",
			Name:      "queue_length",
			Help:      "Number of batches waiting for the sender.",
		}, func() float64 { return float64(queueLen()) }),
		CommandQueueLength: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "binfish",
			Name:      "command_queue_length",
			Help:      "Number of error hook invocations waiting.",
		}, func() float64 { return float64(cmdqLen()) }),
	}
}

// ObserveQueue records the outcome of a queue run.
func (m *Metrics) ObserveQueue(q *apns.Queue, ok bool, elapsed time.Duration) {
	result := "ok"
	if !ok {
		result = "unrecoverable"
	}
	m.BatchesTotal.WithLabelValues(result).Inc()
	m.BatchDuration.Observe(elapsed.Seconds())
	m.SentTotal.Add(float64(q.SentCount()))
	m.ReplaysTotal.Add(float64(q.ReplayCount()))
	for _, n := range q.Notifications() {
		if n.SendError != nil {
			m.FailedTotal.WithLabelValues(n.SendError.Status.String()).Inc()
		}
	}
}

// Handler serves the collectors in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

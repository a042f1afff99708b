package internal

import (
	"github.com/kapetan-io/dappq/internal/types"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	originInternal = "internal"
	originExternal = "external"
)

// Metrics are the coordinator metrics, it implements prometheus.Collector so the
// daemon can register it along side the http handler metrics.
type Metrics struct {
	queued        prometheus.Gauge
	paused        prometheus.Gauge
	admitted      *prometheus.CounterVec
	handled       prometheus.Counter
	deferred      prometheus.Counter
	deferNotify   prometheus.Counter
	deferDropped  prometheus.Counter
	published     prometheus.Counter
	timeInQueue   prometheus.Summary
	requestsTotal *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dappq",
			Subsystem: "coordinator",
			Name:      "queued_requests",
			Help:      "The number of interaction requests waiting in the queue",
		}),
		paused: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dappq",
			Subsystem: "coordinator",
			Name:      "paused",
			Help:      "1 if a high priority screen is pausing incoming requests",
		}),
		admitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dappq",
			Subsystem: "coordinator",
			Name:      "admitted_total",
			Help:      "The number of interaction requests admitted to the queue",
		}, []string{"origin", "priority"}),
		handled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dappq",
			Subsystem: "coordinator",
			Name:      "handled_total",
			Help:      "The number of requests retired from the queue",
		}),
		deferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dappq",
			Subsystem: "coordinator",
			Name:      "deferred_total",
			Help:      "The number of requestDeferred calls",
		}),
		deferNotify: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dappq",
			Subsystem: "coordinator",
			Name:      "defer_notifications_total",
			Help:      "The number of defer notifications emitted by priority requests",
		}),
		deferDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dappq",
			Subsystem: "coordinator",
			Name:      "defer_notifications_dropped_total",
			Help:      "The number of defer notifications a subscriber was too slow to receive",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dappq",
			Subsystem: "coordinator",
			Name:      "published_total",
			Help:      "The number of times a new current request was published",
		}),
		timeInQueue: prometheus.NewSummary(prometheus.SummaryOpts{
			Namespace: "dappq",
			Subsystem: "coordinator",
			Name:      "time_in_queue_seconds",
			Help:      "The time between admission and retirement of a request",
			Objectives: map[float64]float64{
				0.5:  0.05,
				0.99: 0.001,
			},
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dappq",
			Subsystem: "coordinator",
			Name:      "requests_total",
			Help:      "The number of requests processed by the coordinator request loop",
		}, []string{"method"}),
	}
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.queued.Describe(ch)
	m.paused.Describe(ch)
	m.admitted.Describe(ch)
	m.handled.Describe(ch)
	m.deferred.Describe(ch)
	m.deferNotify.Describe(ch)
	m.deferDropped.Describe(ch)
	m.published.Describe(ch)
	m.timeInQueue.Describe(ch)
	m.requestsTotal.Describe(ch)
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.queued.Collect(ch)
	m.paused.Collect(ch)
	m.admitted.Collect(ch)
	m.handled.Collect(ch)
	m.deferred.Collect(ch)
	m.deferNotify.Collect(ch)
	m.deferDropped.Collect(ch)
	m.published.Collect(ch)
	m.timeInQueue.Collect(ch)
	m.requestsTotal.Collect(ch)
}

func (m *Metrics) observeAdmit(internal, priority bool) {
	origin := originExternal
	if internal {
		origin = originInternal
	}
	p := "false"
	if priority {
		p = "true"
	}
	m.admitted.WithLabelValues(origin, p).Inc()
}

func (m *Metrics) observeQueue(q *RequestQueue) {
	m.queued.Set(float64(q.CountRequestItems()))
	if q.Contains(types.IsMarker) {
		m.paused.Set(1)
		return
	}
	m.paused.Set(0)
}

// Package metrics exposes gateway counters and latencies in Prometheus
// format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry

	CommandsSubmitted *prometheus.CounterVec
	CreditsDebited    prometheus.Counter
	CreditsRefunded   prometheus.Counter
	EventsPublished   prometheus.Counter
	EventsDropped     prometheus.Counter
	Subscribers       prometheus.Gauge
	SubmitDuration    prometheus.Histogram
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	return &Collector{
		registry: registry,
		CommandsSubmitted: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "cmdgate_commands_total",
			Help: "Commands by terminal outcome",
		}, []string{"status"}),
		CreditsDebited: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "cmdgate_credits_debited_total",
			Help: "Total credits debited for executed commands",
		}),
		CreditsRefunded: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "cmdgate_credits_refunded_total",
			Help: "Total credits refunded after sandbox failures",
		}),
		EventsPublished: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "cmdgate_events_published_total",
			Help: "Real-time events handed to subscriber queues",
		}),
		EventsDropped: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "cmdgate_events_dropped_total",
			Help: "Real-time events dropped due to slow subscribers",
		}),
		Subscribers: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "cmdgate_subscribers",
			Help: "Currently connected event subscribers",
		}),
		SubmitDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "cmdgate_submit_duration_seconds",
			Help:    "Time from submission to final response",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Handler serves the collector's registry in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

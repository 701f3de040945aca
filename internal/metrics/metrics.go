// Package metrics exposes Prometheus metrics.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cris_query_http_requests_total",
		Help: "HTTP requests by route, method and status.",
	}, []string{"route", "method", "status"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cris_query_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	Queries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cris_query_queries_total",
		Help: "Query requests by mode and outcome.",
	}, []string{"mode", "outcome"})

	DownstreamDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cris_query_downstream_duration_seconds",
		Help:    "Latency of calls to the query execution service.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"transport", "outcome"})
)

var registerOnce sync.Once

// Register registers all collectors with the default registry. Safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(HTTPRequests, HTTPDuration, Queries, DownstreamDuration)
	})
}

// Handler returns the /metrics handler.
func Handler() http.Handler { return promhttp.Handler() }

// Package metrics defines the Prometheus collectors exported by the host.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HostUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "superservice_host_up",
			Help: "1 while the host is serving, 0 otherwise",
		},
	)

	HostStartTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "superservice_host_start_time_seconds",
			Help: "Unix time at which the listener was bound",
		},
	)

	HostInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "superservice_host_info",
			Help: "Static information about the running host",
		},
		[]string{"environment", "scheme", "address"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "superservice_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"method", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "superservice_http_request_duration_seconds",
			Help:    "Time taken to serve HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	HTTPPanicsRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "superservice_http_panics_recovered_total",
			Help: "Total number of panics recovered in HTTP handlers",
		},
	)
)

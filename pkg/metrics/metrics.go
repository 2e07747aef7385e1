// Package metrics holds the prometheus collectors of the router engine and
// serves them on a separate listener.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pgcrud"

var (
	// RouteRequests counts handled requests. resource is the route's path
	// template, not the request path.
	RouteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "route_requests_total",
		Help:      "Requests served by generated routes.",
	}, []string{"resource", "operation", "status"})

	RouteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "route_duration_seconds",
		Help:      "Latency of generated route handlers.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"resource", "operation"})

	AggregationRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "aggregation_rejections_total",
		Help:      "Aggregations the store could not evaluate.",
	}, []string{"function"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Change events delivered, by sink.",
	}, []string{"sink"})

	PublishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "publish_errors_total",
		Help:      "Change events a sink failed to deliver.",
	}, []string{"sink"})
)

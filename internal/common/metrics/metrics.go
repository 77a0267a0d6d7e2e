// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_runs_triggered_total",
			Help: "Total number of reconciliation runs by trigger source",
		},
		[]string{"trigger"},
	)

	RunsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_runs_rejected_total",
			Help: "Total number of run requests rejected by the overlap guard",
		},
		[]string{"trigger"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_http_requests_total",
			Help: "Total number of HTTP requests by path and status",
		},
		[]string{"path", "status"},
	)
)

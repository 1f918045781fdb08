// Package metrics provides Prometheus metrics for ekaya-connect.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ToolExecutionsTotal counts dispatches by integration type, tool and outcome.
	ToolExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ekaya_connect",
			Subsystem: "dispatch",
			Name:      "tool_executions_total",
			Help:      "Total number of tool executions by outcome",
		},
		[]string{"integration_type", "tool", "outcome"},
	)

	// ToolExecutionDuration tracks connector execution time.
	ToolExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ekaya_connect",
			Subsystem: "dispatch",
			Name:      "tool_execution_duration_seconds",
			Help:      "Duration of tool executions in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"integration_type"},
	)

	// DispatchErrorsTotal counts rejected or failed dispatches by error kind.
	DispatchErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ekaya_connect",
			Subsystem: "dispatch",
			Name:      "errors_total",
			Help:      "Total number of dispatch errors by kind",
		},
		[]string{"kind"},
	)

	// IntegrationsDisconnectedTotal counts automatic disconnects after credential failures.
	IntegrationsDisconnectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ekaya_connect",
			Subsystem: "integrations",
			Name:      "disconnected_total",
			Help:      "Total number of integrations disabled after credential failures",
		},
		[]string{"integration_type"},
	)

	// HTTPRequestsTotal tracks outbound connector HTTP requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ekaya_connect",
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of outbound HTTP requests",
		},
		[]string{"connector", "method", "status_code"},
	)

	// HTTPRequestDuration tracks outbound connector HTTP request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ekaya_connect",
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound HTTP requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"connector"},
	)

	// RateLimitHits counts requests rejected by the dispatch rate limiter.
	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ekaya_connect",
			Subsystem: "ratelimit",
			Name:      "hits_total",
			Help:      "Total number of dispatch requests rejected by rate limiting",
		},
	)

	// AuditEventsDropped counts audit events that could not be written.
	AuditEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ekaya_connect",
			Subsystem: "audit",
			Name:      "events_dropped_total",
			Help:      "Total number of audit events that failed to persist by sink",
		},
		[]string{"sink"},
	)
)

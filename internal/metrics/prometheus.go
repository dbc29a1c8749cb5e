package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_api_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Governance metrics
	evaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_api_evaluations_total",
			Help: "Total number of action evaluations by decision",
		},
		[]string{"decision"},
	)

	approvalsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_api_approvals_created_total",
			Help: "Total number of approvals created by priority class",
		},
		[]string{"priority"},
	)

	approvalsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_api_approvals_resolved_total",
			Help: "Total number of approvals resolved by outcome",
		},
		[]string{"outcome"},
	)

	// Credential store metrics
	tokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_api_token_refreshes_total",
			Help: "Total number of provider token refresh attempts by result",
		},
		[]string{"result"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint string, statusCode int, durationSeconds float64) {
	status := "unknown"
	if statusCode >= 200 && statusCode < 300 {
		status = "2xx"
	} else if statusCode >= 300 && statusCode < 400 {
		status = "3xx"
	} else if statusCode >= 400 && statusCode < 500 {
		status = "4xx"
	} else if statusCode >= 500 {
		status = "5xx"
	}

	httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordEvaluation records an action evaluation decision ("proceed" or "held")
func RecordEvaluation(decision string) {
	evaluationsTotal.WithLabelValues(decision).Inc()
}

// RecordApprovalCreated records a newly created approval
func RecordApprovalCreated(priority string) {
	approvalsCreatedTotal.WithLabelValues(priority).Inc()
}

// RecordApprovalResolved records a settled approval by outcome
func RecordApprovalResolved(outcome string) {
	approvalsResolvedTotal.WithLabelValues(outcome).Inc()
}

// RecordTokenRefresh records a provider token refresh attempt ("success" or "failure")
func RecordTokenRefresh(result string) {
	tokenRefreshesTotal.WithLabelValues(result).Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics
var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "points_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "points_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})

	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "points_mutations_total",
		Help: "Balance mutations applied through the engine, by type and outcome",
	}, []string{"type", "outcome"})

	sweepExpiredAccounts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "points_sweep_expired_accounts_total",
		Help: "Accounts whose bonus pool was zeroed by the expiry sweep",
	})

	sweepExpiredPoints = promauto.NewCounter(prometheus.CounterOpts{
		Name: "points_sweep_expired_points_total",
		Help: "Total bonus points zeroed by the expiry sweep",
	})
)

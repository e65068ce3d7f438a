package handlers

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"path", "method", "status"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"path"},
	)
	predictionCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Successful predictions by label",
		}, []string{"label"},
	)
	analysisErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_errors_total",
			Help: "Failed predictions by error kind",
		}, []string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(requestCount, requestDuration, predictionCount, analysisErrors)
}

func observeOutcome(o Outcome) {
	if o.Err != nil {
		analysisErrors.WithLabelValues(o.Err.Kind.String()).Inc()
		return
	}
	predictionCount.WithLabelValues(o.Prediction.Prediction).Inc()
}

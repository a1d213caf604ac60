package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type MetricsService interface {
	GetRegistry() *prometheus.Registry
	IncRPCRequests(method string)
	ObserveRPCRequestDuration(method string, duration float64)
	IncRPCEndpointFailure(method string)
	IncRPCEndpointSuccess(method string)
	IncRPCRetry(method, layer string)
	ObserveBatchSize(resource string, size int)
	IncRowsExtracted(table string, count int)
}

// metricsService handles all metrics for the sklik-extractor
type metricsService struct {
	registry *prometheus.Registry

	// RPC Metrics (transport-level)
	rpcRequestsTotal     *prometheus.CounterVec
	rpcRequestsDuration  *prometheus.SummaryVec
	rpcEndpointFailures  *prometheus.CounterVec
	rpcEndpointSuccesses *prometheus.CounterVec
	rpcRetriesTotal      *prometheus.CounterVec

	// Extraction Metrics
	batchSize     *prometheus.HistogramVec
	rowsExtracted *prometheus.CounterVec
}

func NewMetricsService() MetricsService {
	m := &metricsService{
		registry: prometheus.NewRegistry(),
	}

	m.rpcRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sklik_rpc_requests_total",
		Help: "Total number of Sklik API requests",
	}, []string{"method"})

	m.rpcRequestsDuration = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Name: "sklik_rpc_requests_duration_seconds",
		Help: "Duration of Sklik API requests in seconds",
	}, []string{"method"})

	m.rpcEndpointFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sklik_rpc_endpoint_failures_total",
		Help: "Total number of failed Sklik API calls",
	}, []string{"method"})

	m.rpcEndpointSuccesses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sklik_rpc_endpoint_successes_total",
		Help: "Total number of successful Sklik API calls",
	}, []string{"method"})

	m.rpcRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sklik_rpc_retries_total",
		Help: "Total number of retried Sklik API calls per retry layer",
	}, []string{"method", "layer"})

	m.batchSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sklik_report_batch_size",
		Help:    "Computed batch size per report resource",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"resource"})

	m.rowsExtracted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sklik_rows_extracted_total",
		Help: "Total number of rows written per output table",
	}, []string{"table"})

	m.registry.MustRegister(
		m.rpcRequestsTotal,
		m.rpcRequestsDuration,
		m.rpcEndpointFailures,
		m.rpcEndpointSuccesses,
		m.rpcRetriesTotal,
		m.batchSize,
		m.rowsExtracted,
	)

	return m
}

func (m *metricsService) GetRegistry() *prometheus.Registry {
	return m.registry
}

func (m *metricsService) IncRPCRequests(method string) {
	m.rpcRequestsTotal.WithLabelValues(method).Inc()
}

func (m *metricsService) ObserveRPCRequestDuration(method string, duration float64) {
	m.rpcRequestsDuration.WithLabelValues(method).Observe(duration)
}

func (m *metricsService) IncRPCEndpointFailure(method string) {
	m.rpcEndpointFailures.WithLabelValues(method).Inc()
}

func (m *metricsService) IncRPCEndpointSuccess(method string) {
	m.rpcEndpointSuccesses.WithLabelValues(method).Inc()
}

func (m *metricsService) IncRPCRetry(method, layer string) {
	m.rpcRetriesTotal.WithLabelValues(method, layer).Inc()
}

func (m *metricsService) ObserveBatchSize(resource string, size int) {
	m.batchSize.WithLabelValues(resource).Observe(float64(size))
}

func (m *metricsService) IncRowsExtracted(table string, count int) {
	m.rowsExtracted.WithLabelValues(table).Add(float64(count))
}

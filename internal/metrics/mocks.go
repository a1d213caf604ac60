package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
)

type MockMetricsService struct {
	mock.Mock
}

var _ MetricsService = (*MockMetricsService)(nil)

func (m *MockMetricsService) GetRegistry() *prometheus.Registry {
	args := m.Called()
	return args.Get(0).(*prometheus.Registry)
}

func (m *MockMetricsService) IncRPCRequests(method string) {
	m.Called(method)
}

func (m *MockMetricsService) ObserveRPCRequestDuration(method string, duration float64) {
	m.Called(method, duration)
}

func (m *MockMetricsService) IncRPCEndpointFailure(method string) {
	m.Called(method)
}

func (m *MockMetricsService) IncRPCEndpointSuccess(method string) {
	m.Called(method)
}

func (m *MockMetricsService) IncRPCRetry(method, layer string) {
	m.Called(method, layer)
}

func (m *MockMetricsService) ObserveBatchSize(resource string, size int) {
	m.Called(resource, size)
}

func (m *MockMetricsService) IncRowsExtracted(table string, count int) {
	m.Called(table, count)
}

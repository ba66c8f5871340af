package stats

import "github.com/stretchr/testify/mock"

// MockStatsUpdater records calls for the NumActive* gauges and the
// NumMessagesSent/NumJoinDenied counters without touching expvar.
type MockStatsUpdater struct {
	mock.Mock
}

var _ StatsProvider = (*MockStatsUpdater)(nil)

func (m *MockStatsUpdater) RegisterMetric(name string) {
	m.Called(name)
}

func (m *MockStatsUpdater) Incr(name string) {
	m.Called(name)
}

func (m *MockStatsUpdater) Decr(name string) {
	m.Called(name)
}

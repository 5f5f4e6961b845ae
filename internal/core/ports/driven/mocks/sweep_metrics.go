package mocks

import (
	"sync"
	"time"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
	"github.com/custodia-labs/commerce-connect/internal/core/ports/driven"
)

var _ driven.SweepMetrics = (*MockSweepMetrics)(nil)

// MockSweepMetrics counts observations.
type MockSweepMetrics struct {
	mu          sync.Mutex
	Outcomes    map[string]int
	Sweeps      []*domain.SweepSummary
	SweepErrors int
}

// NewMockSweepMetrics creates an empty recorder.
func NewMockSweepMetrics() *MockSweepMetrics {
	return &MockSweepMetrics{Outcomes: make(map[string]int)}
}

func (m *MockSweepMetrics) ObserveRefresh(platform domain.Platform, outcome string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Outcomes[outcome]++
}

func (m *MockSweepMetrics) ObserveSweep(summary *domain.SweepSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sweeps = append(m.Sweeps, summary)
}

func (m *MockSweepMetrics) ObserveSweepError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SweepErrors++
}

// Outcome returns the count recorded for outcome.
func (m *MockSweepMetrics) Outcome(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Outcomes[outcome]
}

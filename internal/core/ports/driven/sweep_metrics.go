package driven

import (
	"time"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
)

// SweepMetrics records refresh activity. Services fall back to
// NopSweepMetrics when none is configured.
type SweepMetrics interface {
	// ObserveRefresh records one refresh attempt. outcome is "success",
	// "transient" or "terminal".
	ObserveRefresh(platform domain.Platform, outcome string, duration time.Duration)

	// ObserveSweep records a finished sweep.
	ObserveSweep(summary *domain.SweepSummary)

	// ObserveSweepError records a sweep that failed before processing records.
	ObserveSweepError()
}

// NopSweepMetrics discards everything.
type NopSweepMetrics struct{}

func (NopSweepMetrics) ObserveRefresh(domain.Platform, string, time.Duration) {}
func (NopSweepMetrics) ObserveSweep(*domain.SweepSummary)                     {}
func (NopSweepMetrics) ObserveSweepError()                                    {}

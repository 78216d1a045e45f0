package explorer

import (
	"github.com/ethereum-optimism/infra/op-test-explorer/metrics"
	"github.com/ethereum-optimism/infra/op-test-explorer/types"
)

// MetricsReporter is responsible for reporting metrics from run summaries.
type MetricsReporter interface {
	ReportResults(summary *types.RunSummary)
}

// DefaultMetricsReporter implements the MetricsReporter interface.
type DefaultMetricsReporter struct{}

// NewDefaultMetricsReporter creates a new DefaultMetricsReporter.
func NewDefaultMetricsReporter() *DefaultMetricsReporter {
	return &DefaultMetricsReporter{}
}

// ReportResults records the per-state totals and duration of a run.
func (r *DefaultMetricsReporter) ReportResults(summary *types.RunSummary) {
	if summary == nil {
		return
	}
	metrics.RecordRunSummary(summary.Stats(), summary.Duration)
}

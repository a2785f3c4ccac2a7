package resolvgo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives operation timings from the Engine. Implementations
// must be safe for concurrent use.
type MetricsCollector interface {
	// RecordIngest records a single-entity ingest with its candidate count.
	RecordIngest(candidates int, duration time.Duration, err error)

	// RecordBatchIngest records a batch ingest of n entities.
	RecordBatchIngest(n int, duration time.Duration, err error)

	// RecordMerge records an explicit merge.
	RecordMerge(duration time.Duration, err error)

	// RecordSplit records a split.
	RecordSplit(duration time.Duration, err error)

	// RecordResolve records an adjudication decision.
	RecordResolve(duration time.Duration, err error)

	// RecordExplain records an explanation lookup.
	RecordExplain(duration time.Duration, err error)
}

// NoopMetricsCollector discards all metrics.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordIngest(candidates int, duration time.Duration, err error) {}
func (NoopMetricsCollector) RecordBatchIngest(n int, duration time.Duration, err error)     {}
func (NoopMetricsCollector) RecordMerge(duration time.Duration, err error)                  {}
func (NoopMetricsCollector) RecordSplit(duration time.Duration, err error)                  {}
func (NoopMetricsCollector) RecordResolve(duration time.Duration, err error)                {}
func (NoopMetricsCollector) RecordExplain(duration time.Duration, err error)                {}

// BasicMetricsCollector counts operations and accumulates latencies using
// atomics. Safe for concurrent use.
type BasicMetricsCollector struct {
	ingestCount      atomic.Int64
	ingestErrors     atomic.Int64
	ingestDurationNs atomic.Int64
	candidateCount   atomic.Int64

	batchCount      atomic.Int64
	batchErrors     atomic.Int64
	batchEntities   atomic.Int64
	batchDurationNs atomic.Int64

	mergeCount      atomic.Int64
	mergeErrors     atomic.Int64
	mergeDurationNs atomic.Int64

	splitCount      atomic.Int64
	splitErrors     atomic.Int64
	splitDurationNs atomic.Int64

	resolveCount      atomic.Int64
	resolveErrors     atomic.Int64
	resolveDurationNs atomic.Int64

	explainCount      atomic.Int64
	explainErrors     atomic.Int64
	explainDurationNs atomic.Int64
}

// NewBasicMetricsCollector creates a BasicMetricsCollector.
func NewBasicMetricsCollector() *BasicMetricsCollector {
	return &BasicMetricsCollector{}
}

func (m *BasicMetricsCollector) RecordIngest(candidates int, duration time.Duration, err error) {
	m.ingestCount.Add(1)
	m.ingestDurationNs.Add(duration.Nanoseconds())
	m.candidateCount.Add(int64(candidates))

	if err != nil {
		m.ingestErrors.Add(1)
	}
}

func (m *BasicMetricsCollector) RecordBatchIngest(n int, duration time.Duration, err error) {
	m.batchCount.Add(1)
	m.batchEntities.Add(int64(n))
	m.batchDurationNs.Add(duration.Nanoseconds())

	if err != nil {
		m.batchErrors.Add(1)
	}
}

func (m *BasicMetricsCollector) RecordMerge(duration time.Duration, err error) {
	m.mergeCount.Add(1)
	m.mergeDurationNs.Add(duration.Nanoseconds())

	if err != nil {
		m.mergeErrors.Add(1)
	}
}

func (m *BasicMetricsCollector) RecordSplit(duration time.Duration, err error) {
	m.splitCount.Add(1)
	m.splitDurationNs.Add(duration.Nanoseconds())

	if err != nil {
		m.splitErrors.Add(1)
	}
}

func (m *BasicMetricsCollector) RecordResolve(duration time.Duration, err error) {
	m.resolveCount.Add(1)
	m.resolveDurationNs.Add(duration.Nanoseconds())

	if err != nil {
		m.resolveErrors.Add(1)
	}
}

func (m *BasicMetricsCollector) RecordExplain(duration time.Duration, err error) {
	m.explainCount.Add(1)
	m.explainDurationNs.Add(duration.Nanoseconds())

	if err != nil {
		m.explainErrors.Add(1)
	}
}

// Stats is a point-in-time snapshot of collected metrics.
type Stats struct {
	IngestCount        int64
	IngestErrors       int64
	AvgIngestDuration  time.Duration
	TotalCandidates    int64
	BatchCount         int64
	BatchErrors        int64
	BatchEntities      int64
	AvgBatchDuration   time.Duration
	MergeCount         int64
	MergeErrors        int64
	AvgMergeDuration   time.Duration
	SplitCount         int64
	SplitErrors        int64
	AvgSplitDuration   time.Duration
	ResolveCount       int64
	ResolveErrors      int64
	AvgResolveDuration time.Duration
	ExplainCount       int64
	ExplainErrors      int64
	AvgExplainDuration time.Duration
}

// GetStats returns a snapshot of the collected metrics.
func (m *BasicMetricsCollector) GetStats() Stats {
	return Stats{
		IngestCount:        m.ingestCount.Load(),
		IngestErrors:       m.ingestErrors.Load(),
		AvgIngestDuration:  avgDuration(m.ingestDurationNs.Load(), m.ingestCount.Load()),
		TotalCandidates:    m.candidateCount.Load(),
		BatchCount:         m.batchCount.Load(),
		BatchErrors:        m.batchErrors.Load(),
		BatchEntities:      m.batchEntities.Load(),
		AvgBatchDuration:   avgDuration(m.batchDurationNs.Load(), m.batchCount.Load()),
		MergeCount:         m.mergeCount.Load(),
		MergeErrors:        m.mergeErrors.Load(),
		AvgMergeDuration:   avgDuration(m.mergeDurationNs.Load(), m.mergeCount.Load()),
		SplitCount:         m.splitCount.Load(),
		SplitErrors:        m.splitErrors.Load(),
		AvgSplitDuration:   avgDuration(m.splitDurationNs.Load(), m.splitCount.Load()),
		ResolveCount:       m.resolveCount.Load(),
		ResolveErrors:      m.resolveErrors.Load(),
		AvgResolveDuration: avgDuration(m.resolveDurationNs.Load(), m.resolveCount.Load()),
		ExplainCount:       m.explainCount.Load(),
		ExplainErrors:      m.explainErrors.Load(),
		AvgExplainDuration: avgDuration(m.explainDurationNs.Load(), m.explainCount.Load()),
	}
}

func avgDuration(totalNs, count int64) time.Duration {
	if count == 0 {
		return 0
	}
	return time.Duration(totalNs / count)
}

var (
	_ MetricsCollector = NoopMetricsCollector{}
	_ MetricsCollector = (*BasicMetricsCollector)(nil)
)

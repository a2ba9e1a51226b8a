package testrun

import (
	"sort"
	"sync"
	"time"

	"github.com/UXPLIMA/uxrcoder-hub/internal/types"
)

// Metrics collects queue, retry, and latency telemetry for the orchestrator.
type Metrics struct {
	mu sync.Mutex

	enqueued         int64
	dispatched       int64
	retries          int64
	staleEvents      int64
	futureEvents     int64
	dispatchTimeouts int64
	execTimeouts     int64
	baselineFailures int64
	persistErrors    int64
	finalized        map[types.RunStatus]int64

	queueWait   []time.Duration // enqueue (or retry schedule) -> dispatch
	runDuration []time.Duration // dispatch -> terminal
	maxSamples  int

	recent    []RecentRun // finalized runs, oldest first
	maxRecent int

	startTime time.Time
}

// RecentRun is one finalized run in the metrics window.
type RecentRun struct {
	RunID      string          `json:"runId"`
	Scenario   string          `json:"scenario,omitempty"`
	Status     types.RunStatus `json:"status"`
	Attempts   int             `json:"attempts"`
	DurationMs int64           `json:"durationMs"`
	Reason     string          `json:"reason,omitempty"`
	FinishedAt time.Time       `json:"finishedAt"`
}

// NewMetrics creates a collector keeping the last 500 latency samples and
// the last 100 finalized runs.
func NewMetrics() *Metrics {
	return &Metrics{
		finalized:  make(map[types.RunStatus]int64),
		maxSamples: 500,
		maxRecent:  100,
		startTime:  time.Now(),
	}
}

// RecordEnqueued counts a run entering the queue.
func (m *Metrics) RecordEnqueued() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueued++
}

// RecordDispatched counts a dispatch and samples the queue wait.
func (m *Metrics) RecordDispatched(queueWait time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatched++
	m.queueWait = appendBounded(m.queueWait, queueWait, m.maxSamples)
}

// RecordRetry counts a retry being scheduled.
func (m *Metrics) RecordRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}

// RecordStaleEvent counts an ignored stale-attempt event.
func (m *Metrics) RecordStaleEvent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staleEvents++
}

// RecordFutureEvent counts a rejected future-attempt event.
func (m *Metrics) RecordFutureEvent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.futureEvents++
}

// RecordDispatchTimeout counts a run that never acked dispatch.
func (m *Metrics) RecordDispatchTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatchTimeouts++
}

// RecordExecTimeout counts a run aborted for exceeding its execution window.
func (m *Metrics) RecordExecTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execTimeouts++
}

// RecordBaselineFailure counts a failed visual-baseline assertion.
func (m *Metrics) RecordBaselineFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baselineFailures++
}

// RecordPersistError counts a report/event persistence failure. These never
// abort the run lifecycle, so the counter is the only trace besides logs.
func (m *Metrics) RecordPersistError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persistErrors++
}

// RecordFinalized counts a terminal transition and samples run duration.
func (m *Metrics) RecordFinalized(rec RecentRun, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalized[rec.Status]++
	m.runDuration = appendBounded(m.runDuration, duration, m.maxSamples)
	if len(m.recent) >= m.maxRecent {
		m.recent = m.recent[1:]
	}
	m.recent = append(m.recent, rec)
}

// Snapshot is the metrics endpoint payload. QueueDepth and ActiveRun come
// from the manager at snapshot time.
type Snapshot struct {
	Timestamp     time.Time `json:"timestamp"`
	UptimeSeconds float64   `json:"uptimeSeconds"`
	QueueDepth    int       `json:"queueDepth"`
	ActiveRun     string    `json:"activeRun,omitempty"`

	Enqueued         int64                     `json:"enqueued"`
	Dispatched       int64                     `json:"dispatched"`
	Retries          int64                     `json:"retries"`
	StaleEvents      int64                     `json:"staleEvents"`
	FutureEvents     int64                     `json:"futureEvents"`
	DispatchTimeouts int64                     `json:"dispatchTimeouts"`
	ExecTimeouts     int64                     `json:"execTimeouts"`
	BaselineFailures int64                     `json:"baselineFailures"`
	PersistErrors    int64                     `json:"persistErrors,omitempty"`
	Finalized        map[types.RunStatus]int64 `json:"finalized"`

	QueueWait   LatencyStats `json:"queueWait"`
	RunDuration LatencyStats `json:"runDuration"`

	RecentRuns []RecentRun `json:"recentRuns,omitempty"`
}

// LatencyStats holds percentile data in milliseconds.
type LatencyStats struct {
	Count int     `json:"count"`
	MinMS float64 `json:"minMs"`
	P50MS float64 `json:"p50Ms"`
	P95MS float64 `json:"p95Ms"`
	MaxMS float64 `json:"maxMs"`
	AvgMS float64 `json:"avgMs"`
}

// TakeSnapshot builds a point-in-time view. limit > 0 caps RecentRuns,
// newest first.
func (m *Metrics) TakeSnapshot(queueDepth int, activeRun string, limit int) Snapshot {
	m.mu.Lock()
	finalized := make(map[types.RunStatus]int64, len(m.finalized))
	for k, v := range m.finalized {
		finalized[k] = v
	}
	queueWait := append([]time.Duration(nil), m.queueWait...)
	runDuration := append([]time.Duration(nil), m.runDuration...)
	recent := append([]RecentRun(nil), m.recent...)
	snap := Snapshot{
		Timestamp:        time.Now(),
		UptimeSeconds:    time.Since(m.startTime).Seconds(),
		QueueDepth:       queueDepth,
		ActiveRun:        activeRun,
		Enqueued:         m.enqueued,
		Dispatched:       m.dispatched,
		Retries:          m.retries,
		StaleEvents:      m.staleEvents,
		FutureEvents:     m.futureEvents,
		DispatchTimeouts: m.dispatchTimeouts,
		ExecTimeouts:     m.execTimeouts,
		BaselineFailures: m.baselineFailures,
		PersistErrors:    m.persistErrors,
		Finalized:        finalized,
	}
	m.mu.Unlock()

	snap.QueueWait = latencyStats(queueWait)
	snap.RunDuration = latencyStats(runDuration)

	// Newest first for the endpoint.
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	if limit > 0 && limit < len(recent) {
		recent = recent[:limit]
	}
	snap.RecentRuns = recent
	return snap
}

func appendBounded(samples []time.Duration, d time.Duration, max int) []time.Duration {
	if len(samples) >= max {
		samples = samples[1:]
	}
	return append(samples, d)
}

func latencyStats(samples []time.Duration) LatencyStats {
	if len(samples) == 0 {
		return LatencyStats{}
	}
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	p50 := sorted[minInt(n-1, n*50/100)]
	p95 := sorted[minInt(n-1, n*95/100)]

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	toMS := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
	return LatencyStats{
		Count: n,
		MinMS: toMS(sorted[0]),
		P50MS: toMS(p50),
		P95MS: toMS(p95),
		MaxMS: toMS(sorted[n-1]),
		AvgMS: toMS(sum / time.Duration(n)),
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

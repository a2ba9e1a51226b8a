package rpc

import (
	"math"
	"runtime"
	"sort"
	"sync"
	"time"
)

const (
	maxLatencySamples = 500
	maxSlowRequests   = 50
	slowThreshold     = 250 * time.Millisecond
)

// SlowRequest captures one request that crossed the slow threshold.
type SlowRequest struct {
	Route     string    `json:"route"`
	LatencyMS float64   `json:"latencyMs"`
	Status    int       `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Metrics collects per-route request telemetry for the debug profile.
type Metrics struct {
	mu sync.RWMutex

	counts map[string]int64
	// errors counts 5xx responses; latency keeps bounded samples per route.
	errors  map[string]int64
	latency map[string][]time.Duration

	slowCounts map[string]int64
	recentSlow []SlowRequest

	startTime time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{
		counts:     make(map[string]int64),
		errors:     make(map[string]int64),
		latency:    make(map[string][]time.Duration),
		slowCounts: make(map[string]int64),
		startTime:  time.Now(),
	}
}

// RecordRequest records one served request under its route key.
func (m *Metrics) RecordRequest(route string, status int, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counts[route]++
	if status >= 500 {
		m.errors[route]++
	}

	samples := m.latency[route]
	if len(samples) >= maxLatencySamples {
		samples = samples[1:]
	}
	m.latency[route] = append(samples, latency)

	if latency >= slowThreshold {
		m.slowCounts[route]++
		if len(m.recentSlow) >= maxSlowRequests {
			m.recentSlow = m.recentSlow[1:]
		}
		m.recentSlow = append(m.recentSlow, SlowRequest{
			Route:     route,
			LatencyMS: float64(latency) / float64(time.Millisecond),
			Status:    status,
			Timestamp: time.Now(),
		})
	}
}

// RouteMetrics is one route's aggregate in a snapshot.
type RouteMetrics struct {
	Route      string       `json:"route"`
	TotalCount int64        `json:"totalCount"`
	ErrorCount int64        `json:"errorCount"`
	SlowCount  int64        `json:"slowCount,omitempty"`
	Latency    LatencyStats `json:"latency"`
}

// LatencyStats holds latency percentiles in milliseconds.
type LatencyStats struct {
	MinMS float64 `json:"minMs"`
	P50MS float64 `json:"p50Ms"`
	P95MS float64 `json:"p95Ms"`
	MaxMS float64 `json:"maxMs"`
	AvgMS float64 `json:"avgMs"`
}

// RequestSnapshot is a point-in-time view of the request metrics.
type RequestSnapshot struct {
	Timestamp     time.Time      `json:"timestamp"`
	UptimeSeconds float64        `json:"uptimeSeconds"`
	Routes        []RouteMetrics `json:"routes"`
	RecentSlow    []SlowRequest  `json:"recentSlow,omitempty"`

	MemoryAllocMB  uint64 `json:"memoryAllocMb"`
	GoroutineCount int    `json:"goroutineCount"`
}

// Snapshot copies the counters under a short critical section and computes
// percentiles outside it.
func (m *Metrics) Snapshot() RequestSnapshot {
	m.mu.RLock()
	counts := make(map[string]int64, len(m.counts))
	errors := make(map[string]int64, len(m.errors))
	slow := make(map[string]int64, len(m.slowCounts))
	latency := make(map[string][]time.Duration, len(m.latency))
	for route, c := range m.counts {
		counts[route] = c
		errors[route] = m.errors[route]
		slow[route] = m.slowCounts[route]
		if samples := m.latency[route]; len(samples) > 0 {
			latency[route] = append([]time.Duration(nil), samples...)
		}
	}
	recentSlow := make([]SlowRequest, len(m.recentSlow))
	copy(recentSlow, m.recentSlow)
	m.mu.RUnlock()

	routes := make([]RouteMetrics, 0, len(counts))
	for route, count := range counts {
		rm := RouteMetrics{
			Route:      route,
			TotalCount: count,
			ErrorCount: errors[route],
			SlowCount:  slow[route],
		}
		if samples := latency[route]; len(samples) > 0 {
			rm.Latency = computeLatencyStats(samples)
		}
		routes = append(routes, rm)
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].TotalCount != routes[j].TotalCount {
			return routes[i].TotalCount > routes[j].TotalCount
		}
		return routes[i].Route < routes[j].Route
	})

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptime := math.Ceil(time.Since(m.startTime).Seconds())
	if uptime == 0 {
		uptime = 1
	}
	return RequestSnapshot{
		Timestamp:      time.Now(),
		UptimeSeconds:  uptime,
		Routes:         routes,
		RecentSlow:     recentSlow,
		MemoryAllocMB:  memStats.Alloc / 1024 / 1024,
		GoroutineCount: runtime.NumGoroutine(),
	}
}

func computeLatencyStats(samples []time.Duration) LatencyStats {
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	p50 := min(n-1, n*50/100)
	p95 := min(n-1, n*95/100)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	toMS := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
	return LatencyStats{
		MinMS: toMS(sorted[0]),
		P50MS: toMS(sorted[p50]),
		P95MS: toMS(sorted[p95]),
		MaxMS: toMS(sorted[n-1]),
		AvgMS: toMS(sum / time.Duration(n)),
	}
}

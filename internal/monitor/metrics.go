// Package monitor collects control-loop metrics and forwards risk alerts to sinks.
package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const defaultWindow = 1000

// SystemMetrics tracks control-loop, execution, storage and API performance. Counters
// are atomics so the loop bumps them while the API reads snapshots.
type SystemMetrics struct {
	TickLatency     *LatencyHistogram
	OrderLatency    *LatencyHistogram
	StrategyLatency *LatencyHistogram
	DBLatency       *LatencyHistogram
	APILatency      *LatencyHistogram

	ticks     atomic.Uint64
	signals   atomic.Uint64
	executed  atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
	alerts    atomic.Uint64
	loopErrs  atomic.Uint64
	apiCalls  atomic.Uint64
	apiFailed atomic.Uint64

	lastTick atomic.Int64 // unix nanos, 0 before the first tick
	started  time.Time
}

func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		TickLatency:     NewLatencyHistogram(defaultWindow),
		OrderLatency:    NewLatencyHistogram(defaultWindow),
		StrategyLatency: NewLatencyHistogram(defaultWindow),
		DBLatency:       NewLatencyHistogram(defaultWindow),
		APILatency:      NewLatencyHistogram(defaultWindow),
		started:         time.Now(),
	}
}

// LatencyHistogram is a fixed-size ring of millisecond samples. Once full, each new
// sample overwrites the oldest.
type LatencyHistogram struct {
	mu     sync.Mutex
	ring   []float64
	next   int
	filled bool
	stats  *LatencyStats
}

// NewLatencyHistogram keeps the last size samples; size <= 0 uses 1000.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = defaultWindow
	}
	return &LatencyHistogram{ring: make([]float64, size)}
}

// Record adds a sample in milliseconds.
func (h *LatencyHistogram) Record(ms float64) {
	h.mu.Lock()
	h.ring[h.next] = ms
	h.next++
	if h.next == len(h.ring) {
		h.next = 0
		h.filled = true
	}
	h.stats = nil
	h.mu.Unlock()
}

func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d) / float64(time.Millisecond))
}

func (h *LatencyHistogram) samples() []float64 {
	if h.filled {
		return append([]float64(nil), h.ring...)
	}
	return append([]float64(nil), h.ring[:h.next]...)
}

// Stats summarizes the current window. The result is cached until the next Record.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stats != nil {
		return *h.stats
	}

	values := h.samples()
	if len(values) == 0 {
		return LatencyStats{}
	}
	sort.Float64s(values)

	var sum float64
	for _, v := range values {
		sum += v
	}
	st := LatencyStats{
		Min:   values[0],
		Max:   values[len(values)-1],
		Avg:   sum / float64(len(values)),
		P50:   quantile(values, 0.50),
		P95:   quantile(values, 0.95),
		P99:   quantile(values, 0.99),
		Count: len(values),
	}
	h.stats = &st
	return st
}

// quantile picks the sample at index floor(n*q) of sorted values.
func quantile(sorted []float64, q float64) float64 {
	i := int(float64(len(sorted)) * q)
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}

type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// RecordTick counts a finished loop iteration.
func (m *SystemMetrics) RecordTick(at time.Time) {
	m.ticks.Add(1)
	m.lastTick.Store(at.UnixNano())
}

func (m *SystemMetrics) AddSignals(n int) { m.signals.Add(uint64(n)) }
func (m *SystemMetrics) AddAlerts(n int)  { m.alerts.Add(uint64(n)) }

// IncrementExecuted counts a filled order.
func (m *SystemMetrics) IncrementExecuted() { m.executed.Add(1) }

// IncrementFailed counts an order that failed at execution.
func (m *SystemMetrics) IncrementFailed() { m.failed.Add(1) }

// IncrementRejected counts an order refused by admission control.
func (m *SystemMetrics) IncrementRejected() { m.rejected.Add(1) }

// IncrementErrors counts a recovered loop error.
func (m *SystemMetrics) IncrementErrors() { m.loopErrs.Add(1) }

func (m *SystemMetrics) IncrementAPI()       { m.apiCalls.Add(1) }
func (m *SystemMetrics) IncrementAPIErrors() { m.apiFailed.Add(1) }

// MetricsSnapshot is a point-in-time copy of SystemMetrics plus runtime memory figures.
type MetricsSnapshot struct {
	TickLatency      LatencyStats `json:"tick_latency"`
	OrderLatency     LatencyStats `json:"order_latency"`
	StrategyLatency  LatencyStats `json:"strategy_latency"`
	DBLatency        LatencyStats `json:"db_latency"`
	APILatency       LatencyStats `json:"api_latency"`
	TicksProcessed   uint64       `json:"ticks_processed"`
	SignalsGenerated uint64       `json:"signals_generated"`
	OrdersExecuted   uint64       `json:"orders_executed"`
	OrdersFailed     uint64       `json:"orders_failed"`
	OrdersRejected   uint64       `json:"orders_rejected"`
	AlertsRaised     uint64       `json:"alerts_raised"`
	ErrorsCount      uint64       `json:"errors_count"`
	APIRequests      uint64       `json:"api_requests"`
	APIErrors        uint64       `json:"api_errors"`
	LastTick         time.Time    `json:"last_tick"`
	Uptime           string       `json:"uptime"`
	Goroutines       int          `json:"goroutines"`
	HeapAlloc        uint64       `json:"heap_alloc_bytes"`
	HeapSys          uint64       `json:"heap_sys_bytes"`
	Timestamp        time.Time    `json:"timestamp"`
}

func (m *SystemMetrics) Snapshot() MetricsSnapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	var last time.Time
	if ns := m.lastTick.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return MetricsSnapshot{
		TickLatency:      m.TickLatency.Stats(),
		OrderLatency:     m.OrderLatency.Stats(),
		StrategyLatency:  m.StrategyLatency.Stats(),
		DBLatency:        m.DBLatency.Stats(),
		APILatency:       m.APILatency.Stats(),
		TicksProcessed:   m.ticks.Load(),
		SignalsGenerated: m.signals.Load(),
		OrdersExecuted:   m.executed.Load(),
		OrdersFailed:     m.failed.Load(),
		OrdersRejected:   m.rejected.Load(),
		AlertsRaised:     m.alerts.Load(),
		ErrorsCount:      m.loopErrs.Load(),
		APIRequests:      m.apiCalls.Load(),
		APIErrors:        m.apiFailed.Load(),
		LastTick:         last,
		Uptime:           time.Since(m.started).Truncate(time.Second).String(),
		Goroutines:       runtime.NumGoroutine(),
		HeapAlloc:        mem.HeapAlloc,
		HeapSys:          mem.HeapSys,
		Timestamp:        time.Now(),
	}
}

// Timer measures one operation into a histogram. A nil histogram only measures.
type Timer struct {
	start time.Time
	h     *LatencyHistogram
}

func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{start: time.Now(), h: h}
}

// Stop records and returns the elapsed time.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.h != nil {
		t.h.RecordDuration(elapsed)
	}
	return elapsed
}

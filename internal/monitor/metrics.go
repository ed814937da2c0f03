package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks engine cycle performance, file I/O health and API
// traffic.
type SystemMetrics struct {
	mu sync.RWMutex

	// Latency histograms
	IngestLatency   *LatencyHistogram
	EvaluateLatency *LatencyHistogram
	DBLatency       *LatencyHistogram
	APILatency      *LatencyHistogram

	// Counters
	ingestCycles   uint64
	evaluateCycles uint64
	filesRead      uint64
	filesUnchanged uint64
	filesSkipped   uint64
	filesNotReady  uint64
	ioRetries      uint64
	protocolErrors uint64
	writeBacks     uint64
	errorsCount    uint64
	apiRequests    uint64
	apiErrors      uint64

	// Registry gauges (updated after each evaluation).
	accounts     int
	onlineCount  int
	pendingCount int

	lastUpdate time.Time
}

// LatencyHistogram tracks latency samples with sliding window.
// Stats are computed lazily, only when samples changed.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		IngestLatency:   NewLatencyHistogram(500),
		EvaluateLatency: NewLatencyHistogram(500),
		DBLatency:       NewLatencyHistogram(1000),
		APILatency:      NewLatencyHistogram(1000),
		lastUpdate:      time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

func (m *SystemMetrics) IncrementIngestCycles()   { atomic.AddUint64(&m.ingestCycles, 1) }
func (m *SystemMetrics) IncrementEvaluateCycles() { atomic.AddUint64(&m.evaluateCycles, 1) }
func (m *SystemMetrics) IncrementFilesRead()      { atomic.AddUint64(&m.filesRead, 1) }
func (m *SystemMetrics) IncrementFilesUnchanged() { atomic.AddUint64(&m.filesUnchanged, 1) }
func (m *SystemMetrics) IncrementFilesNotReady()  { atomic.AddUint64(&m.filesNotReady, 1) }
func (m *SystemMetrics) IncrementWriteBacks()     { atomic.AddUint64(&m.writeBacks, 1) }
func (m *SystemMetrics) IncrementErrors()         { atomic.AddUint64(&m.errorsCount, 1) }
func (m *SystemMetrics) IncrementAPI()            { atomic.AddUint64(&m.apiRequests, 1) }
func (m *SystemMetrics) IncrementAPIErrors()      { atomic.AddUint64(&m.apiErrors, 1) }

// AddProtocolErrors counts malformed lines skipped while parsing.
func (m *SystemMetrics) AddProtocolErrors(n int) {
	if n > 0 {
		atomic.AddUint64(&m.protocolErrors, uint64(n))
	}
}

// RecordRetry is called by the resilient file layer before each backoff.
func (m *SystemMetrics) RecordRetry() { atomic.AddUint64(&m.ioRetries, 1) }

// RecordSkip is called when a file stayed busy for every attempt.
func (m *SystemMetrics) RecordSkip() { atomic.AddUint64(&m.filesSkipped, 1) }

// SetAccountCounts updates registry gauges.
func (m *SystemMetrics) SetAccountCounts(total, online, pending int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = total
	m.onlineCount = online
	m.pendingCount = pending
	m.lastUpdate = time.Now()
}

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot struct {
	IngestLatency   LatencyStats `json:"ingest_latency"`
	EvaluateLatency LatencyStats `json:"evaluate_latency"`
	DBLatency       LatencyStats `json:"db_latency"`
	APILatency      LatencyStats `json:"api_latency"`
	IngestCycles    uint64       `json:"ingest_cycles"`
	EvaluateCycles  uint64       `json:"evaluate_cycles"`
	FilesRead       uint64       `json:"files_read"`
	FilesUnchanged  uint64       `json:"files_unchanged"`
	FilesSkipped    uint64       `json:"files_skipped"`
	FilesNotReady   uint64       `json:"files_not_ready"`
	IORetries       uint64       `json:"io_retries"`
	ProtocolErrors  uint64       `json:"protocol_errors"`
	WriteBacks      uint64       `json:"write_backs"`
	ErrorsCount     uint64       `json:"errors_count"`
	APIRequests     uint64       `json:"api_requests"`
	APIErrors       uint64       `json:"api_errors"`
	Accounts        int          `json:"accounts"`
	Online          int          `json:"online"`
	Pending         int          `json:"pending"`
	GoroutineCount  int          `json:"goroutine_count"`
	HeapAlloc       uint64       `json:"heap_alloc_bytes"`
	HeapSys         uint64       `json:"heap_sys_bytes"`
	LastUpdate      time.Time    `json:"last_update"`
	Timestamp       time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	accounts, online, pending, last := m.accounts, m.onlineCount, m.pendingCount, m.lastUpdate
	m.mu.RUnlock()

	return MetricsSnapshot{
		IngestLatency:   m.IngestLatency.Stats(),
		EvaluateLatency: m.EvaluateLatency.Stats(),
		DBLatency:       m.DBLatency.Stats(),
		APILatency:      m.APILatency.Stats(),
		IngestCycles:    atomic.LoadUint64(&m.ingestCycles),
		EvaluateCycles:  atomic.LoadUint64(&m.evaluateCycles),
		FilesRead:       atomic.LoadUint64(&m.filesRead),
		FilesUnchanged:  atomic.LoadUint64(&m.filesUnchanged),
		FilesSkipped:    atomic.LoadUint64(&m.filesSkipped),
		FilesNotReady:   atomic.LoadUint64(&m.filesNotReady),
		IORetries:       atomic.LoadUint64(&m.ioRetries),
		ProtocolErrors:  atomic.LoadUint64(&m.protocolErrors),
		WriteBacks:      atomic.LoadUint64(&m.writeBacks),
		ErrorsCount:     atomic.LoadUint64(&m.errorsCount),
		APIRequests:     atomic.LoadUint64(&m.apiRequests),
		APIErrors:       atomic.LoadUint64(&m.apiErrors),
		Accounts:        accounts,
		Online:          online,
		Pending:         pending,
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       memStats.HeapAlloc,
		HeapSys:         memStats.HeapSys,
		LastUpdate:      last,
		Timestamp:       time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}

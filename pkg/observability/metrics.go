package observability

import "sync"

// Counter names the worker reports at /metricsz.
const (
	MetricWindowsExpired = "raylink.windows.expired"
	MetricDevicesEvicted = "raylink.devices.evicted"
	MetricInvoicesPaid   = "raylink.invoices.paid"
	MetricNoticesQueued  = "raylink.notices.queued"
)

// InMemoryMetrics accumulates named counters in process memory. The
// worker snapshots them for /metricsz; a restart starts the counts over.
type InMemoryMetrics struct {
	mu       sync.RWMutex
	counters map[string]int64
}

// NewInMemoryMetrics creates an empty counter set.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{counters: make(map[string]int64)}
}

// Counter adds value to the named counter.
func (m *InMemoryMetrics) Counter(name string, value int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += value
}

// GetCounter returns the current value of the named counter. Counters
// never recorded read as zero.
func (m *InMemoryMetrics) GetCounter(name string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[name]
}

package observability

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInMemoryMetricsCounter(t *testing.T) {
	m := NewInMemoryMetrics()

	m.Counter(MetricWindowsExpired, 3)
	m.Counter(MetricWindowsExpired, 2)
	m.Counter(MetricInvoicesPaid, 1)

	assert.Equal(t, int64(5), m.GetCounter(MetricWindowsExpired))
	assert.Equal(t, int64(1), m.GetCounter(MetricInvoicesPaid))
}

func TestInMemoryMetricsUnknownCounter(t *testing.T) {
	m := NewInMemoryMetrics()

	assert.Equal(t, int64(0), m.GetCounter(MetricDevicesEvicted))
}

func TestInMemoryMetricsConcurrentCounts(t *testing.T) {
	// Jobs passes and the health server hit the counters from different
	// goroutines.
	m := NewInMemoryMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Counter(MetricNoticesQueued, 1)
			_ = m.GetCounter(MetricNoticesQueued)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), m.GetCounter(MetricNoticesQueued))
}

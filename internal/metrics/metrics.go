// Package metrics exposes HelpHub's Prometheus metrics, grounded on the
// teacher's internal/single/monitoring/metrics.go: package-level
// collectors registered once in init() and a promhttp handler mounted
// on /metrics.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "helphub_connections_total",
		Help: "Total connections accepted, by transport",
	}, []string{"transport"})

	ConnectionsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "helphub_connections_active",
		Help: "Current live sessions, by transport",
	}, []string{"transport"})

	ConnectionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "helphub_connections_rejected_total",
		Help: "Connections rejected, by reason",
	}, []string{"reason"})

	RecordsRouted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "helphub_records_routed_total",
		Help: "Records routed, by kind",
	}, []string{"kind"})

	RecordsReplayed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "helphub_records_replayed_total",
		Help: "Pending records delivered on reconnect/replay",
	})

	RecordsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "helphub_records_dropped_total",
		Help: "Inbound records dropped, by reason",
	}, []string{"reason"})

	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "helphub_queue_pending_total",
		Help: "Total PENDING rows currently held in the durable queue",
	})

	SweeperEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "helphub_sweeper_evictions_total",
		Help: "Sessions force-closed by the reliability sweeper for exceeding the idle timeout",
	})

	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "helphub_rate_limited_total",
		Help: "Inbound records rejected by the per-session rate limiter",
	})

	Goroutines = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "helphub_goroutines",
		Help: "Current number of goroutines",
	})

	MemoryBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "helphub_memory_bytes",
		Help: "Current process heap allocation in bytes",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ConnectionsActive,
		ConnectionsRejected,
		RecordsRouted,
		RecordsReplayed,
		RecordsDropped,
		QueueDepth,
		SweeperEvictions,
		RateLimited,
		Goroutines,
		MemoryBytes,
	)
}

// Handler serves Prometheus metrics at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Collector periodically samples process-wide gauges (goroutine count,
// heap usage, queue depth) that no single call site owns.
type Collector struct {
	queueDepth func() (int, error)
	stop       chan struct{}
}

// NewCollector builds a Collector. queueDepth is polled on each tick to
// update QueueDepth.
func NewCollector(queueDepth func() (int, error)) *Collector {
	return &Collector{queueDepth: queueDepth, stop: make(chan struct{})}
}

// Start begins periodic collection at the given interval. Call Stop to
// end it.
func (c *Collector) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop ends periodic collection.
func (c *Collector) Stop() {
	close(c.stop)
}

func (c *Collector) collect() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	MemoryBytes.Set(float64(mem.Alloc))
	Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.queueDepth == nil {
		return
	}
	if depth, err := c.queueDepth(); err == nil {
		QueueDepth.Set(float64(depth))
	}
}

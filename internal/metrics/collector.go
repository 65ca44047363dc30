// Package metrics collects per-destination delivery counters and an
// approximate latency distribution. Recording is atomic on the hot path and
// snapshots never pause producers.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// reservoirSize bounds latency memory; a ring of recent samples is enough
// for approximate p50/p95.
const reservoirSize = 256

// Collector tracks counters for one destination. All counter updates are
// atomic; only the latency reservoir takes a short lock.
type Collector struct {
	enqueued       uint64
	delivered      uint64
	dropped        uint64
	rejected       uint64
	deliveryErrors uint64
	fastFails      uint64
	backpressure   uint64

	latMu      sync.Mutex
	latSamples [reservoirSize]int64 // nanoseconds
	latCount   uint64               // total samples ever recorded
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// TrackEnqueued counts events admitted to the queue.
func (c *Collector) TrackEnqueued() {
	atomic.AddUint64(&c.enqueued, 1)
}

// TrackDropped counts entries evicted by the drop policy.
func (c *Collector) TrackDropped(n int) {
	atomic.AddUint64(&c.dropped, uint64(n))
}

// TrackRejected counts incoming events refused at capacity (drop-newest).
func (c *Collector) TrackRejected() {
	atomic.AddUint64(&c.rejected, 1)
}

// TrackBackpressure counts enqueues that landed above the near-capacity
// threshold. This signal precedes actual loss.
func (c *Collector) TrackBackpressure() {
	atomic.AddUint64(&c.backpressure, 1)
}

// TrackFastFail counts events discarded because the circuit breaker was
// open, without the destination being invoked.
func (c *Collector) TrackFastFail(n int) {
	atomic.AddUint64(&c.fastFails, uint64(n))
}

// TrackDeliveryError counts events in a batch whose delivery failed.
func (c *Collector) TrackDeliveryError(n int) {
	atomic.AddUint64(&c.deliveryErrors, uint64(n))
}

// TrackDelivered records n successfully delivered events and one latency
// sample per event, measured from enqueue to delivery completion.
func (c *Collector) TrackDelivered(n int, latencies []time.Duration) {
	atomic.AddUint64(&c.delivered, uint64(n))

	c.latMu.Lock()
	for _, lat := range latencies {
		c.latSamples[c.latCount%reservoirSize] = int64(lat)
		c.latCount++
	}
	c.latMu.Unlock()
}

// Snapshot is an immutable point-in-time view of a collector.
type Snapshot struct {
	Enqueued           uint64        `json:"enqueued"`
	Delivered          uint64        `json:"delivered"`
	Dropped            uint64        `json:"dropped"`
	Rejected           uint64        `json:"rejected"`
	DeliveryErrors     uint64        `json:"delivery_errors"`
	FastFails          uint64        `json:"fast_fails"`
	BackpressureEvents uint64        `json:"backpressure_events"`
	LatencyP50         time.Duration `json:"latency_p50_ns"`
	LatencyP95         time.Duration `json:"latency_p95_ns"`
}

// Snapshot returns the current counters and latency percentiles. Producers
// keep recording concurrently; the reservoir copy is the only locked step.
func (c *Collector) Snapshot() Snapshot {
	s := Snapshot{
		Enqueued:           atomic.LoadUint64(&c.enqueued),
		Delivered:          atomic.LoadUint64(&c.delivered),
		Dropped:            atomic.LoadUint64(&c.dropped),
		Rejected:           atomic.LoadUint64(&c.rejected),
		DeliveryErrors:     atomic.LoadUint64(&c.deliveryErrors),
		FastFails:          atomic.LoadUint64(&c.fastFails),
		BackpressureEvents: atomic.LoadUint64(&c.backpressure),
	}

	c.latMu.Lock()
	n := c.latCount
	if n > reservoirSize {
		n = reservoirSize
	}
	samples := make([]int64, n)
	copy(samples, c.latSamples[:n])
	c.latMu.Unlock()

	if len(samples) > 0 {
		sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
		s.LatencyP50 = time.Duration(percentile(samples, 50))
		s.LatencyP95 = time.Duration(percentile(samples, 95))
	}

	return s
}

func percentile(sorted []int64, p int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (len(sorted)*p + 99) / 100
	if idx > 0 {
		idx--
	}
	return sorted[idx]
}

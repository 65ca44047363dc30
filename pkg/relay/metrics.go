package relay

import (
	"time"
)

// MetricsSnapshot is an immutable, serializable point-in-time view of one
// destination's delivery pipeline. Producing it never pauses producers.
type MetricsSnapshot struct {
	Destination        string        `json:"destination"`
	Enqueued           uint64        `json:"enqueued"`
	Delivered          uint64        `json:"delivered"`
	Dropped            uint64        `json:"dropped"`
	Rejected           uint64        `json:"rejected"`
	DeliveryErrors     uint64        `json:"delivery_errors"`
	FastFails          uint64        `json:"fast_fails"`
	BackpressureEvents uint64        `json:"backpressure_events"`
	QueueDepth         int           `json:"queue_depth"`
	QueueCapacity      int           `json:"queue_capacity"`
	BreakerState       string        `json:"breaker_state"`
	LatencyP50         time.Duration `json:"latency_p50_ns"`
	LatencyP95         time.Duration `json:"latency_p95_ns"`
}

// GetMetrics returns a snapshot per destination, keyed by destination name.
func (l *Logger) GetMetrics() map[string]MetricsSnapshot {
	out := make(map[string]MetricsSnapshot, len(l.handles))
	for _, h := range l.handles {
		out[h.name] = l.snapshotHandle(h)
	}
	return out
}

func (l *Logger) snapshotHandle(h *destinationHandle) MetricsSnapshot {
	s := h.collector.Snapshot()
	return MetricsSnapshot{
		Destination:        h.name,
		Enqueued:           s.Enqueued,
		Delivered:          s.Delivered,
		Dropped:            s.Dropped,
		Rejected:           s.Rejected,
		DeliveryErrors:     s.DeliveryErrors,
		FastFails:          s.FastFails,
		BackpressureEvents: s.BackpressureEvents,
		QueueDepth:         h.queue.Len(),
		QueueCapacity:      h.queue.Capacity(),
		BreakerState:       h.breaker.State().String(),
		LatencyP50:         s.LatencyP50,
		LatencyP95:         s.LatencyP95,
	}
}

// RejectionCounts reports writes that never reached any queue: rejected by
// the filter chain, dropped on render failure, or refused after shutdown.
func (l *Logger) RejectionCounts() (filtered, renderDrops, closedWrites uint64) {
	return l.filteredCount.Load(), l.renderedDrops.Load(), l.closedWrites.Load()
}

// runMetricsExport pushes periodic snapshots to the configured hook until
// shutdown stops it.
func (l *Logger) runMetricsExport(hook func(map[string]MetricsSnapshot), interval time.Duration) {
	defer l.metricsWG.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.metricsStop:
			hook(l.GetMetrics())
			return
		case <-ticker.C:
			hook(l.GetMetrics())
		}
	}
}

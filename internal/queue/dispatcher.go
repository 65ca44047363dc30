package queue

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrCloseTimeout is returned when the dispatcher's worker did not stop
// within the close timeout, typically because a delivery call is hung.
var ErrCloseTimeout = errors.New("dispatcher close timed out")

// ErrFlushTimeout is returned when a flush did not complete in time.
var ErrFlushTimeout = errors.New("dispatcher flush timed out")

// DeliverFunc hands one drained batch to the destination path. All breaker
// gating, metrics and error absorption happen inside the callback; the
// dispatcher only schedules it. The callback is invoked with no queue lock
// held, so a slow destination never blocks producers.
type DeliverFunc func(batch []Entry)

// Config holds the dispatcher's drain triggers.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
}

// Dispatcher owns exactly one background worker draining one destination's
// queue. Batches are cut whenever the flush interval elapses or occupancy
// crosses the batch size, whichever happens first.
type Dispatcher struct {
	queue   *Queue
	deliver DeliverFunc
	cfg     Config

	stop      chan struct{}
	done      chan struct{}
	flushReq  chan chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	// drain budget for final shutdown, nanoseconds; set before stop closes
	closeBudget atomic.Int64
}

// NewDispatcher creates a dispatcher for q. Start must be called before any
// entries are drained.
func NewDispatcher(q *Queue, cfg Config, deliver DeliverFunc) *Dispatcher {
	return &Dispatcher{
		queue:    q,
		deliver:  deliver,
		cfg:      cfg,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		flushReq: make(chan chan struct{}),
	}
}

// Start launches the background worker.
func (d *Dispatcher) Start() {
	go d.run()
}

func (d *Dispatcher) run() {
	defer close(d.done)

	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			d.finalDrain()
			return
		case <-ticker.C:
			d.drainAll()
		case <-d.queue.Wake():
			for d.queue.Len() >= d.cfg.BatchSize {
				d.drainBatch()
			}
		case ack := <-d.flushReq:
			d.drainAll()
			close(ack)
		}
	}
}

// drainBatch cuts one batch and delivers it. The queue lock is released
// inside Drain before the delivery callback runs.
func (d *Dispatcher) drainBatch() {
	batch := d.queue.Drain(d.cfg.BatchSize)
	if len(batch) == 0 {
		return
	}
	d.deliver(batch)
}

func (d *Dispatcher) drainAll() {
	for d.queue.Len() > 0 {
		d.drainBatch()
	}
}

// finalDrain is the best-effort drain on shutdown, bounded by the budget set
// in Close. Delivery calls themselves are not interruptible; the budget only
// stops new batches from being cut.
func (d *Dispatcher) finalDrain() {
	budget := time.Duration(d.closeBudget.Load())
	if budget <= 0 {
		return
	}
	deadline := time.Now().Add(budget)
	for d.queue.Len() > 0 && time.Now().Before(deadline) {
		d.drainBatch()
	}
}

// Flush drains the queue to empty and waits for completion, up to timeout.
func (d *Dispatcher) Flush(timeout time.Duration) error {
	if d.closed.Load() {
		return nil
	}
	ack := make(chan struct{})
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d.flushReq <- ack:
	case <-d.done:
		return nil
	case <-timer.C:
		return ErrFlushTimeout
	}

	select {
	case <-ack:
		return nil
	case <-d.done:
		return nil
	case <-timer.C:
		return ErrFlushTimeout
	}
}

// Close stops the worker after a best-effort drain bounded by drainTimeout.
// It is idempotent: the second and later calls are no-ops returning nil.
// ErrCloseTimeout means the worker was still running when the timeout
// expired, i.e. it had to be abandoned mid-delivery.
func (d *Dispatcher) Close(drainTimeout time.Duration) error {
	var err error
	first := false
	d.closeOnce.Do(func() {
		first = true
		d.closed.Store(true)
		d.closeBudget.Store(int64(drainTimeout))
		close(d.stop)

		// Give the worker the drain budget plus slack to notice the stop.
		wait := drainTimeout + 50*time.Millisecond
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-d.done:
		case <-timer.C:
			err = ErrCloseTimeout
		}
	})
	if !first {
		return nil
	}
	return err
}

// Closed reports whether Close has been called.
func (d *Dispatcher) Closed() bool { return d.closed.Load() }

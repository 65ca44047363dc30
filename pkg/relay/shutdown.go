package relay

import (
	"time"
)

// ShutdownStrategy selects how much draining happens before destinations
// are closed.
type ShutdownStrategy struct {
	drain   bool
	timeout time.Duration
}

// Immediate skips draining and closes destinations right away. Queued
// entries are discarded.
func Immediate() ShutdownStrategy {
	return ShutdownStrategy{}
}

// FlushPending drains each queue bounded by the logger's flush timeout,
// then closes.
func FlushPending() ShutdownStrategy {
	return ShutdownStrategy{drain: true}
}

// Graceful drains for up to d, then force-closes stragglers.
func Graceful(d time.Duration) ShutdownStrategy {
	return ShutdownStrategy{drain: true, timeout: d}
}

// DestinationOutcome reports how one destination shut down.
type DestinationOutcome struct {
	Name string
	// Forced is true when the destination had to be abandoned: its drain
	// or close did not finish inside the deadline.
	Forced bool
	// Err is the drain or close failure, if any.
	Err error
}

// ShutdownReport summarizes a shutdown across all destinations.
type ShutdownReport struct {
	Outcomes []DestinationOutcome
	Elapsed  time.Duration
}

// Forced returns the names of destinations that were forcibly terminated.
func (r *ShutdownReport) Forced() []string {
	var names []string
	for _, o := range r.Outcomes {
		if o.Forced {
			names = append(names, o.Name)
		}
	}
	return names
}

// Shutdown terminates the logger within a bounded time: new writes are
// rejected immediately, every queue gets its drain attempt per the strategy,
// and Close is attempted on every destination regardless of whether earlier
// steps errored or timed out. One destination's hang never skips another's
// close. Shutdown is idempotent; later calls return the first call's report.
func (l *Logger) Shutdown(strategy ShutdownStrategy) *ShutdownReport {
	l.shutdownOnce.Do(func() {
		start := time.Now()
		l.closed.Store(true)

		if l.metricsStop != nil {
			close(l.metricsStop)
			l.metricsWG.Wait()
		}

		drainTimeout := time.Duration(0)
		if strategy.drain {
			drainTimeout = strategy.timeout
			if drainTimeout <= 0 {
				drainTimeout = l.flushTimeout
			}
		}

		// Each destination shuts down on its own goroutine so a hung
		// Deliver or Close cannot stall the others. The overall wait is
		// bounded; stragglers are abandoned and reported as forced.
		results := make(chan DestinationOutcome, len(l.handles))
		for _, h := range l.handles {
			go func(h *destinationHandle) {
				results <- l.shutdownHandle(h, drainTimeout)
			}(h)
		}

		deadline := time.NewTimer(drainTimeout + time.Second)
		defer deadline.Stop()

		report := &ShutdownReport{}
		outcomes := make(map[string]DestinationOutcome, len(l.handles))

		collected := 0
		for collected < len(l.handles) {
			select {
			case o := <-results:
				outcomes[o.Name] = o
				collected++
			case <-deadline.C:
				collected = len(l.handles)
			}
		}

		for _, h := range l.handles {
			o, ok := outcomes[h.name]
			if !ok {
				o = DestinationOutcome{
					Name:   h.name,
					Forced: true,
					Err: &LogError{
						Code:        ErrCodeShutdownTimeout,
						Op:          "shutdown",
						Destination: h.name,
						Err:         ErrShutdownTimeout,
						Time:        l.clock.Now(),
					},
				}
				l.errorHandler(*o.Err.(*LogError))
			}
			report.Outcomes = append(report.Outcomes, o)
		}

		report.Elapsed = time.Since(start)
		l.report = report
	})
	return l.report
}

// shutdownHandle drains and closes one destination. Close runs even when
// the drain timed out or failed.
func (l *Logger) shutdownHandle(h *destinationHandle, drainTimeout time.Duration) DestinationOutcome {
	o := DestinationOutcome{Name: h.name}

	if err := h.dispatcher.Close(drainTimeout); err != nil {
		o.Forced = true
		o.Err = &LogError{
			Code:        ErrCodeShutdownTimeout,
			Op:          "drain",
			Destination: h.name,
			Err:         err,
			Time:        l.clock.Now(),
		}
		l.errorHandler(*o.Err.(*LogError))
	}

	if err := h.dest.Close(); err != nil {
		closeErr := &LogError{
			Code:        ErrCodeDelivery,
			Op:          "close",
			Destination: h.name,
			Err:         err,
			Time:        l.clock.Now(),
		}
		l.errorHandler(*closeErr)
		if o.Err == nil {
			o.Err = closeErr
		}
	}

	return o
}

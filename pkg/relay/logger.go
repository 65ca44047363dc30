// Package relay is the delivery core of a structured logging library: the
// path from a write call to bytes reaching a destination, hardened for load
// and partial failure. Producers never block on destination I/O; each
// destination owns a bounded queue, a dedicated dispatcher, a circuit
// breaker and a metrics bucket, and one destination's failure never affects
// delivery to the others.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wayneeseguin/relay/internal/metrics"
	"github.com/wayneeseguin/relay/internal/queue"
	"github.com/wayneeseguin/relay/pkg/breaker"
	"github.com/wayneeseguin/relay/pkg/formatters"
	"github.com/wayneeseguin/relay/pkg/types"
)

// Re-exported core types for callers that only import this package.
type (
	// Level is the event severity.
	Level = types.Level
	// LogEvent is the immutable record of one logging call.
	LogEvent = types.LogEvent
	// Destination is the consumed sink capability.
	Destination = types.Destination
)

// Severity levels, re-exported.
const (
	LevelVerbose     = types.LevelVerbose
	LevelDebug       = types.LevelDebug
	LevelInformation = types.LevelInformation
	LevelWarning     = types.LevelWarning
	LevelError       = types.LevelError
	LevelFatal       = types.LevelFatal
)

func defaultRenderer() types.Renderer {
	return formatters.NewTemplateRenderer()
}

// destinationHandle bundles everything one destination owns: its queue,
// dispatcher, breaker and collector. Nothing in a handle is shared across
// destinations.
type destinationHandle struct {
	name       string
	dest       types.Destination
	queue      *queue.Queue
	dispatcher *queue.Dispatcher
	breaker    *breaker.Breaker
	collector  *metrics.Collector
}

// clockAdapter bridges the relay clock to the breaker package.
type clockAdapter struct{ c types.Clock }

func (a clockAdapter) Now() time.Time { return a.c.Now() }

// Logger orchestrates rendering, context merging, filtering and fan-out to
// the per-destination delivery pipelines.
type Logger struct {
	level        atomic.Int32
	renderer     types.Renderer
	clock        types.Clock
	filters      FilterChain
	errorHandler ErrorHandler
	flushTimeout time.Duration

	handles []*destinationHandle

	// Countable rejections that never reach a queue.
	filteredCount atomic.Uint64
	renderedDrops atomic.Uint64
	closedWrites  atomic.Uint64

	closed       atomic.Bool
	shutdownOnce sync.Once
	report       *ShutdownReport

	metricsStop chan struct{}
	metricsWG   sync.WaitGroup
}

// New builds a logger from cfg. Global misconfiguration (no usable
// destination) fails construction; a single destination's bad configuration
// is fatal only to that destination and is reported through the
// ErrorHandler.
func New(cfg Config) (*Logger, error) {
	cfg.applyDefaults()

	l := &Logger{
		renderer:     cfg.Renderer,
		clock:        cfg.Clock,
		filters:      NewFilterChain(cfg.Filters...),
		errorHandler: cfg.ErrorHandler,
		flushTimeout: cfg.FlushTimeout,
	}
	l.level.Store(int32(cfg.Level))

	for i := range cfg.Destinations {
		dc := cfg.Destinations[i]
		if err := dc.validate(); err != nil {
			l.errorHandler(LogError{
				Code:        ErrCodeConfig,
				Op:          "configure",
				Destination: dc.Name,
				Err:         err,
				Time:        l.clock.Now(),
			})
			continue
		}
		dc.applyDefaults()
		l.handles = append(l.handles, l.newHandle(dc))
	}

	if len(l.handles) == 0 {
		return nil, &LogError{
			Code: ErrCodeConfig,
			Op:   "configure",
			Err:  errNoDestinations,
			Time: l.clock.Now(),
		}
	}

	for _, h := range l.handles {
		h.dispatcher.Start()
	}

	if cfg.MetricsHook != nil {
		l.metricsStop = make(chan struct{})
		l.metricsWG.Add(1)
		go l.runMetricsExport(cfg.MetricsHook, cfg.MetricsInterval)
	}

	return l, nil
}

func (l *Logger) newHandle(dc DestinationConfig) *destinationHandle {
	h := &destinationHandle{
		name:      dc.Name,
		dest:      dc.Destination,
		collector: metrics.NewCollector(),
		breaker: breaker.New(dc.FailureThreshold, dc.ResetTimeout,
			breaker.WithClock(clockAdapter{l.clock})),
	}
	h.queue = queue.New(dc.MaxQueueSize, dc.backpressureThreshold(), dc.DropPolicy)
	h.dispatcher = queue.NewDispatcher(h.queue, queue.Config{
		BatchSize:     dc.BatchSize,
		FlushInterval: dc.FlushInterval,
	}, func(batch []queue.Entry) { l.deliverBatch(h, batch) })
	return h
}

// Write records one event. It never blocks on destination I/O and no
// per-destination failure ever propagates to the caller; rejections and
// failures are observable only through counters and the ErrorHandler.
// Context properties on ctx are merged under the call-site properties;
// call-site wins on key collision.
func (l *Logger) Write(ctx context.Context, level Level, template string, properties map[string]interface{}, eventErr error) {
	if level < Level(l.level.Load()) {
		return
	}
	if l.closed.Load() {
		l.closedWrites.Add(1)
		return
	}

	merged := mergeCallSite(MergedProperties(ctx), properties)

	message, err := l.renderer.Render(template, merged)
	if err != nil {
		l.renderedDrops.Add(1)
		l.errorHandler(LogError{
			Code: ErrCodeRender,
			Op:   "render",
			Err:  err,
			Time: l.clock.Now(),
		})
		return
	}

	if !l.filters.Accept(level, merged) {
		l.filteredCount.Add(1)
		return
	}

	event := types.NewLogEvent(l.clock.Now(), level, message, template, merged, eventErr)

	for _, h := range l.handles {
		l.enqueueTo(h, event)
	}
}

// enqueueTo runs one destination's admission path. The recover guarantees a
// defect on one path cannot skip the remaining destinations.
func (l *Logger) enqueueTo(h *destinationHandle, event *types.LogEvent) {
	defer func() {
		if r := recover(); r != nil {
			l.errorHandler(LogError{
				Code:        ErrCodeUnknown,
				Op:          "enqueue",
				Destination: h.name,
				Err:         panicError{value: r},
				Time:        l.clock.Now(),
			})
		}
	}()

	if h.breaker.FastFail() {
		h.collector.TrackFastFail(1)
		return
	}

	res := h.queue.Enqueue(queue.Entry{
		Event:      event,
		EnqueuedAt: l.clock.Now(),
		Size:       event.EstimateSize(),
	})

	if res.Rejected {
		h.collector.TrackRejected()
		return
	}
	h.collector.TrackEnqueued()
	if res.Dropped != nil {
		h.collector.TrackDropped(1)
	}
	if res.Backpressure {
		h.collector.TrackBackpressure()
	}
}

// deliverBatch is the dispatcher callback: breaker gate, destination call,
// metrics and breaker feedback. It runs on the destination's dispatcher
// goroutine with no queue lock held.
func (l *Logger) deliverBatch(h *destinationHandle, batch []queue.Entry) {
	if !h.breaker.Allow() {
		h.collector.TrackFastFail(len(batch))
		return
	}

	events := make([]*types.LogEvent, len(batch))
	for i := range batch {
		events[i] = batch[i].Event
	}

	err := h.dest.Deliver(events)
	done := l.clock.Now()

	if err != nil {
		h.breaker.RecordFailure()
		h.collector.TrackDeliveryError(len(batch))
		l.errorHandler(LogError{
			Code:        ErrCodeDelivery,
			Op:          "deliver",
			Destination: h.name,
			Err:         err,
			Time:        done,
		})
		return
	}

	h.breaker.RecordSuccess()
	latencies := make([]time.Duration, len(batch))
	for i := range batch {
		latencies[i] = done.Sub(batch[i].EnqueuedAt)
	}
	h.collector.TrackDelivered(len(batch), latencies)
}

// Convenience level methods.

// Verbose writes a verbose-level event.
func (l *Logger) Verbose(ctx context.Context, template string, properties map[string]interface{}) {
	l.Write(ctx, LevelVerbose, template, properties, nil)
}

// Debug writes a debug-level event.
func (l *Logger) Debug(ctx context.Context, template string, properties map[string]interface{}) {
	l.Write(ctx, LevelDebug, template, properties, nil)
}

// Information writes an information-level event.
func (l *Logger) Information(ctx context.Context, template string, properties map[string]interface{}) {
	l.Write(ctx, LevelInformation, template, properties, nil)
}

// Warning writes a warning-level event.
func (l *Logger) Warning(ctx context.Context, template string, properties map[string]interface{}) {
	l.Write(ctx, LevelWarning, template, properties, nil)
}

// Error writes an error-level event with an attached error.
func (l *Logger) Error(ctx context.Context, template string, properties map[string]interface{}, err error) {
	l.Write(ctx, LevelError, template, properties, err)
}

// Fatal writes a fatal-level event with an attached error. It does not exit
// the process; termination policy belongs to the caller.
func (l *Logger) Fatal(ctx context.Context, template string, properties map[string]interface{}, err error) {
	l.Write(ctx, LevelFatal, template, properties, err)
}

// SetLevel changes the global minimum level.
func (l *Logger) SetLevel(level Level) {
	l.level.Store(int32(level))
}

// GetLevel returns the global minimum level.
func (l *Logger) GetLevel() Level {
	return Level(l.level.Load())
}

// Flush drains every destination's queue and flushes the destination,
// bounded by timeout per destination. Destinations flush in parallel; one
// destination's failure never skips another's flush.
func (l *Logger) Flush(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = l.flushTimeout
	}

	var wg sync.WaitGroup
	errs := make([]error, len(l.handles))
	for i, h := range l.handles {
		wg.Add(1)
		go func(i int, h *destinationHandle) {
			defer wg.Done()
			if err := h.dispatcher.Flush(timeout); err != nil {
				errs[i] = err
				return
			}
			errs[i] = h.dest.Flush()
		}(i, h)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return &LogError{
				Code:        ErrCodeDelivery,
				Op:          "flush",
				Destination: l.handles[i].name,
				Err:         err,
				Time:        l.clock.Now(),
			}
		}
	}
	return nil
}

// IsClosed reports whether shutdown has begun.
func (l *Logger) IsClosed() bool { return l.closed.Load() }

// mergeCallSite lays call-site properties over the context overlay;
// call-site wins on key collision.
func mergeCallSite(contextProps, callSite map[string]interface{}) map[string]interface{} {
	if len(contextProps) == 0 {
		return callSite
	}
	merged := make(map[string]interface{}, len(contextProps)+len(callSite))
	for k, v := range contextProps {
		merged[k] = v
	}
	for k, v := range callSite {
		merged[k] = v
	}
	return merged
}

type panicError struct{ value interface{} }

func (e panicError) Error() string {
	return fmt.Sprintf("panic in delivery path: %v", e.value)
}

var errNoDestinations = errors.New("no usable destinations configured")

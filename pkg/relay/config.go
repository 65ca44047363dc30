package relay

import (
	"time"

	"github.com/pkg/errors"

	"github.com/wayneeseguin/relay/pkg/types"
)

// Defaults applied by Config.applyDefaults.
const (
	defaultMaxQueueSize      = 1024
	defaultBatchSize         = 64
	defaultFlushInterval     = 100 * time.Millisecond
	defaultBackpressureRatio = 0.8
	defaultFailureThreshold  = 5
	defaultResetTimeout      = 30 * time.Second
	defaultFlushTimeout      = 5 * time.Second
)

// DestinationConfig configures one destination's queue, breaker and drop
// policy. A destination with an invalid configuration is skipped at
// construction; the failure is fatal only to that destination and is
// surfaced through the ErrorHandler.
type DestinationConfig struct {
	// Name uniquely identifies the destination in metrics and reports.
	Name string

	// Destination is the sink receiving batches.
	Destination types.Destination

	// MaxQueueSize is the queue capacity. Default 1024.
	MaxQueueSize int

	// BatchSize is the maximum entries per delivery. Default 64.
	BatchSize int

	// FlushInterval is the periodic drain trigger. Default 100ms.
	FlushInterval time.Duration

	// BackpressureRatio is the fraction of capacity (0..1, exclusive of 1)
	// at which enqueues start reporting a near-capacity condition, ahead of
	// actual loss. Default 0.8.
	BackpressureRatio float64

	// FailureThreshold is the consecutive delivery failures that open the
	// breaker. Default 5.
	FailureThreshold int

	// ResetTimeout is how long the breaker stays open before the single
	// half-open trial. Default 30s.
	ResetTimeout time.Duration

	// DropPolicy decides behavior at capacity. Default DropOldest.
	DropPolicy types.DropPolicy
}

func (c *DestinationConfig) applyDefaults() {
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = defaultMaxQueueSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.BatchSize > c.MaxQueueSize {
		c.BatchSize = c.MaxQueueSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.BackpressureRatio <= 0 || c.BackpressureRatio >= 1 {
		c.BackpressureRatio = defaultBackpressureRatio
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = defaultResetTimeout
	}
}

func (c *DestinationConfig) validate() error {
	if c.Name == "" {
		return errors.New("destination name must not be empty")
	}
	if c.Destination == nil {
		return errors.Errorf("destination %q has no sink", c.Name)
	}
	return nil
}

// backpressureThreshold derives the occupancy boundary from the ratio. The
// boundary is a tunable ratio of capacity, never a fixed constant.
func (c *DestinationConfig) backpressureThreshold() int {
	threshold := int(float64(c.MaxQueueSize) * c.BackpressureRatio)
	if threshold < 1 {
		threshold = 1
	}
	if threshold >= c.MaxQueueSize {
		threshold = c.MaxQueueSize - 1
	}
	return threshold
}

// Config configures a Logger.
type Config struct {
	// Level is the global minimum; writes below it are no-ops.
	Level types.Level

	// Renderer turns templates into messages. Defaults to the built-in
	// {Name}-hole template renderer.
	Renderer types.Renderer

	// Clock is the time source. Defaults to the system clock.
	Clock types.Clock

	// Filters is the ordered admission chain evaluated after rendering.
	Filters []FilterFunc

	// ErrorHandler observes absorbed failures. Defaults to stderr.
	ErrorHandler ErrorHandler

	// Destinations lists the sinks to deliver to.
	Destinations []DestinationConfig

	// MetricsHook, when set, receives periodic per-destination snapshots.
	MetricsHook func(map[string]MetricsSnapshot)

	// MetricsInterval is the hook period. Default 10s when a hook is set.
	MetricsInterval time.Duration

	// FlushTimeout bounds Logger.Flush and the FlushPending shutdown
	// strategy. Default 5s.
	FlushTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Renderer == nil {
		c.Renderer = defaultRenderer()
	}
	if c.Clock == nil {
		c.Clock = types.SystemClock()
	}
	if c.ErrorHandler == nil {
		c.ErrorHandler = StderrErrorHandler
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = 10 * time.Second
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = defaultFlushTimeout
	}
}

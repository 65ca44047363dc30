// Package types defines the shared value types and consumed capabilities of
// the relay delivery pipeline: log events, severity levels, destinations,
// template renderers and clocks.
package types

import (
	"time"
)

// Level represents the severity of a log event. Levels are totally ordered:
// Verbose < Debug < Information < Warning < Error < Fatal.
type Level int

const (
	// LevelVerbose is for tracing-grade detail.
	LevelVerbose Level = iota
	// LevelDebug is for diagnostic information.
	LevelDebug
	// LevelInformation is for normal operational events.
	LevelInformation
	// LevelWarning is for recoverable anomalies.
	LevelWarning
	// LevelError is for failures of an operation.
	LevelError
	// LevelFatal is for failures that terminate the application.
	LevelFatal
)

// String returns the canonical upper-case name of the level.
func (l Level) String() string {
	switch l {
	case LevelVerbose:
		return "VERBOSE"
	case LevelDebug:
		return "DEBUG"
	case LevelInformation:
		return "INFO"
	case LevelWarning:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name to a Level. The second return value
// reports whether the name was recognized.
func ParseLevel(name string) (Level, bool) {
	switch name {
	case "VERBOSE", "verbose":
		return LevelVerbose, true
	case "DEBUG", "debug":
		return LevelDebug, true
	case "INFO", "info", "information":
		return LevelInformation, true
	case "WARN", "warn", "warning":
		return LevelWarning, true
	case "ERROR", "error":
		return LevelError, true
	case "FATAL", "fatal":
		return LevelFatal, true
	}
	return LevelInformation, false
}

// LogEvent is the immutable record of one logging call. It is never mutated
// after construction; the property map is copied in by NewLogEvent.
type LogEvent struct {
	Timestamp  time.Time
	Level      Level
	Message    string // rendered message
	Template   string // original message template
	Properties map[string]interface{}
	Err        error // optional attached error
}

// NewLogEvent builds an event, copying properties so later changes to the
// caller's map cannot alter the event.
func NewLogEvent(ts time.Time, level Level, message, template string, properties map[string]interface{}, err error) *LogEvent {
	var props map[string]interface{}
	if len(properties) > 0 {
		props = make(map[string]interface{}, len(properties))
		for k, v := range properties {
			props[k] = v
		}
	}
	return &LogEvent{
		Timestamp:  ts,
		Level:      level,
		Message:    message,
		Template:   template,
		Properties: props,
		Err:        err,
	}
}

// EstimateSize returns a rough byte size of the event, used for queue
// accounting. It deliberately avoids reflection on property values.
func (e *LogEvent) EstimateSize() int {
	size := len(e.Message) + len(e.Template) + 64
	for k, v := range e.Properties {
		size += len(k) + approxValueSize(v)
	}
	if e.Err != nil {
		size += len(e.Err.Error())
	}
	return size
}

func approxValueSize(v interface{}) int {
	switch t := v.(type) {
	case string:
		return len(t)
	case []byte:
		return len(t)
	case nil:
		return 0
	default:
		return 16
	}
}

// Destination is a consumed capability that persists or transmits batches of
// events. Implementations may block inside Deliver; the dispatcher is the
// only caller, so producers are never exposed to that latency.
type Destination interface {
	// Deliver writes a batch of events. A non-nil error marks the whole
	// batch as failed.
	Deliver(batch []*LogEvent) error

	// Flush forces buffered data out to the underlying medium.
	Flush() error

	// Close releases the destination's resources.
	Close() error
}

// Renderer turns a message template plus named properties into the final
// message string. It must be a pure function of its inputs.
type Renderer interface {
	Render(template string, properties map[string]interface{}) (string, error)
}

// RendererFunc adapts a plain function to the Renderer interface.
type RendererFunc func(template string, properties map[string]interface{}) (string, error)

// Render implements Renderer.
func (f RendererFunc) Render(template string, properties map[string]interface{}) (string, error) {
	return f(template, properties)
}

// Clock supplies the current time. Injectable for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// DropPolicy selects which entry is discarded when a queue is full.
type DropPolicy int

const (
	// DropOldest evicts the oldest queued entry to admit the new one. This
	// keeps the backlog biased toward recent events and is the default.
	DropOldest DropPolicy = iota
	// DropNewest rejects the incoming entry and keeps the backlog intact.
	DropNewest
)

// String returns the policy name.
func (p DropPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case DropNewest:
		return "drop-newest"
	default:
		return "unknown"
	}
}

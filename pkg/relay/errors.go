package relay

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrorCode classifies failures absorbed by the delivery pipeline.
type ErrorCode int

const (
	// ErrCodeUnknown is an unclassified failure.
	ErrCodeUnknown ErrorCode = iota
	// ErrCodeConfig is a bad destination or logger setup, surfaced at
	// construction and fatal only to the affected destination.
	ErrCodeConfig
	// ErrCodeRender is a malformed template or missing referenced
	// property; the event becomes a counted self-diagnostic drop.
	ErrCodeRender
	// ErrCodeDelivery is a destination I/O failure, absorbed by the
	// breaker and metrics.
	ErrCodeDelivery
	// ErrCodeResourceExhausted is a context or queue limit being hit.
	ErrCodeResourceExhausted
	// ErrCodeShutdownTimeout is a destination failing to drain or close
	// in time; shutdown proceeds regardless.
	ErrCodeShutdownTimeout
	// ErrCodeLoggerClosed is a write arriving after shutdown began.
	ErrCodeLoggerClosed
)

// String returns the code name.
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeConfig:
		return "config"
	case ErrCodeRender:
		return "render"
	case ErrCodeDelivery:
		return "delivery"
	case ErrCodeResourceExhausted:
		return "resource_exhausted"
	case ErrCodeShutdownTimeout:
		return "shutdown_timeout"
	case ErrCodeLoggerClosed:
		return "logger_closed"
	default:
		return "unknown"
	}
}

// Sentinel errors for matching with errors.Is.
var (
	// ErrLoggerClosed is returned or reported when the logger has shut down.
	ErrLoggerClosed = errors.New("logger is closed")
	// ErrResourceExhausted is reported when a configured budget is exceeded.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrShutdownTimeout is reported when a destination failed to drain or
	// close within the shutdown deadline.
	ErrShutdownTimeout = errors.New("shutdown deadline exceeded")
)

// LogError is a structured error raised inside the delivery pipeline. No
// LogError ever propagates to a Write caller; they are observable only
// through the ErrorHandler and counters.
type LogError struct {
	Code        ErrorCode
	Op          string // operation that failed: "render", "deliver", "close", ...
	Destination string // destination name, if applicable
	Err         error
	Time        time.Time
}

// Error implements the error interface.
func (e *LogError) Error() string {
	if e.Destination != "" {
		return fmt.Sprintf("[%s] %s failed (destination: %s): %v",
			e.Time.Format("2006-01-02 15:04:05"), e.Op, e.Destination, e.Err)
	}
	return fmt.Sprintf("[%s] %s failed: %v",
		e.Time.Format("2006-01-02 15:04:05"), e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *LogError) Unwrap() error { return e.Err }

// Is matches another LogError by code, or the underlying error chain.
func (e *LogError) Is(target error) bool {
	if other, ok := target.(*LogError); ok {
		return e.Code == other.Code
	}
	return false
}

// ErrorHandler observes every failure the pipeline absorbs. Handlers must
// not block; they run on producer and dispatcher goroutines.
type ErrorHandler func(LogError)

// StderrErrorHandler writes absorbed errors to stderr.
func StderrErrorHandler(err LogError) {
	fmt.Fprintf(os.Stderr, "relay: %s\n", err.Error())
}

// SilentErrorHandler discards absorbed errors.
func SilentErrorHandler(LogError) {}

// MultiErrorHandler fans an error out to several handlers.
func MultiErrorHandler(handlers ...ErrorHandler) ErrorHandler {
	return func(err LogError) {
		for _, h := range handlers {
			if h != nil {
				h(err)
			}
		}
	}
}

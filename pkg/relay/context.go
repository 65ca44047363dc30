package relay

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// The property stack rides on context.Context so frames are bound to the
// logical task, not a physical goroutine. A frame pushed inside a scope can
// never leak into sibling tasks: siblings hold the parent context, and the
// derived context dies with the scope on every exit path, including panic
// and cancellation.

type propertyStackKey struct{}
type contextBudgetKey struct{}

type propertyFrame struct {
	parent *propertyFrame
	key    string
	value  interface{}
	depth  int
	bytes  int
}

// ContextBudget bounds the property stack carried by a context.
type ContextBudget struct {
	MaxDepth int
	MaxBytes int
}

// DefaultContextBudget is applied when no budget is set on the context.
var DefaultContextBudget = ContextBudget{MaxDepth: 64, MaxBytes: 8192}

// WithContextBudget overrides the property stack budget for ctx and its
// descendants.
func WithContextBudget(ctx context.Context, budget ContextBudget) context.Context {
	return context.WithValue(ctx, contextBudgetKey{}, budget)
}

func budgetFrom(ctx context.Context) ContextBudget {
	if b, ok := ctx.Value(contextBudgetKey{}).(ContextBudget); ok {
		return b
	}
	return DefaultContextBudget
}

// WithProperty returns a context whose events carry key=value in addition to
// the properties already on ctx. The innermost frame wins on key collision.
// Exceeding the depth or byte budget fails with a resource-exhausted
// LogError instead of growing unbounded.
func WithProperty(ctx context.Context, key string, value interface{}) (context.Context, error) {
	parent, _ := ctx.Value(propertyStackKey{}).(*propertyFrame)

	frame := &propertyFrame{
		parent: parent,
		key:    key,
		value:  value,
		depth:  1,
		bytes:  len(key) + approxPropertySize(value),
	}
	if parent != nil {
		frame.depth += parent.depth
		frame.bytes += parent.bytes
	}

	budget := budgetFrom(ctx)
	if frame.depth > budget.MaxDepth || frame.bytes > budget.MaxBytes {
		return ctx, &LogError{
			Code: ErrCodeResourceExhausted,
			Op:   "push_property",
			Err:  errors.Wrapf(ErrResourceExhausted, "context budget exceeded (depth %d, bytes %d)", frame.depth, frame.bytes),
			Time: time.Now(),
		}
	}

	return context.WithValue(ctx, propertyStackKey{}, frame), nil
}

// PushProperty runs scope with key=value visible to every write inside it.
// The frame is released on every exit path: normal return, error, panic, or
// cancellation mid-scope.
func PushProperty(ctx context.Context, key string, value interface{}, scope func(ctx context.Context) error) error {
	scoped, err := WithProperty(ctx, key, value)
	if err != nil {
		return err
	}
	return scope(scoped)
}

// MergedProperties returns the flattened innermost-wins view of the property
// stack on ctx, or nil when no properties are set.
func MergedProperties(ctx context.Context) map[string]interface{} {
	frame, _ := ctx.Value(propertyStackKey{}).(*propertyFrame)
	if frame == nil {
		return nil
	}

	merged := make(map[string]interface{}, frame.depth)
	mergeFrames(merged, frame)
	return merged
}

// mergeFrames applies outer frames first so inner assignments overwrite.
func mergeFrames(dst map[string]interface{}, frame *propertyFrame) {
	if frame == nil {
		return
	}
	mergeFrames(dst, frame.parent)
	dst[frame.key] = frame.value
}

func approxPropertySize(v interface{}) int {
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

// Package backends provides the concrete destinations shipped with relay:
// plain io.Writer output, a flock-guarded rotating file, and NATS publishing.
package backends

import (
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/wayneeseguin/relay/pkg/formatters"
	"github.com/wayneeseguin/relay/pkg/types"
)

// WriterDestination delivers newline-delimited formatted events to any
// io.Writer, typically stdout or stderr.
type WriterDestination struct {
	mu        sync.Mutex
	w         io.Writer
	formatter formatters.Formatter
	closed    bool
}

// NewWriterDestination creates a destination writing to w. A nil formatter
// defaults to the text formatter.
func NewWriterDestination(w io.Writer, formatter formatters.Formatter) *WriterDestination {
	if formatter == nil {
		formatter = formatters.NewTextFormatter()
	}
	return &WriterDestination{w: w, formatter: formatter}
}

// Deliver implements types.Destination.
func (d *WriterDestination) Deliver(batch []*types.LogEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errors.New("writer destination is closed")
	}

	for _, event := range batch {
		line, err := d.formatter.Format(event)
		if err != nil {
			return errors.Wrap(err, "format event")
		}
		line = append(line, '\n')
		if _, err := d.w.Write(line); err != nil {
			return errors.Wrap(err, "write event")
		}
	}
	return nil
}

// Flush implements types.Destination. Writers with no buffer are a no-op.
func (d *WriterDestination) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	type flusher interface{ Flush() error }
	if f, ok := d.w.(flusher); ok {
		return f.Flush()
	}
	type syncer interface{ Sync() error }
	if s, ok := d.w.(syncer); ok {
		return s.Sync()
	}
	return nil
}

// Close implements types.Destination. The underlying writer is closed only
// if it is an io.Closer; Close is idempotent.
func (d *WriterDestination) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	if c, ok := d.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

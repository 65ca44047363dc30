package backends

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"github.com/wayneeseguin/relay/pkg/formatters"
	"github.com/wayneeseguin/relay/pkg/types"
)

// Batch metadata headers attached to every published message.
const (
	HeaderBatchID   = "Relay-Batch-Id"
	HeaderBatchSize = "Relay-Batch-Size"
	HeaderBatchSeq  = "Relay-Batch-Seq"
)

// NATSDestination publishes formatted events to a NATS subject. Each
// delivered batch carries a shared batch id header so consumers can detect
// partial batches after a mid-batch connection loss.
type NATSDestination struct {
	mu        sync.Mutex
	conn      *nats.Conn
	subject   string
	formatter formatters.Formatter
	ownsConn  bool
	closed    bool

	flushTimeout time.Duration
}

// NATSOption configures a NATSDestination.
type NATSOption func(*NATSDestination)

// WithNATSFormatter sets the payload formatter. Defaults to JSON.
func WithNATSFormatter(f formatters.Formatter) NATSOption {
	return func(d *NATSDestination) { d.formatter = f }
}

// WithFlushTimeout bounds how long Flush waits on the server round trip.
func WithFlushTimeout(timeout time.Duration) NATSOption {
	return func(d *NATSDestination) { d.flushTimeout = timeout }
}

// NewNATSDestination connects to url and publishes to subject. The
// connection is owned by the destination and closed with it.
func NewNATSDestination(url, subject string, opts ...NATSOption) (*NATSDestination, error) {
	if subject == "" {
		return nil, errors.New("nats subject must not be empty")
	}

	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, errors.Wrap(err, "connect to nats")
	}

	d := newNATSDestination(conn, subject, opts...)
	d.ownsConn = true
	return d, nil
}

// NewNATSDestinationWithConn wraps an existing connection. The caller keeps
// ownership; Close will not close the connection.
func NewNATSDestinationWithConn(conn *nats.Conn, subject string, opts ...NATSOption) (*NATSDestination, error) {
	if conn == nil {
		return nil, errors.New("nats connection must not be nil")
	}
	if subject == "" {
		return nil, errors.New("nats subject must not be empty")
	}
	return newNATSDestination(conn, subject, opts...), nil
}

func newNATSDestination(conn *nats.Conn, subject string, opts ...NATSOption) *NATSDestination {
	d := &NATSDestination{
		conn:         conn,
		subject:      subject,
		formatter:    formatters.NewJSONFormatter(),
		flushTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver implements types.Destination.
func (d *NATSDestination) Deliver(batch []*types.LogEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errors.New("nats destination is closed")
	}

	batchID := uuid.NewString()
	size := strconv.Itoa(len(batch))

	for i, event := range batch {
		payload, err := d.formatter.Format(event)
		if err != nil {
			return errors.Wrap(err, "format event")
		}

		msg := nats.NewMsg(d.subject)
		msg.Data = payload
		msg.Header.Set(HeaderBatchID, batchID)
		msg.Header.Set(HeaderBatchSize, size)
		msg.Header.Set(HeaderBatchSeq, strconv.Itoa(i))

		if err := d.conn.PublishMsg(msg); err != nil {
			return errors.Wrapf(err, "publish event %d/%s", i, size)
		}
	}
	return nil
}

// Flush implements types.Destination, waiting for the server to acknowledge
// buffered publishes.
func (d *NATSDestination) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	return d.conn.FlushTimeout(d.flushTimeout)
}

// Close implements types.Destination; idempotent. An owned connection is
// drained so buffered publishes are not lost.
func (d *NATSDestination) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	if !d.ownsConn {
		return nil
	}
	if err := d.conn.Drain(); err != nil {
		d.conn.Close()
		return errors.Wrap(err, "drain nats connection")
	}
	return nil
}

// Subject returns the publish subject.
func (d *NATSDestination) Subject() string { return d.subject }

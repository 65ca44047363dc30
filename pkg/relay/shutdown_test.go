package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wayneeseguin/relay/pkg/types"
)

// hungDestination blocks inside Deliver until released, simulating a sink
// that stops making progress.
type hungDestination struct {
	started    chan struct{}
	release    chan struct{}
	once       sync.Once
	mu         sync.Mutex
	closeCalls int
}

func newHungDestination() *hungDestination {
	return &hungDestination{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (d *hungDestination) Deliver([]*types.LogEvent) error {
	d.once.Do(func() { close(d.started) })
	<-d.release
	return nil
}

func (d *hungDestination) Flush() error { return nil }

func (d *hungDestination) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeCalls++
	return nil
}

func (d *hungDestination) closeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeCalls
}

func TestShutdownClosesAllDestinations(t *testing.T) {
	a := &recordingDestination{}
	b := &recordingDestination{}
	l, err := New(Config{
		ErrorHandler: SilentErrorHandler,
		Destinations: []DestinationConfig{destCfg("a", a), destCfg("b", b)},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	report := l.Shutdown(FlushPending())

	if len(report.Outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(report.Outcomes))
	}
	if forced := report.Forced(); len(forced) != 0 {
		t.Errorf("forced = %v, want none", forced)
	}
	for name, dest := range map[string]*recordingDestination{"a": a, "b": b} {
		if dest.closeCount() != 1 {
			t.Errorf("destination %s Close called %d times, want 1", name, dest.closeCount())
		}
	}
	if !l.IsClosed() {
		t.Error("IsClosed = false after shutdown")
	}
}

func TestShutdownWithHungDestination(t *testing.T) {
	// A destination wedged inside Deliver must be abandoned and reported as
	// forced; its sibling drains and closes cleanly, and the call returns
	// within a bound rather than waiting on the hung sink.
	hung := newHungDestination()
	healthy := &recordingDestination{}
	t.Cleanup(func() { close(hung.release) })

	hungCfg := destCfg("hung", hung)
	hungCfg.FlushInterval = 5 * time.Millisecond
	l, err := New(Config{
		ErrorHandler: SilentErrorHandler,
		Destinations: []DestinationConfig{hungCfg, destCfg("healthy", healthy)},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	l.Information(context.Background(), "wedge the dispatcher", nil)
	select {
	case <-hung.started:
	case <-time.After(2 * time.Second):
		t.Fatal("hung destination never received a batch")
	}

	start := time.Now()
	report := l.Shutdown(Graceful(100 * time.Millisecond))
	elapsed := time.Since(start)

	if elapsed > 3*time.Second {
		t.Errorf("shutdown took %v; not bounded by the drain deadline", elapsed)
	}

	forced := report.Forced()
	if len(forced) != 1 || forced[0] != "hung" {
		t.Errorf("forced = %v, want exactly [hung]", forced)
	}
	if healthy.closeCount() != 1 {
		t.Errorf("healthy Close called %d times, want 1", healthy.closeCount())
	}
	if hung.closeCount() != 1 {
		t.Errorf("hung Close called %d times, want 1; close must run even after a failed drain", hung.closeCount())
	}
}

func TestShutdownIdempotent(t *testing.T) {
	dest := &recordingDestination{}
	l, err := New(Config{
		ErrorHandler: SilentErrorHandler,
		Destinations: []DestinationConfig{destCfg("a", dest)},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	first := l.Shutdown(FlushPending())
	second := l.Shutdown(Immediate())

	if first != second {
		t.Error("second Shutdown returned a different report")
	}
	if dest.closeCount() != 1 {
		t.Errorf("Close called %d times across two Shutdown calls, want 1", dest.closeCount())
	}
}

func TestImmediateDiscardsBacklog(t *testing.T) {
	dest := &recordingDestination{}
	cfg := destCfg("a", dest)
	cfg.FlushInterval = time.Hour // nothing drains on its own
	l, err := New(Config{
		ErrorHandler: SilentErrorHandler,
		Destinations: []DestinationConfig{cfg},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		l.Information(context.Background(), "queued", nil)
	}

	l.Shutdown(Immediate())

	if got := len(dest.messages()); got != 0 {
		t.Errorf("delivered %d events, want 0 under the immediate strategy", got)
	}
	if dest.closeCount() != 1 {
		t.Errorf("Close called %d times, want 1", dest.closeCount())
	}
}

func TestFlushPendingDrainsBacklog(t *testing.T) {
	dest := &recordingDestination{}
	cfg := destCfg("a", dest)
	cfg.FlushInterval = time.Hour
	l, err := New(Config{
		ErrorHandler: SilentErrorHandler,
		Destinations: []DestinationConfig{cfg},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	const n = 5
	for i := 0; i < n; i++ {
		l.Information(context.Background(), "queued", nil)
	}

	report := l.Shutdown(FlushPending())

	if got := len(dest.messages()); got != n {
		t.Errorf("delivered %d events, want %d", got, n)
	}
	if forced := report.Forced(); len(forced) != 0 {
		t.Errorf("forced = %v, want none", forced)
	}
}

func TestWriteAfterShutdownRejected(t *testing.T) {
	dest := &recordingDestination{}
	l, err := New(Config{
		ErrorHandler: SilentErrorHandler,
		Destinations: []DestinationConfig{destCfg("a", dest)},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	l.Shutdown(FlushPending())
	l.Information(context.Background(), "too late", nil)

	if got := len(dest.messages()); got != 0 {
		t.Errorf("delivered %d events after shutdown, want 0", got)
	}
	_, _, closedWrites := l.RejectionCounts()
	if closedWrites != 1 {
		t.Errorf("closed-write count = %d, want 1", closedWrites)
	}
}

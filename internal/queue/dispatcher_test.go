package queue

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/wayneeseguin/relay/pkg/types"
)

// recorder collects delivered batches under a lock.
type recorder struct {
	mu      sync.Mutex
	batches [][]Entry
	msgs    []string
}

func (r *recorder) deliver(batch []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	for _, e := range batch {
		r.msgs = append(r.msgs, e.Event.Message)
	}
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func (r *recorder) batchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDispatcherDeliversExactlyOnceInOrder(t *testing.T) {
	q := New(100, 80, types.DropOldest)
	rec := &recorder{}
	d := NewDispatcher(q, Config{BatchSize: 4, FlushInterval: 10 * time.Millisecond}, rec.deliver)
	d.Start()
	defer d.Close(time.Second)

	const n = 25
	for i := 0; i < n; i++ {
		q.Enqueue(testEntry(fmt.Sprintf("msg-%d", i)))
	}

	waitFor(t, 2*time.Second, func() bool { return len(rec.messages()) == n })

	got := rec.messages()
	for i, msg := range got {
		want := fmt.Sprintf("msg-%d", i)
		if msg != want {
			t.Errorf("position %d: got %q, want %q", i, msg, want)
		}
	}
}

func TestDispatcherBatchSizeTrigger(t *testing.T) {
	// With an hour-long interval, only occupancy crossing the batch size
	// can trigger the drain.
	q := New(100, 80, types.DropOldest)
	rec := &recorder{}
	d := NewDispatcher(q, Config{BatchSize: 3, FlushInterval: time.Hour}, rec.deliver)
	d.Start()
	defer d.Close(time.Second)

	q.Enqueue(testEntry("A"))
	q.Enqueue(testEntry("B"))
	q.Enqueue(testEntry("C"))

	waitFor(t, 2*time.Second, func() bool { return len(rec.messages()) == 3 })

	if rec.batchCount() != 1 {
		t.Errorf("delivered in %d batches, want 1", rec.batchCount())
	}
}

func TestDispatcherIntervalTrigger(t *testing.T) {
	q := New(100, 80, types.DropOldest)
	rec := &recorder{}
	d := NewDispatcher(q, Config{BatchSize: 64, FlushInterval: 20 * time.Millisecond}, rec.deliver)
	d.Start()
	defer d.Close(time.Second)

	q.Enqueue(testEntry("A"))
	q.Enqueue(testEntry("B"))

	waitFor(t, 2*time.Second, func() bool { return len(rec.messages()) == 2 })
}

func TestDispatcherFlush(t *testing.T) {
	t.Run("DrainsBelowBatchSize", func(t *testing.T) {
		q := New(100, 80, types.DropOldest)
		rec := &recorder{}
		d := NewDispatcher(q, Config{BatchSize: 64, FlushInterval: time.Hour}, rec.deliver)
		d.Start()
		defer d.Close(time.Second)

		q.Enqueue(testEntry("A"))
		q.Enqueue(testEntry("B"))

		if err := d.Flush(time.Second); err != nil {
			t.Fatalf("Flush failed: %v", err)
		}
		if got := rec.messages(); len(got) != 2 {
			t.Errorf("delivered %v, want 2 entries", got)
		}
	})

	t.Run("TimesOutOnHungDelivery", func(t *testing.T) {
		q := New(100, 80, types.DropOldest)
		release := make(chan struct{})
		d := NewDispatcher(q, Config{BatchSize: 1, FlushInterval: time.Hour}, func([]Entry) {
			<-release
		})
		d.Start()
		defer func() {
			close(release)
			d.Close(time.Second)
		}()

		q.Enqueue(testEntry("A"))

		err := d.Flush(50 * time.Millisecond)
		if !errors.Is(err, ErrFlushTimeout) {
			t.Errorf("Flush error = %v, want ErrFlushTimeout", err)
		}
	})
}

func TestDispatcherClose(t *testing.T) {
	t.Run("FinalDrainDeliversBacklog", func(t *testing.T) {
		q := New(100, 80, types.DropOldest)
		rec := &recorder{}
		d := NewDispatcher(q, Config{BatchSize: 64, FlushInterval: time.Hour}, rec.deliver)
		d.Start()

		for i := 0; i < 5; i++ {
			q.Enqueue(testEntry(fmt.Sprintf("msg-%d", i)))
		}

		if err := d.Close(time.Second); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if got := rec.messages(); len(got) != 5 {
			t.Errorf("delivered %d entries on close, want 5", len(got))
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		q := New(10, 8, types.DropOldest)
		rec := &recorder{}
		d := NewDispatcher(q, Config{BatchSize: 4, FlushInterval: 10 * time.Millisecond}, rec.deliver)
		d.Start()

		if err := d.Close(time.Second); err != nil {
			t.Fatalf("first Close failed: %v", err)
		}
		if err := d.Close(time.Second); err != nil {
			t.Errorf("second Close = %v, want nil no-op", err)
		}
		if !d.Closed() {
			t.Error("Closed() = false after Close")
		}
	})

	t.Run("TimesOutWhenWorkerIsHung", func(t *testing.T) {
		q := New(10, 8, types.DropOldest)
		release := make(chan struct{})
		started := make(chan struct{})
		var once sync.Once
		d := NewDispatcher(q, Config{BatchSize: 1, FlushInterval: time.Hour}, func([]Entry) {
			once.Do(func() { close(started) })
			<-release
		})
		d.Start()

		q.Enqueue(testEntry("A"))
		<-started

		err := d.Close(100 * time.Millisecond)
		if !errors.Is(err, ErrCloseTimeout) {
			t.Errorf("Close error = %v, want ErrCloseTimeout", err)
		}
		close(release)
	})

	t.Run("ZeroBudgetSkipsDrain", func(t *testing.T) {
		q := New(100, 80, types.DropOldest)
		rec := &recorder{}
		d := NewDispatcher(q, Config{BatchSize: 64, FlushInterval: time.Hour}, rec.deliver)
		d.Start()

		for i := 0; i < 5; i++ {
			q.Enqueue(testEntry("x"))
		}

		if err := d.Close(0); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if got := len(rec.messages()); got != 0 {
			t.Errorf("delivered %d entries with zero drain budget, want 0", got)
		}
	})
}

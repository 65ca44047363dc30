package backends

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/wayneeseguin/relay/pkg/formatters"
	"github.com/wayneeseguin/relay/pkg/types"
)

func makeEvent(level types.Level, message string) *types.LogEvent {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return types.NewLogEvent(ts, level, message, message, nil, nil)
}

func TestWriterDestinationDeliver(t *testing.T) {
	var buf bytes.Buffer
	d := NewWriterDestination(&buf, formatters.NewTextFormatter())

	batch := []*types.LogEvent{
		makeEvent(types.LevelInformation, "first"),
		makeEvent(types.LevelWarning, "second"),
	}
	if err := d.Deliver(batch); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("wrote %d lines, want 2: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "first") || !strings.Contains(lines[1], "second") {
		t.Errorf("lines out of order or incomplete: %q", lines)
	}
}

func TestWriterDestinationDefaultFormatter(t *testing.T) {
	var buf bytes.Buffer
	d := NewWriterDestination(&buf, nil)

	if err := d.Deliver([]*types.LogEvent{makeEvent(types.LevelError, "oops")}); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("default formatter output missing level: %q", buf.String())
	}
}

func TestWriterDestinationClose(t *testing.T) {
	var buf bytes.Buffer
	d := NewWriterDestination(&buf, nil)

	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if err := d.Deliver([]*types.LogEvent{makeEvent(types.LevelInformation, "late")}); err == nil {
		t.Error("Deliver after Close succeeded")
	}
}

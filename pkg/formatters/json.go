package formatters

import (
	"encoding/json"
	"time"

	"github.com/wayneeseguin/relay/pkg/types"
)

// Formatter converts a log event into the bytes a destination writes.
type Formatter interface {
	Format(event *types.LogEvent) ([]byte, error)
}

// JSONFormatter serializes events as single-line JSON objects.
type JSONFormatter struct {
	// TimestampFormat defaults to RFC3339Nano.
	TimestampFormat string
}

// NewJSONFormatter creates a JSON formatter with default options.
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{TimestampFormat: time.RFC3339Nano}
}

type jsonEvent struct {
	Timestamp  string                 `json:"timestamp"`
	Level      string                 `json:"level"`
	Message    string                 `json:"message"`
	Template   string                 `json:"template,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// Format implements Formatter.
func (f *JSONFormatter) Format(event *types.LogEvent) ([]byte, error) {
	tsFormat := f.TimestampFormat
	if tsFormat == "" {
		tsFormat = time.RFC3339Nano
	}

	je := jsonEvent{
		Timestamp:  event.Timestamp.Format(tsFormat),
		Level:      event.Level.String(),
		Message:    event.Message,
		Template:   event.Template,
		Properties: event.Properties,
	}
	if event.Err != nil {
		je.Error = event.Err.Error()
	}

	return json.Marshal(je)
}

// TextFormatter renders events as "[timestamp] LEVEL message key=value".
type TextFormatter struct {
	TimestampFormat string
}

// NewTextFormatter creates a text formatter with default options.
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{TimestampFormat: "2006-01-02 15:04:05.000"}
}

// Format implements Formatter.
func (f *TextFormatter) Format(event *types.LogEvent) ([]byte, error) {
	tsFormat := f.TimestampFormat
	if tsFormat == "" {
		tsFormat = "2006-01-02 15:04:05.000"
	}

	buf := make([]byte, 0, 64+len(event.Message))
	buf = append(buf, '[')
	buf = event.Timestamp.AppendFormat(buf, tsFormat)
	buf = append(buf, "] "...)
	buf = append(buf, event.Level.String()...)
	buf = append(buf, ' ')
	buf = append(buf, event.Message...)
	if event.Err != nil {
		buf = append(buf, " error="...)
		buf = appendQuoted(buf, event.Err.Error())
	}
	return buf, nil
}

func appendQuoted(buf []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' || s[i] == '"' {
			buf = append(buf, '"')
			buf = append(buf, s...)
			return append(buf, '"')
		}
	}
	return append(buf, s...)
}

package backends

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"github.com/wayneeseguin/relay/pkg/formatters"
	"github.com/wayneeseguin/relay/pkg/types"
)

// FileDestination appends formatted events to a log file. Writes are guarded
// by a flock so multiple processes can share the file safely. When the file
// exceeds MaxSize it is rotated aside with a timestamp suffix and the
// rotated copy is gzip-compressed.
type FileDestination struct {
	mu        sync.Mutex
	path      string
	file      *os.File
	lock      *flock.Flock
	formatter formatters.Formatter
	size      int64
	maxSize   int64
	compress  bool
	closed    bool
}

// FileOption configures a FileDestination.
type FileOption func(*FileDestination)

// WithMaxSize sets the rotation threshold in bytes. Zero disables rotation.
func WithMaxSize(maxSize int64) FileOption {
	return func(d *FileDestination) { d.maxSize = maxSize }
}

// WithCompression controls gzip compression of rotated files.
func WithCompression(enabled bool) FileOption {
	return func(d *FileDestination) { d.compress = enabled }
}

// WithFormatter sets the byte formatter. Defaults to JSON.
func WithFormatter(f formatters.Formatter) FileOption {
	return func(d *FileDestination) { d.formatter = f }
}

// NewFileDestination opens (creating if needed) the log file at path.
func NewFileDestination(path string, opts ...FileOption) (*FileDestination, error) {
	cleanPath := filepath.Clean(path)

	if err := os.MkdirAll(filepath.Dir(cleanPath), 0755); err != nil {
		return nil, errors.Wrap(err, "create log directory")
	}

	file, err := os.OpenFile(cleanPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "open log file")
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, errors.Wrap(err, "stat log file")
	}

	d := &FileDestination{
		path:      cleanPath,
		file:      file,
		lock:      flock.New(cleanPath + ".lock"),
		formatter: formatters.NewJSONFormatter(),
		size:      info.Size(),
		compress:  true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Deliver implements types.Destination.
func (d *FileDestination) Deliver(batch []*types.LogEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errors.New("file destination is closed")
	}

	if err := d.lock.Lock(); err != nil {
		return errors.Wrap(err, "acquire file lock")
	}
	defer func() { _ = d.lock.Unlock() }()

	for _, event := range batch {
		line, err := d.formatter.Format(event)
		if err != nil {
			return errors.Wrap(err, "format event")
		}
		line = append(line, '\n')

		if d.maxSize > 0 && d.size+int64(len(line)) > d.maxSize {
			if err := d.rotate(); err != nil {
				return errors.Wrap(err, "rotate log file")
			}
		}

		n, err := d.file.Write(line)
		d.size += int64(n)
		if err != nil {
			return errors.Wrap(err, "write event")
		}
	}
	return nil
}

// rotate moves the current file aside and reopens a fresh one. Must be
// called with d.mu held and the flock acquired.
func (d *FileDestination) rotate() error {
	if err := d.file.Close(); err != nil {
		return err
	}

	rotated := fmt.Sprintf("%s.%s", d.path, time.Now().UTC().Format("20060102T150405.000000000"))
	if err := os.Rename(d.path, rotated); err != nil {
		return err
	}

	file, err := os.OpenFile(d.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	d.file = file
	d.size = 0

	if d.compress {
		if err := compressFile(rotated); err != nil {
			// The uncompressed rotated file is still intact; surface the
			// error and keep logging.
			return errors.Wrap(err, "compress rotated file")
		}
	}
	return nil
}

// compressFile gzips src to src+".gz" and removes the original.
func compressFile(src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(src+".gz", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		_ = gz.Close()
		_ = out.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// Flush implements types.Destination, syncing file contents to disk.
func (d *FileDestination) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || d.file == nil {
		return nil
	}
	return d.file.Sync()
}

// Close implements types.Destination; idempotent.
func (d *FileDestination) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	var errs []error
	if err := d.file.Sync(); err != nil {
		errs = append(errs, errors.Wrap(err, "sync"))
	}
	if err := d.file.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, "close"))
	}
	if err := d.lock.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, "release lock"))
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Path returns the log file path.
func (d *FileDestination) Path() string { return d.path }

// Size returns the current file size in bytes.
func (d *FileDestination) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.size
}

package core

// streaming.go wraps job input so progress can be observed while a decode
// runs and oversized input is cut off without buffering it.

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
)

// ErrInputTooLarge is returned once a job's input exceeds the configured
// maximum size.
var ErrInputTooLarge = errors.New("input exceeds maximum size")

// StreamingCountingReader wraps an io.Reader to track bytes read.
// BytesRead and Progress may be called from other goroutines while the
// reader is in use.
type StreamingCountingReader struct {
	reader io.Reader
	read   atomic.Int64
	Total  int64 // If known (0 if unknown)
}

// NewStreamingCountingReader creates a counting reader with optional total size.
func NewStreamingCountingReader(r io.Reader, total int64) *StreamingCountingReader {
	return &StreamingCountingReader{
		reader: r,
		Total:  total,
	}
}

// Read implements io.Reader.
func (r *StreamingCountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.read.Add(int64(n))
	return n, err
}

// BytesRead returns the number of bytes read so far.
func (r *StreamingCountingReader) BytesRead() int64 {
	return r.read.Load()
}

// Progress returns the read progress as a percentage (0-100).
// Returns 0 if total is unknown.
func (r *StreamingCountingReader) Progress() int {
	if r.Total <= 0 {
		return 0
	}
	p := int(r.read.Load() * 100 / r.Total)
	if p > 100 {
		p = 100
	}
	return p
}

// sizeLimitedReader fails with ErrInputTooLarge when more than max bytes
// are available. Unlike io.LimitReader it does not report a silent EOF.
type sizeLimitedReader struct {
	r   io.Reader
	max int64
	n   int64
}

func (l *sizeLimitedReader) Read(p []byte) (int, error) {
	if l.n > l.max {
		return 0, fmt.Errorf("%w (%d bytes)", ErrInputTooLarge, l.max)
	}
	// Read at most one byte past the limit to detect overflow.
	if room := l.max - l.n + 1; int64(len(p)) > room {
		p = p[:room]
	}
	n, err := l.r.Read(p)
	l.n += int64(n)
	if l.n > l.max {
		return n - int(l.n-l.max), fmt.Errorf("%w (%d bytes)", ErrInputTooLarge, l.max)
	}
	return n, err
}

// WrapForStreaming wraps job input with a size cap (when maxSize > 0) and
// byte counting for progress tracking. The count covers bytes handed to
// the decoder.
func WrapForStreaming(r io.Reader, totalSize, maxSize int64) *StreamingCountingReader {
	if maxSize > 0 {
		r = &sizeLimitedReader{r: r, max: maxSize}
	}
	return NewStreamingCountingReader(r, totalSize)
}

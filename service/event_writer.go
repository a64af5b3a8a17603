package service

import (
	"bytes"
	"io"
	"sync"
)

// OutputWriter buffers console output and invokes onWrite (if set) with
// each chunk; the callback is a plain func so the monitor API can wire
// it to its own broadcaster.
type OutputWriter struct {
	buffer  bytes.Buffer
	onWrite func(chunk string)
	mu      sync.Mutex
}

// NewOutputWriter creates a writer that calls onWrite (if non-nil) after
// every successful Write.
func NewOutputWriter(onWrite func(chunk string)) *OutputWriter {
	return &OutputWriter{onWrite: onWrite}
}

// Write implements io.Writer.
func (w *OutputWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.buffer.Write(p)
	if err == nil && n > 0 && w.onWrite != nil {
		w.onWrite(string(p))
	}
	return n, err
}

// Drain returns buffered output and clears the buffer.
func (w *OutputWriter) Drain() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := w.buffer.String()
	w.buffer.Reset()
	return out
}

var _ io.Writer = (*OutputWriter)(nil)

package journal

import (
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// File appends events to a CBOR file on disk. It is safe for concurrent
// use from multiple goroutines.
type File struct {
	file    *os.File
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool
}

// Open opens or creates the journal file at path. Existing contents are
// preserved; new events are appended.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &File{
		file:    f,
		encoder: NewEncoder(f),
	}, nil
}

// Append writes one event to the file. Encoding and I/O errors are
// ignored; the journal must never disrupt the loop it is recording.
func (f *File) Append(e Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	_ = f.encoder.Encode(e)
}

// Close closes the journal file. Safe to call more than once; Append
// calls after Close are silently ignored.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	return f.file.Close()
}

// Compile-time interface satisfaction check.
var _ Journal = (*File)(nil)

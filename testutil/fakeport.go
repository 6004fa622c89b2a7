package testutil

import (
	"io"
	"strings"
	"sync"
	"time"
)

// FakePort is an in-memory serial port. Reads drain lines queued with
// FeedLine; writes accumulate for inspection. Thread-safe.
type FakePort struct {
	mu      sync.Mutex
	inbound []byte
	written []byte
	closed  bool

	// Failure injection
	ReadErr  error
	WriteErr error
	CloseErr error
	DrainErr error
}

// NewFakePort creates an open fake port.
func NewFakePort() *FakePort {
	return &FakePort{}
}

// FeedLine queues one newline-terminated line for the next Read.
func (f *FakePort) FeedLine(line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = append(f.inbound, []byte(line+"\n")...)
}

// FeedRaw queues raw bytes, useful for split-line and partial-frame cases.
func (f *FakePort) FeedRaw(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = append(f.inbound, b...)
}

func (f *FakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return 0, f.ReadErr
	}
	if f.closed {
		return 0, io.EOF
	}
	if len(f.inbound) == 0 {
		// Behaves like a serial read timeout with no data.
		return 0, nil
	}
	n := copy(p, f.inbound)
	f.inbound = f.inbound[n:]
	return n, nil
}

func (f *FakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteErr != nil {
		return 0, f.WriteErr
	}
	if f.closed {
		return 0, io.ErrClosedPipe
	}
	f.written = append(f.written, p...)
	return len(p), nil
}

func (f *FakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.CloseErr
}

func (f *FakePort) SetReadTimeout(time.Duration) error { return nil }

func (f *FakePort) ResetInputBuffer() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = nil
	return nil
}

func (f *FakePort) Drain() error { return f.DrainErr }

// Closed reports whether Close has been called.
func (f *FakePort) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Written returns everything written to the port as a string.
func (f *FakePort) Written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.written)
}

// WrittenLines returns the complete newline-terminated frames written so far.
func (f *FakePort) WrittenLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := strings.TrimSuffix(string(f.written), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// Package transport owns the serial link to the rig microcontroller:
// port enumeration, open/close lifecycle, line framing on the read side,
// and serialized writes on the command side.
package transport

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Otis-Lab-MUSC/reacher/errors"
	"github.com/Otis-Lab-MUSC/reacher/metric"
	"github.com/Otis-Lab-MUSC/reacher/pkg/retry"
)

// NoAvailablePorts is the sentinel entry returned by ListPorts when no
// USB serial devices are connected. Callers must special-case it.
const NoAvailablePorts = "No available ports"

const (
	defaultBaudRate    = 115200
	defaultReleaseWait = 1 * time.Second
	defaultSettleWait  = 2 * time.Second
	defaultReadTimeout = 5 * time.Millisecond
)

// Port is the subset of a serial port the transport uses. go.bug.st's
// serial.Port satisfies it; tests substitute fakes.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Drain() error
}

// PortInfo describes one enumerated serial device.
type PortInfo struct {
	Name  string
	IsUSB bool
	VID   string
	PID   string
}

// ListFunc enumerates connected serial devices.
type ListFunc func() ([]PortInfo, error)

// OpenFunc opens a named port at the given baud rate.
type OpenFunc func(name string, baud int) (Port, error)

// Deps carries the dependencies for a Serial transport. List and Open
// default to the real hardware implementations when nil.
type Deps struct {
	Logger   *slog.Logger
	Registry *metric.Registry

	List ListFunc
	Open OpenFunc

	BaudRate    int
	ReleaseWait time.Duration
	SettleWait  time.Duration
	ReadTimeout time.Duration
}

// Serial manages a single serial connection to the microcontroller.
// One mutex guards the port handle and read-side framing state; writes
// take the same mutex so command frames never interleave.
type Serial struct {
	logger   *slog.Logger
	registry *metric.Registry

	list ListFunc
	open OpenFunc

	baudRate    int
	releaseWait time.Duration
	settleWait  time.Duration
	readTimeout time.Duration

	mu       sync.Mutex
	port     Port
	selected string
	partial  []byte
	pending  []string
	readBuf  []byte
}

// New creates a Serial transport from deps, filling production defaults
// for anything unset.
func New(deps Deps) *Serial {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "transport")
	}

	s := &Serial{
		logger:      logger,
		registry:    deps.Registry,
		list:        deps.List,
		open:        deps.Open,
		baudRate:    deps.BaudRate,
		releaseWait: deps.ReleaseWait,
		settleWait:  deps.SettleWait,
		readTimeout: deps.ReadTimeout,
		readBuf:     make([]byte, 4096),
	}

	if s.list == nil {
		s.list = enumeratePorts
	}
	if s.open == nil {
		s.open = openHardwarePort
	}
	if s.baudRate <= 0 {
		s.baudRate = defaultBaudRate
	}
	if s.releaseWait <= 0 {
		s.releaseWait = defaultReleaseWait
	}
	if s.settleWait <= 0 {
		s.settleWait = defaultSettleWait
	}
	if s.readTimeout <= 0 {
		s.readTimeout = defaultReadTimeout
	}

	return s
}

// ListPorts returns the names of connected USB serial devices. Ports
// without USB vendor/product descriptors are excluded so system UARTs
// and virtual consoles never show up as rig candidates.
func (s *Serial) ListPorts() []string {
	details, err := s.list()
	if err != nil {
		s.logger.Warn("port enumeration failed", "error", err)
		return []string{NoAvailablePorts}
	}

	var names []string
	for _, d := range details {
		if d.IsUSB && d.VID != "" && d.PID != "" {
			names = append(names, d.Name)
		}
	}
	if len(names) == 0 {
		return []string{NoAvailablePorts}
	}
	return names
}

// SelectPort records the port to open. A name that is not currently
// enumerable is ignored with a log line, not an error.
func (s *Serial) SelectPort(name string) {
	if name == "" || name == NoAvailablePorts {
		s.logger.Warn("ignoring port selection", "port", name)
		return
	}

	available := false
	for _, p := range s.ListPorts() {
		if p == name {
			available = true
			break
		}
	}
	if !available {
		s.logger.Warn("port not enumerable, selection ignored", "port", name)
		return
	}

	s.mu.Lock()
	s.selected = name
	s.mu.Unlock()
	s.logger.Info("serial port selected", "port", name)
}

// Selected returns the currently selected port name, or empty.
func (s *Serial) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// IsOpen reports whether the port is currently open.
func (s *Serial) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}

// Open opens the selected port. An already-open port is closed first and
// the OS given time to release the handle before reopening. After the
// open succeeds the microcontroller gets a settle delay, then the input
// buffer is flushed so boot-time noise is not decoded as data.
func (s *Serial) Open(ctx context.Context) error {
	s.mu.Lock()
	name := s.selected
	s.mu.Unlock()

	if name == "" {
		return errors.WrapInvalid(errors.ErrNoPortSelected, "transport", "Open", "open serial port")
	}

	if s.IsOpen() {
		s.Close()
		if err := sleepCtx(ctx, s.releaseWait); err != nil {
			return errors.WrapTransient(err, "transport", "Open", "wait for port release")
		}
	}

	var port Port
	err := retry.Do(ctx, retry.Quick(), func() error {
		p, openErr := s.open(name, s.baudRate)
		if openErr != nil {
			return openErr
		}
		port = p
		return nil
	})
	if err != nil {
		s.logger.Error("serial open failed", "port", name, "error", err)
		return errors.WrapTransient(errors.ErrOpenFailed, "transport", "Open", err.Error())
	}

	if err := port.SetReadTimeout(s.readTimeout); err != nil {
		port.Close()
		return errors.WrapTransient(err, "transport", "Open", "set read timeout")
	}

	if err := sleepCtx(ctx, s.settleWait); err != nil {
		port.Close()
		return errors.WrapTransient(err, "transport", "Open", "wait for controller settle")
	}

	if err := port.ResetInputBuffer(); err != nil {
		s.logger.Warn("input flush after open failed", "port", name, "error", err)
	}

	s.mu.Lock()
	s.port = port
	s.partial = nil
	s.pending = nil
	s.mu.Unlock()

	s.logger.Info("serial port open", "port", name, "baud", s.baudRate)
	return nil
}

// Close flushes and closes the port. Best-effort: it never fails on an
// already-closed port and logs rather than returns teardown faults.
func (s *Serial) Close() {
	s.mu.Lock()
	port := s.port
	s.port = nil
	s.partial = nil
	s.pending = nil
	s.mu.Unlock()

	if port == nil {
		return
	}

	if err := port.Drain(); err != nil {
		s.logger.Warn("drain before close failed", "error", err)
		s.countTeardownFault()
	}
	if err := port.Close(); err != nil {
		s.logger.Warn("serial close failed", "error", err)
		s.countTeardownFault()
	} else {
		s.logger.Info("serial port closed")
	}
}

// Write sends raw bytes to the controller. Fails when the port is not
// open; frames from concurrent callers never interleave.
func (s *Serial) Write(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return errors.WrapTransient(errors.ErrPortNotOpen, "transport", "Write", "write to serial port")
	}
	if _, err := s.port.Write(b); err != nil {
		return errors.WrapTransient(err, "transport", "Write", "write to serial port")
	}
	return nil
}

// WriteLine sends one newline-terminated frame.
func (s *Serial) WriteLine(line string) error {
	return s.Write(append([]byte(line), '\n'))
}

// ReadLine returns the next complete line from the port, without its
// terminator, or empty when no full line is buffered yet. A read timeout
// with no data is not an error.
func (s *Serial) ReadLine() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if line, ok := s.nextPending(); ok {
		return line, nil
	}

	if s.port == nil {
		return "", errors.WrapTransient(errors.ErrPortNotOpen, "transport", "ReadLine", "read from serial port")
	}

	n, err := s.port.Read(s.readBuf)
	if n > 0 {
		s.ingest(s.readBuf[:n])
	}
	if err != nil && err != io.EOF {
		return "", errors.WrapTransient(err, "transport", "ReadLine", "read from serial port")
	}

	if line, ok := s.nextPending(); ok {
		return line, nil
	}
	return "", nil
}

// ingest splits newly read bytes into complete lines, carrying any
// trailing partial line forward. Caller holds mu.
func (s *Serial) ingest(b []byte) {
	s.partial = append(s.partial, b...)
	for {
		i := bytes.IndexByte(s.partial, '\n')
		if i < 0 {
			return
		}
		line := string(bytes.TrimRight(s.partial[:i], "\r"))
		s.partial = s.partial[i+1:]
		if line != "" {
			s.pending = append(s.pending, line)
			if s.registry != nil {
				s.registry.CoreMetrics().LinesRead.Inc()
			}
		}
	}
}

func (s *Serial) nextPending() (string, bool) {
	if len(s.pending) == 0 {
		return "", false
	}
	line := s.pending[0]
	s.pending = s.pending[1:]
	return line, true
}

func (s *Serial) countTeardownFault() {
	if s.registry != nil {
		s.registry.CoreMetrics().TeardownFault.Inc()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

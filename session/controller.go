// Package session is the engine's public surface: it owns the transport,
// the event store, the limit monitor, and the background workers, and it
// exposes the operations a GUI or CLI collaborator drives a rig with.
package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Otis-Lab-MUSC/reacher/errors"
	"github.com/Otis-Lab-MUSC/reacher/health"
	"github.com/Otis-Lab-MUSC/reacher/metric"
	"github.com/Otis-Lab-MUSC/reacher/monitor"
	"github.com/Otis-Lab-MUSC/reacher/pkg/worker"
	"github.com/Otis-Lab-MUSC/reacher/store"
	"github.com/Otis-Lab-MUSC/reacher/telemetry"
	"github.com/Otis-Lab-MUSC/reacher/wire"
)

// Transport is the serial link the controller drives. *transport.Serial
// satisfies it; tests substitute fakes.
type Transport interface {
	ListPorts() []string
	SelectPort(name string)
	Selected() string
	IsOpen() bool
	Open(ctx context.Context) error
	Close()
	WriteLine(line string) error
	ReadLine() (string, error)
}

const (
	defaultFlushWait   = 2 * time.Second
	defaultJoinTimeout = 5 * time.Second
	defaultReadIdle    = 5 * time.Millisecond
	defaultQueueSize   = 1024

	dataExtension = ".csv"
)

// Deps carries the controller's collaborators. Transport is required;
// the rest default sensibly.
type Deps struct {
	Logger    *slog.Logger
	Registry  *metric.Registry
	Transport Transport
	Store     *store.Store

	Now          func() time.Time
	FlushWait    time.Duration
	JoinTimeout  time.Duration
	ReadIdle     time.Duration
	QueueSize    int
	TickInterval time.Duration
}

// Controller runs one rig session end to end.
type Controller struct {
	logger   *slog.Logger
	registry *metric.Registry

	transport Transport
	store     *store.Store
	monitor   *monitor.Monitor
	pool      *worker.Pool[string]
	reader    *WorkerHandle

	now         func() time.Time
	flushWait   time.Duration
	joinTimeout time.Duration
	readIdle    time.Duration
	queueSize   int

	mu          sync.Mutex
	state       State
	startedOnce bool
	sessionID   uuid.UUID
	boxName     string
	outputFile  string
	destination string
	startTime   time.Time
	endTime     time.Time
	pausedAt    time.Time
	pausedTotal time.Duration
	createdAt   time.Time
}

// NewController wires a controller from deps.
func NewController(deps Deps) (*Controller, error) {
	if deps.Transport == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "session", "NewController", "transport is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "session")
	}

	c := &Controller{
		logger:      logger,
		registry:    deps.Registry,
		transport:   deps.Transport,
		store:       deps.Store,
		now:         deps.Now,
		flushWait:   deps.FlushWait,
		joinTimeout: deps.JoinTimeout,
		readIdle:    deps.ReadIdle,
		queueSize:   deps.QueueSize,
		state:       StateIdle,
		sessionID:   uuid.New(),
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.flushWait <= 0 {
		c.flushWait = defaultFlushWait
	}
	if c.joinTimeout <= 0 {
		c.joinTimeout = defaultJoinTimeout
	}
	if c.readIdle <= 0 {
		c.readIdle = defaultReadIdle
	}
	if c.queueSize <= 0 {
		c.queueSize = defaultQueueSize
	}
	if c.store == nil {
		c.store = store.New(store.Deps{
			Logger:   logger.With("component", "store"),
			Registry: deps.Registry,
		})
	}
	c.createdAt = c.now()

	c.monitor = monitor.New(monitor.Deps{
		Logger:       logger.With("component", "monitor"),
		Registry:     deps.Registry,
		Infusions:    c.store.InfusionCount,
		PausedTime:   c.PausedTime,
		Running:      c.Running,
		OnTrigger:    c.limitTriggered,
		Now:          c.now,
		TickInterval: deps.TickInterval,
	})

	c.pool = c.newPool()
	return c, nil
}

func (c *Controller) newPool() *worker.Pool[string] {
	return worker.NewPool(1, c.queueSize, c.dispatch)
}

// SetBoxName labels the rig box this controller drives.
func (c *Controller) SetBoxName(name string) {
	c.mu.Lock()
	c.boxName = name
	c.mu.Unlock()
}

// BoxName returns the rig box label.
func (c *Controller) BoxName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boxName
}

// SessionID returns the identifier of the current session epoch.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID.String()
}

// ConfigureLimit validates and installs the auto-stop policy.
func (c *Controller) ConfigureLimit(p monitor.Policy) error {
	return c.monitor.SetPolicy(p)
}

// LimitPolicy returns the installed policy.
func (c *Controller) LimitPolicy() monitor.Policy {
	return c.monitor.Policy()
}

// ConfigureOutput records where the export collaborator should write the
// session data. The filename gets the data extension appended if missing.
func (c *Controller) ConfigureOutput(filename, destination string) error {
	if filename == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "session", "ConfigureOutput", "filename is empty")
	}
	if !strings.HasSuffix(filename, dataExtension) {
		filename += dataExtension
	}
	c.mu.Lock()
	c.outputFile = filename
	c.destination = destination
	c.mu.Unlock()
	c.logger.Info("output configured", "file", filename, "destination", destination)
	return nil
}

// OutputPath returns the configured destination joined with the filename,
// or empty when output has not been configured.
func (c *Controller) OutputPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outputFile == "" {
		return ""
	}
	return filepath.Join(c.destination, c.outputFile)
}

// ListPorts and SelectPort pass through to the transport so collaborators
// only hold the controller.
func (c *Controller) ListPorts() []string { return c.transport.ListPorts() }

// SelectPort selects the serial port to use for the next OpenSession.
func (c *Controller) SelectPort(name string) { c.transport.SelectPort(name) }

// OpenSession opens the serial link, starts the background workers, and
// performs the link handshake. The controller settle delay has already
// elapsed when it returns.
func (c *Controller) OpenSession(ctx context.Context, port string) error {
	if port != "" {
		c.transport.SelectPort(port)
	}
	if c.transport.Selected() == "" {
		return errors.WrapInvalid(
			stderrors.Join(errors.ErrInvalidState, errors.ErrNoPortSelected),
			"session", "OpenSession", "no valid port selected")
	}

	if err := c.transport.Open(ctx); err != nil {
		return errors.WrapTransient(
			stderrors.Join(errors.ErrInvalidState, err),
			"session", "OpenSession", "transport failed to open")
	}

	if err := c.startWorkers(ctx); err != nil {
		c.transport.Close()
		return err
	}

	if err := c.transport.WriteLine(wire.TokenLink); err != nil {
		c.teardownWorkers()
		c.transport.Close()
		return errors.WrapTransient(err, "session", "OpenSession", "link handshake failed")
	}

	c.logger.Info("session opened", "port", c.transport.Selected(), "session_id", c.SessionID())
	return nil
}

// startWorkers brings up the dispatcher, reader, and limit monitor if
// they are not already alive.
func (c *Controller) startWorkers(ctx context.Context) error {
	c.mu.Lock()
	if c.pool.Stopped() {
		// A previous close drained and latched the dispatcher; a
		// reopened session needs a fresh one.
		c.pool = c.newPool()
	}
	pool := c.pool
	c.mu.Unlock()

	if err := pool.Start(ctx); err != nil && !stderrors.Is(err, worker.ErrPoolAlreadyStarted) {
		return errors.Wrap(err, "session", "startWorkers", "start dispatcher")
	}
	if err := c.monitor.Start(ctx); err != nil && !stderrors.Is(err, errors.ErrAlreadyStarted) {
		return errors.Wrap(err, "session", "startWorkers", "start limit monitor")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reader == nil || !c.reader.Alive() {
		c.reader = newHandle("reader")
		c.reader.run(c.readLoop)
	}
	return nil
}

// teardownWorkers joins the reader, drains the dispatcher, and stops the
// monitor loop. Best-effort: faults are logged and counted, never raised.
func (c *Controller) teardownWorkers() {
	c.mu.Lock()
	reader := c.reader
	c.mu.Unlock()

	if reader != nil {
		if err := reader.Join(c.joinTimeout); err != nil {
			c.logger.Warn("reader join timed out", "error", err)
			c.countTeardownFault()
		}
	}
	if err := c.pool.Stop(c.joinTimeout); err != nil {
		c.logger.Warn("dispatcher stop fault", "error", err)
		c.countTeardownFault()
	}
	if err := c.monitor.Stop(c.joinTimeout); err != nil {
		c.logger.Warn("monitor stop fault", "error", err)
		c.countTeardownFault()
	}
}

// CloseSession unlinks and tears the session down. Unconditionally
// best-effort: every step runs and nothing is raised.
func (c *Controller) CloseSession() {
	if c.transport.IsOpen() {
		if err := c.transport.WriteLine(wire.TokenUnlink); err != nil {
			c.logger.Warn("unlink write failed", "error", err)
			c.countTeardownFault()
		}
	}

	c.teardownWorkers()
	c.transport.Close()
	c.logger.Info("session closed", "session_id", c.SessionID())
}

// Start issues the program-start command and begins limit enforcement.
// Callable once per session epoch; Reset re-arms.
func (c *Controller) Start() error {
	if !c.transport.IsOpen() {
		return errors.WrapInvalid(
			stderrors.Join(errors.ErrInvalidState, errors.ErrPortNotOpen),
			"session", "Start", "serial port is not open")
	}

	c.mu.Lock()
	if c.startedOnce {
		c.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "session", "Start", "program already started this session")
	}
	c.mu.Unlock()

	if err := c.transport.WriteLine(wire.Cmd(wire.CmdStartProgram).Encode()); err != nil {
		return errors.WrapTransient(
			stderrors.Join(errors.ErrInvalidState, err),
			"session", "Start", "start command write failed")
	}
	c.countCommand("json")

	c.mu.Lock()
	c.startTime = c.now()
	c.state = StateRunning
	c.startedOnce = true
	start := c.startTime
	c.mu.Unlock()
	c.setStateGauge(StateRunning)

	if err := c.monitor.Arm(start); err != nil {
		c.logger.Warn("limit monitor did not arm", "error", err)
	}

	c.logger.Info("program started", "session_id", c.SessionID(), "start", start)
	return nil
}

// Pause suspends local session-time accounting. The device keeps
// reporting; no serial side effect.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return errors.WrapInvalid(errors.ErrInvalidState, "session", "Pause", "program is not running")
	}
	c.state = StatePaused
	c.pausedAt = c.now()
	c.setStateGaugeLocked(StatePaused)
	c.logger.Info("program paused")
	return nil
}

// Resume ends a pause and folds the paused span into the total.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePaused {
		return errors.WrapInvalid(errors.ErrInvalidState, "session", "Resume", "program is not paused")
	}
	c.pausedTotal += c.now().Sub(c.pausedAt)
	c.pausedAt = time.Time{}
	c.state = StateRunning
	c.setStateGaugeLocked(StateRunning)
	c.logger.Info("program resumed", "paused_total", c.pausedTotal)
	return nil
}

// Stop ends the program: stop command, flush wait, bookkeeping, then a
// full close. Idempotent; a second call is a no-op.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state != StateRunning && c.state != StatePaused {
		c.mu.Unlock()
		return nil
	}
	if c.state == StatePaused {
		c.pausedTotal += c.now().Sub(c.pausedAt)
		c.pausedAt = time.Time{}
	}
	c.state = StateStopped
	c.setStateGaugeLocked(StateStopped)
	c.mu.Unlock()

	c.monitor.Disarm()

	if c.transport.IsOpen() {
		if err := c.transport.WriteLine(wire.Cmd(wire.CmdStopProgram).Encode()); err != nil {
			c.logger.Warn("stop command write failed", "error", err)
		} else {
			c.countCommand("json")
		}
		// Let the controller flush its final events before teardown.
		time.Sleep(c.flushWait)
	}

	c.CloseSession()

	c.mu.Lock()
	c.endTime = c.now()
	c.mu.Unlock()
	c.logger.Info("program stopped", "session_id", c.SessionID(), "end", c.EndTime())
	return nil
}

// limitTriggered is the monitor's stop path. It runs on a fresh goroutine
// so the monitor tick loop is free to be joined during teardown.
func (c *Controller) limitTriggered(condition string) {
	c.logger.Info("limit monitor stopping session", "condition", condition)
	go func() {
		if err := c.Stop(); err != nil {
			c.logger.Error("limit-triggered stop failed", "error", err)
		}
	}()
}

// Reset recycles the controller for a fresh session: stop if live, clear
// all accumulated state, and stand up a fresh dispatcher and session ID.
// The transport keeps its port selection but stays closed.
func (c *Controller) Reset() error {
	c.mu.Lock()
	live := c.state == StateRunning || c.state == StatePaused
	c.mu.Unlock()

	if live {
		if err := c.Stop(); err != nil {
			return err
		}
	} else {
		c.teardownWorkers()
		c.transport.Close()
	}

	c.store.Clear()
	c.monitor.Reset()

	c.mu.Lock()
	c.state = StateIdle
	c.startedOnce = false
	c.startTime = time.Time{}
	c.endTime = time.Time{}
	c.pausedAt = time.Time{}
	c.pausedTotal = 0
	c.sessionID = uuid.New()
	c.reader = nil
	c.pool = c.newPool()
	c.setStateGaugeLocked(StateIdle)
	c.mu.Unlock()

	c.logger.Info("session reset", "session_id", c.SessionID())
	return nil
}

// SendCommand sends one JSON-framed hardware command.
func (c *Controller) SendCommand(cmd wire.Command) error {
	if err := c.transport.WriteLine(cmd.Encode()); err != nil {
		return errors.WrapTransient(err, "session", "SendCommand", cmd.String())
	}
	c.countCommand("json")
	return nil
}

// SendRaw sends one raw line, for legacy tokens and schedule setters.
func (c *Controller) SendRaw(line string) error {
	if err := c.transport.WriteLine(line); err != nil {
		return errors.WrapTransient(err, "session", "SendRaw", line)
	}
	c.countCommand("legacy")
	return nil
}

// ArmDevice enables or disables one hardware component by name.
func (c *Controller) ArmDevice(device string, armed bool) error {
	cmd, ok := wire.ArmCommand(device, armed)
	if !ok {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "session", "ArmDevice",
			fmt.Sprintf("unknown device %q", device))
	}
	return c.SendCommand(cmd)
}

// State returns the current program state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Running reports whether the program is live.
func (c *Controller) Running() bool {
	return c.State() == StateRunning
}

// StartTime returns the program start time, zero if not started.
func (c *Controller) StartTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startTime
}

// EndTime returns the program end time, zero if not stopped.
func (c *Controller) EndTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endTime
}

// PausedTime returns the total time spent paused, including a pause in
// progress.
func (c *Controller) PausedTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.pausedTotal
	if c.state == StatePaused {
		total += c.now().Sub(c.pausedAt)
	}
	return total
}

// Elapsed returns live session time: wall time since start minus time
// spent paused. Zero before start.
func (c *Controller) Elapsed() time.Duration {
	c.mu.Lock()
	start := c.startTime
	end := c.endTime
	c.mu.Unlock()

	if start.IsZero() {
		return 0
	}
	ref := c.now()
	if !end.IsZero() {
		ref = end
	}
	return ref.Sub(start) - c.PausedTime()
}

// BehaviorSnapshot returns the accumulated behavior events.
func (c *Controller) BehaviorSnapshot() []telemetry.BehaviorEvent {
	return c.store.BehaviorSnapshot()
}

// FrameSnapshot returns the accumulated frame events.
func (c *Controller) FrameSnapshot() []telemetry.FrameEvent {
	return c.store.FrameSnapshot()
}

// DeviceConfigSnapshot returns the firmware configuration reported so far.
func (c *Controller) DeviceConfigSnapshot() telemetry.DeviceConfig {
	return c.store.DeviceConfigSnapshot()
}

// InfusionCount returns the number of recorded pump infusions.
func (c *Controller) InfusionCount() int {
	return c.store.InfusionCount()
}

// Health reports the controller's condition with transport, dispatcher,
// and store substatuses.
func (c *Controller) Health() health.Status {
	s := health.Healthy("session", c.State().String())

	if c.transport.IsOpen() {
		s = s.WithSubStatus(health.Healthy("transport", "port open: "+c.transport.Selected()))
	} else if c.State() == StateRunning || c.State() == StatePaused {
		s = s.WithSubStatus(health.Unhealthy("transport", "port closed while program live"))
	} else {
		s = s.WithSubStatus(health.Healthy("transport", "port closed"))
	}

	stats := c.pool.Stats()
	dispatch := health.Healthy("dispatcher", "")
	if stats.Rejected > 0 {
		dispatch = health.Degraded("dispatcher", "lines rejected by full queue")
	}
	s = s.WithSubStatus(dispatch.WithMetrics(&health.Metrics{
		Uptime:          c.now().Sub(c.createdAt),
		LinesDispatched: stats.Processed,
		LinesRejected:   stats.Rejected,
	}))

	behaviors, frames := c.store.Counts()
	s = s.WithSubStatus(health.Healthy("store",
		fmt.Sprintf("%d behavior events, %d frames", behaviors, frames)))
	return s
}

func (c *Controller) setStateGauge(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStateGaugeLocked(s)
}

func (c *Controller) setStateGaugeLocked(s State) {
	if c.registry != nil {
		c.registry.CoreMetrics().SessionState.WithLabelValues(c.boxName).Set(float64(s))
	}
}

func (c *Controller) countCommand(framing string) {
	if c.registry != nil {
		c.registry.CoreMetrics().CommandsSent.WithLabelValues(framing).Inc()
	}
}

func (c *Controller) countTeardownFault() {
	if c.registry != nil {
		c.registry.CoreMetrics().TeardownFault.Inc()
	}
}

// Package monitor watches a running session against its limit policy and
// invokes the session's stop path when a limit is reached.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Otis-Lab-MUSC/reacher/errors"
	"github.com/Otis-Lab-MUSC/reacher/metric"
)

// Kind selects which limit conditions a policy enforces.
type Kind int

const (
	KindNone Kind = iota
	KindTime
	KindInfusion
	KindBoth
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindTime:
		return "Time"
	case KindInfusion:
		return "Infusion"
	case KindBoth:
		return "Both"
	default:
		return "Unknown"
	}
}

// ParseKind maps a configuration string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "none", "None":
		return KindNone, nil
	case "time", "Time":
		return KindTime, nil
	case "infusion", "Infusion":
		return KindInfusion, nil
	case "both", "Both":
		return KindBoth, nil
	default:
		return KindNone, errors.WrapInvalid(errors.ErrInvalidPolicy, "monitor", "ParseKind", s)
	}
}

// Policy is the auto-stop rule for one session.
type Policy struct {
	Kind          Kind
	TimeLimit     time.Duration
	InfusionLimit int
	StopDelay     time.Duration
}

// Validate checks that the policy's limits match its kind.
func (p Policy) Validate() error {
	if p.TimeLimit < 0 || p.InfusionLimit < 0 || p.StopDelay < 0 {
		return errors.WrapInvalid(errors.ErrNegativeLimit, "monitor", "Validate", "limit policy")
	}
	switch p.Kind {
	case KindNone:
		return nil
	case KindTime:
		if p.TimeLimit == 0 {
			return errors.WrapInvalid(errors.ErrMissingLimit, "monitor", "Validate", "time limit required")
		}
	case KindInfusion:
		if p.InfusionLimit == 0 {
			return errors.WrapInvalid(errors.ErrMissingLimit, "monitor", "Validate", "infusion limit required")
		}
	case KindBoth:
		if p.TimeLimit == 0 || p.InfusionLimit == 0 {
			return errors.WrapInvalid(errors.ErrMissingLimit, "monitor", "Validate", "time and infusion limits required")
		}
	default:
		return errors.WrapInvalid(errors.ErrInvalidPolicy, "monitor", "Validate", "unknown limit kind")
	}
	return nil
}

const defaultTickInterval = 100 * time.Millisecond

// State is the monitor's position in its arm/trigger cycle.
type State int

const (
	StateIdle State = iota
	StateArmed
	StateTriggered
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateArmed:
		return "Armed"
	case StateTriggered:
		return "Triggered"
	default:
		return "Unknown"
	}
}

// Deps carries the monitor's collaborators. Infusions reads the event
// store; PausedTime reads the session's accumulated pause bookkeeping;
// Running reports whether the program is live (ticks are no-ops while it
// is not); OnTrigger is the session's stop path.
type Deps struct {
	Logger   *slog.Logger
	Registry *metric.Registry

	Infusions  func() int
	PausedTime func() time.Duration
	Running    func() bool
	OnTrigger  func(condition string)

	Now          func() time.Time
	TickInterval time.Duration
}

// Monitor runs the limit state machine over {Idle, Armed, Triggered}.
type Monitor struct {
	logger   *slog.Logger
	registry *metric.Registry

	infusions      func() int
	pausedTime     func() time.Duration
	programRunning func() bool
	onTrigger      func(condition string)
	now            func() time.Time
	tick           time.Duration

	mu           sync.Mutex
	state        State
	policy       Policy
	startTime    time.Time
	lastInfusion time.Time
	latched      bool
	spent        bool

	running  atomic.Bool
	shutdown chan struct{}
	done     chan struct{}
}

// New creates a Monitor. Infusions and OnTrigger are required.
func New(deps Deps) *Monitor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "monitor")
	}
	m := &Monitor{
		logger:         logger,
		registry:       deps.Registry,
		infusions:      deps.Infusions,
		pausedTime:     deps.PausedTime,
		programRunning: deps.Running,
		onTrigger:      deps.OnTrigger,
		now:            deps.Now,
		tick:           deps.TickInterval,
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.pausedTime == nil {
		m.pausedTime = func() time.Duration { return 0 }
	}
	if m.programRunning == nil {
		m.programRunning = func() bool { return true }
	}
	if m.tick <= 0 {
		m.tick = defaultTickInterval
	}
	return m
}

// SetPolicy validates and installs the limit policy. Allowed while Idle
// or Armed; an armed monitor re-evaluates against the new policy on the
// next tick.
func (m *Monitor) SetPolicy(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.policy = p
	m.mu.Unlock()
	m.logger.Info("limit policy set",
		"kind", p.Kind.String(),
		"time_limit", p.TimeLimit,
		"infusion_limit", p.InfusionLimit,
		"stop_delay", p.StopDelay)
	return nil
}

// Policy returns the current policy.
func (m *Monitor) Policy() Policy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy
}

// Arm starts enforcement against the given program start time. A monitor
// that already fired must be Reset before it can arm again.
func (m *Monitor) Arm(start time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.spent {
		return errors.WrapInvalid(errors.ErrInvalidState, "monitor", "Arm", "monitor already fired, reset required")
	}
	if m.state != StateIdle {
		return errors.WrapInvalid(errors.ErrInvalidState, "monitor", "Arm", "monitor already armed")
	}
	m.startTime = start
	m.state = StateArmed
	return nil
}

// Disarm returns the monitor to Idle without clearing the latch; a
// session that stopped by hand keeps its history until Reset.
func (m *Monitor) Disarm() {
	m.mu.Lock()
	m.state = StateIdle
	m.mu.Unlock()
}

// Reset clears policy enforcement state for a fresh session: latch,
// start time, and the fired flag.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.state = StateIdle
	m.startTime = time.Time{}
	m.lastInfusion = time.Time{}
	m.latched = false
	m.spent = false
	m.mu.Unlock()
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start launches the tick loop.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "monitor", "Start", "tick loop already running")
	}
	m.shutdown = make(chan struct{})
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.shutdown:
				return
			case <-ticker.C:
				m.Check()
			}
		}
	}()
	return nil
}

// Stop halts the tick loop, waiting up to timeout for it to exit.
func (m *Monitor) Stop(timeout time.Duration) error {
	if !m.running.CompareAndSwap(true, false) {
		return nil
	}
	close(m.shutdown)
	select {
	case <-m.done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrJoinTimeout, "monitor", "Stop", "tick loop did not exit")
	}
}

// Check runs one evaluation of the limit conditions. Exposed so tests
// drive the state machine without the ticker.
func (m *Monitor) Check() {
	m.mu.Lock()

	if m.state != StateArmed || m.policy.Kind == KindNone || m.startTime.IsZero() {
		m.mu.Unlock()
		return
	}

	// A paused program keeps its latch and countdown frozen; ticks
	// resume with the program.
	if !m.programRunning() {
		m.mu.Unlock()
		return
	}

	if m.registry != nil {
		m.registry.CoreMetrics().LimitChecks.Inc()
	}

	now := m.now()
	elapsed := now.Sub(m.startTime) - m.pausedTime()

	timeHit := false
	if m.policy.Kind == KindTime || m.policy.Kind == KindBoth {
		timeHit = elapsed >= m.policy.TimeLimit
	}

	delayHit := false
	if m.policy.Kind == KindInfusion || m.policy.Kind == KindBoth {
		if !m.latched && m.infusions() >= m.policy.InfusionLimit {
			m.latched = true
			m.lastInfusion = now
			m.logger.Info("infusion limit reached, stop delay running",
				"stop_delay", m.policy.StopDelay)
		}
		if m.latched {
			delayHit = now.Sub(m.lastInfusion) >= m.policy.StopDelay
		}
	}

	var condition string
	switch {
	case m.policy.Kind == KindTime && timeHit:
		condition = "time"
	case m.policy.Kind == KindInfusion && delayHit:
		condition = "infusion"
	case m.policy.Kind == KindBoth && timeHit:
		condition = "time"
	case m.policy.Kind == KindBoth && delayHit:
		condition = "infusion"
	default:
		m.mu.Unlock()
		return
	}

	m.state = StateTriggered
	m.spent = true
	onTrigger := m.onTrigger
	m.mu.Unlock()

	if m.registry != nil {
		m.registry.CoreMetrics().LimitTrips.WithLabelValues(condition).Inc()
	}
	m.logger.Info("limit reached, stopping session",
		"condition", condition, "elapsed", elapsed)

	if onTrigger != nil {
		onTrigger(condition)
	}

	m.mu.Lock()
	m.state = StateIdle
	m.mu.Unlock()
}

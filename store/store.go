// Package store accumulates the telemetry a session produces: behavior
// events, frame timestamps, and the device configuration the controller
// reports. One RW mutex covers all of it so the limit monitor always
// reads a snapshot consistent with the dispatcher's writes.
package store

import (
	"log/slog"
	"sync"

	"github.com/Otis-Lab-MUSC/reacher/metric"
	"github.com/Otis-Lab-MUSC/reacher/telemetry"
)

// Store is the append-only event accumulator for one session.
type Store struct {
	logger   *slog.Logger
	registry *metric.Registry

	mu        sync.RWMutex
	behaviors []telemetry.BehaviorEvent
	frames    []telemetry.FrameEvent
	config    telemetry.DeviceConfig
}

// Deps carries Store dependencies.
type Deps struct {
	Logger   *slog.Logger
	Registry *metric.Registry
}

// New creates an empty Store.
func New(deps Deps) *Store {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "store")
	}
	return &Store{
		logger:   logger,
		registry: deps.Registry,
		config:   telemetry.NewDeviceConfig(),
	}
}

// AppendBehavior records one behavior event in arrival order.
func (s *Store) AppendBehavior(ev telemetry.BehaviorEvent) {
	s.mu.Lock()
	s.behaviors = append(s.behaviors, ev)
	s.mu.Unlock()

	if s.registry != nil {
		s.registry.CoreMetrics().LinesDecoded.WithLabelValues("behavior").Inc()
	}
	s.logger.Debug("behavior recorded",
		"device", ev.Device, "action", ev.Action,
		"start", ev.Start.String(), "end", ev.End.String())
}

// AppendFrame records one microscope frame timestamp.
func (s *Store) AppendFrame(ev telemetry.FrameEvent) {
	s.mu.Lock()
	s.frames = append(s.frames, ev)
	s.mu.Unlock()

	if s.registry != nil {
		s.registry.CoreMetrics().LinesDecoded.WithLabelValues("frame").Inc()
	}
}

// BehaviorSnapshot returns a copy of the behavior sequence in arrival order.
func (s *Store) BehaviorSnapshot() []telemetry.BehaviorEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]telemetry.BehaviorEvent, len(s.behaviors))
	copy(out, s.behaviors)
	return out
}

// FrameSnapshot returns a copy of the frame sequence in arrival order.
func (s *Store) FrameSnapshot() []telemetry.FrameEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]telemetry.FrameEvent, len(s.frames))
	copy(out, s.frames)
	return out
}

// InfusionCount counts recorded pump infusions. The scan runs under the
// same lock as appends so the monitor never sees a torn count.
func (s *Store) InfusionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for i := range s.behaviors {
		if s.behaviors[i].IsInfusion() {
			n++
		}
	}
	return n
}

// Counts returns the behavior and frame totals.
func (s *Store) Counts() (behaviors, frames int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.behaviors), len(s.frames)
}

// MergeDeviceConfig folds one device's reported fields into the cached
// configuration.
func (s *Store) MergeDeviceConfig(device string, fields map[string]any) {
	if device == "" || len(fields) == 0 {
		return
	}
	s.mu.Lock()
	s.config.Merge(device, fields)
	s.mu.Unlock()

	s.logger.Debug("device configuration updated", "device", device)
}

// DeviceConfigSnapshot returns a deep copy of the cached configuration.
func (s *Store) DeviceConfigSnapshot() telemetry.DeviceConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Clone()
}

// Clear drops all accumulated events and configuration.
func (s *Store) Clear() {
	s.mu.Lock()
	s.behaviors = nil
	s.frames = nil
	s.config = telemetry.NewDeviceConfig()
	s.mu.Unlock()

	s.logger.Info("event store cleared")
}

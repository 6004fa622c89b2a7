// Package health describes the engine's runtime condition in a form the
// GUI collaborator can poll and render without knowing rig internals.
package health

import "time"

// Status is the health state of one part of the engine, with optional
// nested substatuses for composite parts.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"` // "healthy", "degraded", "unhealthy"
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics carries the activity counters attached to a status.
type Metrics struct {
	Uptime          time.Duration `json:"uptime"`
	LinesDispatched int64         `json:"lines_dispatched,omitempty"`
	LinesRejected   int64         `json:"lines_rejected,omitempty"`
	LastActivity    time.Time     `json:"last_activity,omitempty"`
}

// Healthy builds a healthy status for a component.
func Healthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    "healthy",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Degraded builds a degraded status: operational but impaired.
func Degraded(component, message string) Status {
	return Status{
		Component: component,
		Status:    "degraded",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Unhealthy builds an unhealthy status.
func Unhealthy(component, message string) Status {
	return Status{
		Component: component,
		Status:    "unhealthy",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// IsHealthy reports whether the status is healthy.
func (s Status) IsHealthy() bool {
	return s.Status == "healthy"
}

// IsDegraded reports whether the status is degraded.
func (s Status) IsDegraded() bool {
	return s.Status == "degraded"
}

// IsUnhealthy reports whether the status is unhealthy.
func (s Status) IsUnhealthy() bool {
	return s.Status == "unhealthy"
}

// WithMetrics returns a copy of the status with metrics attached.
func (s Status) WithMetrics(m *Metrics) Status {
	s.Metrics = m
	return s
}

// WithSubStatus returns a copy with one substatus appended. A composite
// degrades to its worst substatus.
func (s Status) WithSubStatus(sub Status) Status {
	subs := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(subs, s.SubStatuses)
	s.SubStatuses = append(subs, sub)

	if sub.IsUnhealthy() && !s.IsUnhealthy() {
		s.Status = "unhealthy"
		s.Healthy = false
	} else if sub.IsDegraded() && s.IsHealthy() {
		s.Status = "degraded"
		s.Healthy = false
	}
	return s
}

// Package telemetry defines the typed records the engine accumulates for a
// session: behavioral events, imaging frame events, device-clock stamps, and
// the firmware configuration reported by the microcontroller after a link.
package telemetry

import (
	"fmt"
	"strconv"
)

// Device names as reported by the firmware.
const (
	DeviceLeverLH     = "LH_LEVER"
	DeviceLeverRH     = "RH_LEVER"
	DeviceSwitchLever = "SWITCH_LEVER"
	DevicePump        = "PUMP"
	DeviceLickCircuit = "LICK_CIRCUIT"
	DeviceLaser       = "LASER"
	DeviceMicroscope  = "MICROSCOPE"
	DeviceController  = "CONTROLLER"
)

// Action names as reported by the firmware.
const (
	ActionActivePress   = "ACTIVE_PRESS"
	ActionTimeoutPress  = "TIMEOUT_PRESS"
	ActionInactivePress = "INACTIVE_PRESS"
	ActionLick          = "LICK"
	ActionInfusion      = "INFUSION"
	ActionStim          = "STIM"
	ActionStart         = "START"
)

// Stamp is a device-clock timestamp in milliseconds since sketch start.
// The firmware reports "_" for slots it does not populate; such stamps have
// Known == false and render back as "_".
type Stamp struct {
	Ms    int64
	Known bool
}

// ParseStamp parses a wire timestamp field. The wildcard "_" yields an
// unknown stamp; any other value must be a base-10 integer.
func ParseStamp(s string) (Stamp, error) {
	if s == "_" {
		return Stamp{}, nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Stamp{}, fmt.Errorf("stamp %q: %w", s, err)
	}
	return Stamp{Ms: ms, Known: true}, nil
}

// StampOf returns a known stamp at the given device-clock millisecond.
func StampOf(ms int64) Stamp {
	return Stamp{Ms: ms, Known: true}
}

// String renders the stamp in its wire form.
func (s Stamp) String() string {
	if !s.Known {
		return "_"
	}
	return strconv.FormatInt(s.Ms, 10)
}

// MarshalJSON renders known stamps as integers and unknown stamps as "_",
// matching the firmware's own framing.
func (s Stamp) MarshalJSON() ([]byte, error) {
	if !s.Known {
		return []byte(`"_"`), nil
	}
	return []byte(strconv.FormatInt(s.Ms, 10)), nil
}

// BehaviorEvent is one timestamped occurrence on a physical device: a lever
// press, a lick, a pump infusion, a laser pulse. Events are immutable once
// created and are only ever appended during a session.
type BehaviorEvent struct {
	Device string `json:"device"`
	Action string `json:"action"`
	Start  Stamp  `json:"start_timestamp"`
	End    Stamp  `json:"end_timestamp"`
}

// IsInfusion reports whether the event is a pump infusion, the event class
// the infusion limit counts.
func (e BehaviorEvent) IsInfusion() bool {
	return e.Device == DevicePump && e.Action == ActionInfusion
}

// FrameEvent is a single device-clock timestamp marking one externally
// triggered imaging-camera frame.
type FrameEvent struct {
	Timestamp string `json:"timestamp"`
}

// ControllerInfo holds the identity block the firmware reports for itself
// after a link handshake.
type ControllerInfo struct {
	Sketch      string `json:"sketch,omitempty"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
}

// DeviceConfig maps each hardware component to the firmware defaults it
// reported (frequency, duration, and similar), with the CONTROLLER entry
// carried separately as structured identity. Populated incrementally as
// configuration messages arrive after LINK.
type DeviceConfig struct {
	Devices    map[string]map[string]any `json:"devices"`
	Controller ControllerInfo            `json:"controller"`
}

// NewDeviceConfig returns an empty configuration ready for merging.
func NewDeviceConfig() DeviceConfig {
	return DeviceConfig{Devices: make(map[string]map[string]any)}
}

// Merge folds one device's reported fields into the configuration. A
// CONTROLLER payload updates the identity block instead of the device map.
func (dc *DeviceConfig) Merge(device string, fields map[string]any) {
	if device == DeviceController {
		if v, ok := fields["sketch"].(string); ok {
			dc.Controller.Sketch = v
		}
		if v, ok := fields["version"].(string); ok {
			dc.Controller.Version = v
		}
		if v, ok := fields["description"].(string); ok {
			dc.Controller.Description = v
		}
		return
	}
	if dc.Devices == nil {
		dc.Devices = make(map[string]map[string]any)
	}
	entry := dc.Devices[device]
	if entry == nil {
		entry = make(map[string]any, len(fields))
		dc.Devices[device] = entry
	}
	for k, v := range fields {
		entry[k] = v
	}
}

// Clone returns a deep copy safe to hand to collaborators while the
// dispatcher keeps merging.
func (dc DeviceConfig) Clone() DeviceConfig {
	out := DeviceConfig{
		Devices:    make(map[string]map[string]any, len(dc.Devices)),
		Controller: dc.Controller,
	}
	for device, fields := range dc.Devices {
		entry := make(map[string]any, len(fields))
		for k, v := range fields {
			entry[k] = v
		}
		out.Devices[device] = entry
	}
	return out
}

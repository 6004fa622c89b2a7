// Package wire implements the line protocol spoken between the engine and
// the microcontroller: decoding of inbound telemetry lines (JSON-framed
// leveled messages with a legacy positional fallback) and encoding of
// outbound commands (JSON command frames and legacy plain tokens).
package wire

import (
	"encoding/json"
	"strings"

	"github.com/Otis-Lab-MUSC/reacher/telemetry"
)

// Leveled message codes reported in the "level" (or "code") field of a
// JSON-framed inbound line. The code selects the handler, not the field set.
const (
	LevelConfig = 100 // firmware/hardware configuration report
	LevelInfo   = 200 // informational log line from the sketch
	LevelEvent  = 300 // behavioral event
	LevelFrame  = 310 // imaging frame timestamp
	LevelError  = 400 // error log line from the sketch
)

// Kind tags a decoded message. Dispatch over the union is an explicit switch
// rather than a lookup table so every variant is handled somewhere.
type Kind int

const (
	// KindInert marks a line that decoded to nothing actionable. Inert lines
	// are logged and dropped; they never abort the dispatcher.
	KindInert Kind = iota
	// KindDeviceConfig carries firmware defaults for one device, or a bulk
	// configuration object when the sketch reports everything at once.
	KindDeviceConfig
	// KindLogInfo is an informational log line from the firmware.
	KindLogInfo
	// KindLogError is an error log line from the firmware.
	KindLogError
	// KindBehavior is one behavioral event.
	KindBehavior
	// KindFrame is one imaging frame timestamp.
	KindFrame
)

// String returns the kind name for logging.
func (k Kind) String() string {
	switch k {
	case KindInert:
		return "inert"
	case KindDeviceConfig:
		return "device_config"
	case KindLogInfo:
		return "log_info"
	case KindLogError:
		return "log_error"
	case KindBehavior:
		return "behavior"
	case KindFrame:
		return "frame"
	default:
		return "unknown"
	}
}

// Message is the decoded form of one wire line. Exactly the fields implied by
// Kind are populated; the rest are zero.
type Message struct {
	Kind Kind
	Raw  string

	// KindDeviceConfig: Device names the component ("" for a bulk report)
	// and Fields holds its reported defaults.
	Device string
	Fields map[string]any

	// KindLogInfo / KindLogError
	Text string

	// KindBehavior
	Behavior telemetry.BehaviorEvent

	// KindFrame
	Frame telemetry.FrameEvent
}

// Decode classifies one raw line. It never panics and never returns an
// error: anything that is neither a valid JSON-framed message nor a valid
// positional record comes back as KindInert.
func Decode(line string) Message {
	raw := strings.TrimSpace(line)
	if raw == "" {
		return Message{Kind: KindInert, Raw: raw}
	}

	if msg, ok := decodeStructured(raw); ok {
		return msg
	}
	if msg, ok := decodePositional(raw); ok {
		return msg
	}
	return Message{Kind: KindInert, Raw: raw}
}

// decodeStructured attempts the JSON-object form. Valid JSON that is not an
// object (bare numbers, arrays) falls through to the positional parser.
func decodeStructured(raw string) (Message, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return Message{}, false
	}

	level, hasLevel := intField(obj, "level")
	if !hasLevel {
		level, hasLevel = intField(obj, "code")
	}
	device, _ := obj["device"].(string)

	if !hasLevel {
		// Legacy firmware dumps its whole configuration as one unleveled
		// object right after LINK.
		return Message{Kind: KindDeviceConfig, Raw: raw, Fields: obj}, true
	}

	switch level {
	case LevelConfig:
		fields := make(map[string]any, len(obj))
		for k, v := range obj {
			if k == "level" || k == "code" || k == "device" {
				continue
			}
			fields[k] = v
		}
		return Message{Kind: KindDeviceConfig, Raw: raw, Device: device, Fields: fields}, true

	case LevelInfo, LevelError:
		kind := KindLogInfo
		if level == LevelError {
			kind = KindLogError
		}
		text, _ := obj["message"].(string)
		if text == "" {
			text, _ = obj["msg"].(string)
		}
		return Message{Kind: kind, Raw: raw, Device: device, Text: text}, true

	case LevelEvent:
		event, ok := behaviorFromObject(obj, device)
		if !ok {
			return Message{Kind: KindInert, Raw: raw}, true
		}
		return Message{Kind: KindBehavior, Raw: raw, Behavior: event}, true

	case LevelFrame:
		ts, ok := stringField(obj, "timestamp")
		if !ok {
			return Message{Kind: KindInert, Raw: raw}, true
		}
		return Message{Kind: KindFrame, Raw: raw, Frame: telemetry.FrameEvent{Timestamp: ts}}, true

	default:
		return Message{Kind: KindInert, Raw: raw}, true
	}
}

// behaviorFromObject builds a BehaviorEvent from a leveled event payload,
// applying the device-specific normalizations:
//
//   - SWITCH_LEVER reports an orientation (LH/RH) folded into the stored
//     device name, and class+event folded into the stored action name.
//   - CONTROLLER reports a single instantaneous timestamp duplicated into
//     both stamp slots.
//   - every other device passes start/end through unchanged.
func behaviorFromObject(obj map[string]any, device string) (telemetry.BehaviorEvent, bool) {
	action, _ := obj["event"].(string)

	switch device {
	case telemetry.DeviceSwitchLever:
		orientation, _ := obj["orientation"].(string)
		class, _ := obj["class"].(string)
		if orientation == "" || class == "" || action == "" {
			return telemetry.BehaviorEvent{}, false
		}
		start, okS := stampField(obj, "start_timestamp")
		end, okE := stampField(obj, "end_timestamp")
		if !okS || !okE {
			return telemetry.BehaviorEvent{}, false
		}
		return telemetry.BehaviorEvent{
			Device: orientation + "_LEVER",
			Action: class + "_" + action,
			Start:  start,
			End:    end,
		}, true

	case telemetry.DeviceController:
		ts, ok := stampField(obj, "timestamp")
		if !ok || action == "" {
			return telemetry.BehaviorEvent{}, false
		}
		return telemetry.BehaviorEvent{
			Device: device,
			Action: action,
			Start:  ts,
			End:    ts,
		}, true

	default:
		if device == "" || action == "" {
			return telemetry.BehaviorEvent{}, false
		}
		start, okS := stampField(obj, "start_timestamp")
		end, okE := stampField(obj, "end_timestamp")
		if !okS || !okE {
			return telemetry.BehaviorEvent{}, false
		}
		return telemetry.BehaviorEvent{
			Device: device,
			Action: action,
			Start:  start,
			End:    end,
		}, true
	}
}

// decodePositional handles the legacy CSV-like forms:
//
//	device,action,start,end  - behavioral event
//	_,timestamp              - frame event
func decodePositional(raw string) (Message, bool) {
	parts := strings.Split(raw, ",")
	switch len(parts) {
	case 4:
		start, err := telemetry.ParseStamp(parts[2])
		if err != nil {
			return Message{}, false
		}
		end, err := telemetry.ParseStamp(parts[3])
		if err != nil {
			return Message{}, false
		}
		if parts[0] == "" || parts[1] == "" {
			return Message{}, false
		}
		return Message{
			Kind: KindBehavior,
			Raw:  raw,
			Behavior: telemetry.BehaviorEvent{
				Device: parts[0],
				Action: parts[1],
				Start:  start,
				End:    end,
			},
		}, true

	case 2:
		if parts[1] == "" {
			return Message{}, false
		}
		return Message{
			Kind:  KindFrame,
			Raw:   raw,
			Frame: telemetry.FrameEvent{Timestamp: parts[1]},
		}, true

	default:
		return Message{}, false
	}
}

// intField extracts an integer JSON field, tolerating the float64 form
// encoding/json produces for numbers.
func intField(obj map[string]any, key string) (int, bool) {
	switch v := obj[key].(type) {
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// stringField extracts a field as its wire string form; numeric timestamps
// come through JSON as float64 and render without an exponent.
func stringField(obj map[string]any, key string) (string, bool) {
	switch v := obj[key].(type) {
	case string:
		if v == "" {
			return "", false
		}
		return v, true
	case float64:
		return telemetry.StampOf(int64(v)).String(), true
	default:
		return "", false
	}
}

// stampField extracts a device-clock stamp that may arrive as a JSON number
// or as a string (including the "_" wildcard).
func stampField(obj map[string]any, key string) (telemetry.Stamp, bool) {
	switch v := obj[key].(type) {
	case float64:
		return telemetry.StampOf(int64(v)), true
	case string:
		stamp, err := telemetry.ParseStamp(v)
		if err != nil {
			return telemetry.Stamp{}, false
		}
		return stamp, true
	default:
		return telemetry.Stamp{}, false
	}
}

package wire

import (
	"encoding/json"
	"fmt"

	"github.com/Otis-Lab-MUSC/reacher/telemetry"
)

// Numeric command codes understood by the firmware. Each device has an
// off/on pair; value-carrying codes take a frequency or duration argument.
const (
	CmdStopProgram  = 100
	CmdStartProgram = 101

	CmdCueOff       = 300
	CmdCueOn        = 301
	CmdCueFrequency = 371
	CmdCueDuration  = 372

	CmdPumpOff = 400
	CmdPumpOn  = 401

	CmdLickOff = 500
	CmdLickOn  = 501

	CmdLaserOff             = 600
	CmdLaserOn              = 601
	CmdLaserTest            = 603
	CmdLaserFrequency       = 671
	CmdLaserDuration        = 672
	CmdLaserModeActivePress = 681
	CmdLaserModeCycle       = 682

	CmdMicroscopeOff = 900
	CmdMicroscopeOn  = 901

	CmdLeverRHOff = 1000
	CmdLeverRHOn  = 1001

	CmdActiveLeverLH = 1080
	CmdActiveLeverRH = 1081

	CmdLeverLHOff = 1300
	CmdLeverLHOn  = 1301

	CmdInactiveLeverRH = 1380
	CmdInactiveLeverLH = 1381
)

// Legacy plain command tokens. The handshake pair stays in this form; the
// firmware accepts them alongside JSON frames.
const (
	TokenLink         = "LINK"
	TokenUnlink       = "UNLINK"
	TokenStartProgram = "START-PROGRAM"
	TokenEndProgram   = "END-PROGRAM"
)

// Command is one outbound JSON-framed instruction: {"cmd": N} plus an
// optional value argument.
type Command struct {
	Code      int  `json:"cmd"`
	Frequency *int `json:"frequency,omitempty"`
	Duration  *int `json:"duration,omitempty"`
}

// Cmd returns a bare command frame.
func Cmd(code int) Command {
	return Command{Code: code}
}

// CmdFrequency returns a command frame carrying a frequency in Hz.
func CmdFrequency(code, hz int) Command {
	return Command{Code: code, Frequency: &hz}
}

// CmdDuration returns a command frame carrying a duration in milliseconds.
func CmdDuration(code, ms int) Command {
	return Command{Code: code, Duration: &ms}
}

// Encode renders the command in its wire form, without the trailing newline
// the transport adds.
func (c Command) Encode() string {
	data, err := json.Marshal(c)
	if err != nil {
		// Command has no unmarshalable fields; keep the signature simple.
		return fmt.Sprintf(`{"cmd":%d}`, c.Code)
	}
	return string(data)
}

// String returns the wire form for logging.
func (c Command) String() string {
	return c.Encode()
}

// Legacy schedule setters. These predate the JSON frame and remain
// string-keyed on the firmware side.

// SetTimeoutPeriod sets the post-press timeout period in milliseconds.
func SetTimeoutPeriod(ms int) string {
	return fmt.Sprintf("SET_TIMEOUT_PERIOD_LENGTH:%d", ms)
}

// SetTraceInterval sets the cue-to-reward trace interval in milliseconds.
func SetTraceInterval(ms int) string {
	return fmt.Sprintf("SET_TRACE_INTERVAL:%d", ms)
}

// SetRatio sets the fixed or progressive response ratio.
func SetRatio(n int) string {
	return fmt.Sprintf("SET_RATIO:%d", n)
}

// SetVariableInterval sets the variable-interval schedule length in seconds.
func SetVariableInterval(seconds int) string {
	return fmt.Sprintf("SET_VARIABLE_INTERVAL:%d", seconds)
}

// SetOmissionInterval sets the omission interval in milliseconds.
func SetOmissionInterval(ms int) string {
	return fmt.Sprintf("SET_OMISSION_INTERVAL:%d", ms)
}

// ArmCommand maps a device name to its arm/disarm command frame. The second
// return is false for devices with no arming surface (e.g. CONTROLLER).
func ArmCommand(device string, armed bool) (Command, bool) {
	type pair struct{ off, on int }
	codes := map[string]pair{
		telemetry.DeviceLeverRH:     {CmdLeverRHOff, CmdLeverRHOn},
		telemetry.DeviceLeverLH:     {CmdLeverLHOff, CmdLeverLHOn},
		"CUE":                       {CmdCueOff, CmdCueOn},
		telemetry.DevicePump:        {CmdPumpOff, CmdPumpOn},
		telemetry.DeviceLickCircuit: {CmdLickOff, CmdLickOn},
		telemetry.DeviceLaser:       {CmdLaserOff, CmdLaserOn},
		telemetry.DeviceMicroscope:  {CmdMicroscopeOff, CmdMicroscopeOn},
	}
	p, ok := codes[device]
	if !ok {
		return Command{}, false
	}
	if armed {
		return Cmd(p.on), true
	}
	return Cmd(p.off), true
}

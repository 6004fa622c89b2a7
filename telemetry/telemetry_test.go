package telemetry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStamp(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Stamp
		wantErr bool
	}{
		{"integer", "12345", Stamp{Ms: 12345, Known: true}, false},
		{"zero", "0", Stamp{Ms: 0, Known: true}, false},
		{"wildcard", "_", Stamp{}, false},
		{"negative", "-5", Stamp{Ms: -5, Known: true}, false},
		{"garbage", "abc", Stamp{}, true},
		{"float", "1.5", Stamp{}, true},
		{"empty", "", Stamp{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStamp(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStampRoundTrip(t *testing.T) {
	assert.Equal(t, "12345", StampOf(12345).String())
	assert.Equal(t, "_", Stamp{}.String())

	data, err := json.Marshal(StampOf(99))
	require.NoError(t, err)
	assert.Equal(t, "99", string(data))

	data, err = json.Marshal(Stamp{})
	require.NoError(t, err)
	assert.Equal(t, `"_"`, string(data))
}

func TestIsInfusion(t *testing.T) {
	infusion := BehaviorEvent{Device: DevicePump, Action: ActionInfusion}
	assert.True(t, infusion.IsInfusion())

	press := BehaviorEvent{Device: DeviceLeverRH, Action: ActionActivePress}
	assert.False(t, press.IsInfusion())

	// Same action on another device does not count.
	odd := BehaviorEvent{Device: DeviceLaser, Action: ActionInfusion}
	assert.False(t, odd.IsInfusion())
}

func TestDeviceConfigMerge(t *testing.T) {
	dc := NewDeviceConfig()

	dc.Merge(DeviceLaser, map[string]any{"frequency": 40.0, "duration": 5000.0})
	dc.Merge(DeviceLaser, map[string]any{"frequency": 20.0})
	dc.Merge(DevicePump, map[string]any{"duration": 2000.0})

	assert.Equal(t, 20.0, dc.Devices[DeviceLaser]["frequency"], "later merge wins")
	assert.Equal(t, 5000.0, dc.Devices[DeviceLaser]["duration"], "unrelated fields survive")
	assert.Equal(t, 2000.0, dc.Devices[DevicePump]["duration"])
}

func TestDeviceConfigMergeController(t *testing.T) {
	dc := NewDeviceConfig()
	dc.Merge(DeviceController, map[string]any{
		"sketch":      "operant_FR1",
		"version":     "2.1.0",
		"description": "fixed ratio schedule",
	})

	assert.Equal(t, "operant_FR1", dc.Controller.Sketch)
	assert.Equal(t, "2.1.0", dc.Controller.Version)
	assert.Empty(t, dc.Devices, "controller identity must not land in the device map")
}

func TestDeviceConfigClone(t *testing.T) {
	dc := NewDeviceConfig()
	dc.Merge(DeviceLaser, map[string]any{"frequency": 40.0})

	clone := dc.Clone()
	clone.Devices[DeviceLaser]["frequency"] = 99.0

	assert.Equal(t, 40.0, dc.Devices[DeviceLaser]["frequency"], "clone must not alias the original")
}

package store

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Otis-Lab-MUSC/reacher/telemetry"
)

func press(device string, startMs int64) telemetry.BehaviorEvent {
	return telemetry.BehaviorEvent{
		Device: device,
		Action: telemetry.ActionActivePress,
		Start:  telemetry.StampOf(startMs),
		End:    telemetry.StampOf(startMs + 100),
	}
}

func infusion(startMs int64) telemetry.BehaviorEvent {
	return telemetry.BehaviorEvent{
		Device: telemetry.DevicePump,
		Action: telemetry.ActionInfusion,
		Start:  telemetry.StampOf(startMs),
		End:    telemetry.StampOf(startMs + 2000),
	}
}

func TestAppendAndSnapshotOrder(t *testing.T) {
	s := New(Deps{})

	s.AppendBehavior(press(telemetry.DeviceLeverRH, 100))
	s.AppendBehavior(infusion(250))
	s.AppendBehavior(press(telemetry.DeviceLeverLH, 400))

	got := s.BehaviorSnapshot()
	require.Len(t, got, 3)
	assert.Equal(t, telemetry.DeviceLeverRH, got[0].Device)
	assert.Equal(t, telemetry.DevicePump, got[1].Device)
	assert.Equal(t, telemetry.DeviceLeverLH, got[2].Device)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New(Deps{})
	s.AppendBehavior(press(telemetry.DeviceLeverRH, 100))

	snap := s.BehaviorSnapshot()
	snap[0].Device = "MANGLED"

	assert.Equal(t, telemetry.DeviceLeverRH, s.BehaviorSnapshot()[0].Device)
}

func TestInfusionCount(t *testing.T) {
	s := New(Deps{})
	assert.Equal(t, 0, s.InfusionCount())

	s.AppendBehavior(press(telemetry.DeviceLeverRH, 100))
	s.AppendBehavior(infusion(200))
	s.AppendBehavior(infusion(5200))
	// Pump event that is not an infusion does not count.
	s.AppendBehavior(telemetry.BehaviorEvent{
		Device: telemetry.DevicePump,
		Action: telemetry.ActionActivePress,
		Start:  telemetry.StampOf(6000),
		End:    telemetry.StampOf(6100),
	})

	assert.Equal(t, 2, s.InfusionCount())
}

func TestFrames(t *testing.T) {
	s := New(Deps{})
	s.AppendFrame(telemetry.FrameEvent{Timestamp: "4500"})
	s.AppendFrame(telemetry.FrameEvent{Timestamp: "4533"})

	frames := s.FrameSnapshot()
	require.Len(t, frames, 2)
	assert.Equal(t, "4500", frames[0].Timestamp)

	behaviors, frameCount := s.Counts()
	assert.Equal(t, 0, behaviors)
	assert.Equal(t, 2, frameCount)
}

func TestDeviceConfigMergeAndSnapshot(t *testing.T) {
	s := New(Deps{})

	s.MergeDeviceConfig(telemetry.DeviceLaser, map[string]any{"frequency": 20})
	s.MergeDeviceConfig(telemetry.DeviceLaser, map[string]any{"duration": 5000})
	s.MergeDeviceConfig(telemetry.DeviceController, map[string]any{
		"sketch": "operant_FR", "version": "1.2.0",
	})

	cfg := s.DeviceConfigSnapshot()
	assert.Equal(t, 20, cfg.Devices[telemetry.DeviceLaser]["frequency"])
	assert.Equal(t, 5000, cfg.Devices[telemetry.DeviceLaser]["duration"])
	assert.Equal(t, "operant_FR", cfg.Controller.Sketch)

	// Mutating the snapshot must not touch the store.
	cfg.Devices[telemetry.DeviceLaser]["frequency"] = 999
	assert.Equal(t, 20, s.DeviceConfigSnapshot().Devices[telemetry.DeviceLaser]["frequency"])
}

func TestClear(t *testing.T) {
	s := New(Deps{})
	s.AppendBehavior(infusion(100))
	s.AppendFrame(telemetry.FrameEvent{Timestamp: "4500"})
	s.MergeDeviceConfig(telemetry.DevicePump, map[string]any{"duration": 2000})

	s.Clear()

	assert.Empty(t, s.BehaviorSnapshot())
	assert.Empty(t, s.FrameSnapshot())
	assert.Equal(t, 0, s.InfusionCount())
	assert.Empty(t, s.DeviceConfigSnapshot().Devices)
}

func TestConcurrentAppendsAndReads(t *testing.T) {
	s := New(Deps{})

	const writers = 4
	const perWriter = 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				s.AppendBehavior(infusion(int64(w*perWriter + i)))
				s.AppendFrame(telemetry.FrameEvent{Timestamp: fmt.Sprint(i)})
			}
		}(w)
	}

	// Concurrent monitor-style reads while writers run.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_ = s.InfusionCount()
			_ = s.BehaviorSnapshot()
		}
	}()

	wg.Wait()
	<-done

	assert.Equal(t, writers*perWriter, s.InfusionCount())
	behaviors, frames := s.Counts()
	assert.Equal(t, writers*perWriter, behaviors)
	assert.Equal(t, writers*perWriter, frames)
}

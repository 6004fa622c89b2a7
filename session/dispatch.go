package session

import (
	"context"
	"time"

	"github.com/Otis-Lab-MUSC/reacher/telemetry"
	"github.com/Otis-Lab-MUSC/reacher/wire"
)

// readLoop pulls lines off the transport and hands them to the
// dispatcher. Errors here never propagate; a dead port just idles the
// loop until teardown.
func (c *Controller) readLoop(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		line, err := c.transport.ReadLine()
		if err != nil {
			// Port closed or mid-teardown; idle until joined.
			if !c.sleepOrStop(stop, c.readIdle) {
				return
			}
			continue
		}
		if line == "" {
			if !c.sleepOrStop(stop, c.readIdle) {
				return
			}
			continue
		}

		if err := c.pool.Submit(line); err != nil {
			c.logger.Warn("line dropped by dispatcher", "error", err, "raw", line)
		}
	}
}

// sleepOrStop waits d, returning false if stop fires first.
func (c *Controller) sleepOrStop(stop <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-stop:
		return false
	case <-timer.C:
		return true
	}
}

// dispatch classifies one raw line and routes it. Runs on the single
// pool worker, so events land in the store in wire order. Always returns
// nil: a malformed line degrades to a logged no-op.
func (c *Controller) dispatch(_ context.Context, line string) error {
	msg := wire.Decode(line)

	switch msg.Kind {
	case wire.KindBehavior:
		c.store.AppendBehavior(msg.Behavior)

	case wire.KindFrame:
		c.store.AppendFrame(msg.Frame)

	case wire.KindDeviceConfig:
		if msg.Device != "" {
			c.store.MergeDeviceConfig(msg.Device, msg.Fields)
			break
		}
		// Bulk report: device blocks keyed by name, controller identity
		// fields (sketch, version, description) at the top level.
		identity := make(map[string]any)
		for key, v := range msg.Fields {
			if fields, ok := v.(map[string]any); ok {
				c.store.MergeDeviceConfig(key, fields)
				continue
			}
			identity[key] = v
		}
		if len(identity) > 0 {
			c.store.MergeDeviceConfig(telemetry.DeviceController, identity)
		}

	case wire.KindLogInfo:
		c.logger.Info("controller", "device", msg.Device, "text", msg.Text)

	case wire.KindLogError:
		c.logger.Error("controller", "device", msg.Device, "text", msg.Text)

	default:
		c.countInert()
		c.logger.Debug("inert line discarded", "raw", msg.Raw)
	}
	return nil
}

func (c *Controller) countInert() {
	if c.registry != nil {
		c.registry.CoreMetrics().DecodeInert.Inc()
	}
}

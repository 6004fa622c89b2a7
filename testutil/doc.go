// Package testutil provides fakes and canned wire data for testing the
// engine without rig hardware.
//
// FakePort stands in for a physical serial port: tests script the lines
// the "controller" emits and inspect the frames the engine wrote.
// FakeClock drives time-dependent code deterministically.
package testutil

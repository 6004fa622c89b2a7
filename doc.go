// Package reacher is the host-side engine for operant behavior rigs: it
// drives an Arduino-class microcontroller over a USB serial link, ingests
// the event telemetry the sketch reports, and stops the session when a
// configured limit is reached.
//
// # Architecture
//
// The engine is a small set of single-purpose packages wired together by
// the session controller:
//
//   - transport - serial port ownership: enumeration, open/close, line
//     framing, serialized writes
//   - wire - the line protocol: decoding inbound telemetry (JSON-framed
//     leveled messages with a legacy positional fallback) and encoding
//     outbound command frames
//   - telemetry - the data model: behavior events, frame events,
//     device-clock stamps, device configuration
//   - store - thread-safe append-only accumulation of session telemetry
//   - monitor - the limit state machine that auto-stops a session on a
//     time or infusion threshold
//   - session - the controller owning all of the above, exposing the
//     operations a GUI or CLI collaborator drives a rig with
//
// Data flows one way: the reader goroutine pulls lines off the transport
// and hands them to a single-worker dispatcher, which decodes each line
// and appends to the store. The limit monitor polls the store and the
// session clock, and invokes the controller's stop path when a limit
// trips. Background failures degrade to logged no-ops; foreground
// operations fail loudly with classified errors.
//
// The cmd/reacherctl binary is the bench CLI; GUI collaborators embed
// session.Controller directly.
package reacher

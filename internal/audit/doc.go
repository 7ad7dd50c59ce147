// Package audit implements async delivery of PHI access and session events.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, zap, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event]: audit record with a sortable id, type, user, session, resource and outcome.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit; the phiguard Engine does.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import phiguard or any sibling internal package other than ids.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit

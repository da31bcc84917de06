// Package audit relays authentication audit events to a caller-supplied
// sink through a bounded asynchronous dispatcher.
//
// The package decides how events travel, never which events exist; the
// engine owns event types and reasons.
package audit

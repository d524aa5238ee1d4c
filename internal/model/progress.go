package model

import "time"

// ProgressKind enumerates the event types emitted over the progress bus.
type ProgressKind string

const (
	ProgressStarted   ProgressKind = "started"
	ProgressStep      ProgressKind = "step"
	ProgressRetry     ProgressKind = "retry"
	ProgressArtifact  ProgressKind = "artifact"
	ProgressError     ProgressKind = "error"
	ProgressCompleted ProgressKind = "completed"
)

// ProgressEvent is the wire shape forwarded verbatim to WebSocket
// subscribers. Events for one execution are ordered; events across
// executions are not.
type ProgressEvent struct {
	Type        ProgressKind   `json:"type"`
	ExecutionID string         `json:"execution_id"`
	Data        map[string]any `json:"data"`
	Timestamp   time.Time      `json:"timestamp"`
}

// AuditEvent is a coarse workflow-level trail entry, readable through the
// workflow's audit_log query while the execution is running or after it
// completed.
type AuditEvent struct {
	At      time.Time      `json:"at"`
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

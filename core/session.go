package core

import "time"

// SessionState enumerates the lifecycle states of a conversation session.
//
// Transitions: idle --start--> active --send--> busy --(runtime idle)--> active
// --terminate--> terminated. The terminated state is absorbing.
type SessionState string

const (
	// SessionIdle is the initial state before the runtime connection exists.
	SessionIdle SessionState = "idle"
	// SessionActive means the runtime connection is up and no prompt is outstanding.
	SessionActive SessionState = "active"
	// SessionBusy means exactly one prompt is outstanding against the runtime.
	SessionBusy SessionState = "busy"
	// SessionTerminated is the absorbing final state.
	SessionTerminated SessionState = "terminated"
)

// PermissionDecision is the session owner's answer to a permission request.
type PermissionDecision string

const (
	// PermissionOnce approves the requested action for this occurrence only.
	PermissionOnce PermissionDecision = "once"
	// PermissionAlways approves the action for the remainder of the session.
	PermissionAlways PermissionDecision = "always"
	// PermissionReject denies the requested action.
	PermissionReject PermissionDecision = "reject"
)

// Permission is a runtime-originated request that must be resolved exactly
// once by the session owner before the runtime proceeds.
type Permission struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	SessionID string            `json:"session_id"`
	Requested time.Time         `json:"requested"`
}

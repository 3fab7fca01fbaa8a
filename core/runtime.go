package core

import "context"

// RuntimeEventKind names the event types delivered by an agent runtime's
// subscribed event stream. The values mirror the runtime's wire-level names;
// the core treats their semantics as opaque contracts.
type RuntimeEventKind string

const (
	// RuntimeMessageDelta carries an incremental text fragment of the
	// in-progress assistant message.
	RuntimeMessageDelta RuntimeEventKind = "message.part.updated"
	// RuntimeMessageUpdated carries the full text of the assistant message
	// seen so far, superseding previously delivered deltas.
	RuntimeMessageUpdated RuntimeEventKind = "message.updated"
	// RuntimeSessionStatus reports a runtime-side status string change.
	RuntimeSessionStatus RuntimeEventKind = "session.status"
	// RuntimeSessionIdle signals the current prompt finished; it logically
	// follows every delta it summarizes for that turn.
	RuntimeSessionIdle RuntimeEventKind = "session.idle"
	// RuntimePermissionUpdated delivers a permission request awaiting the
	// session owner's decision.
	RuntimePermissionUpdated RuntimeEventKind = "permission.updated"
	// RuntimeSessionError reports a runtime-side failure. It does not by
	// itself end the session.
	RuntimeSessionError RuntimeEventKind = "session.error"
)

// RuntimeEvent is one entry of the runtime's event stream.
type RuntimeEvent struct {
	Kind       RuntimeEventKind `json:"kind"`
	SessionID  string           `json:"session_id"`
	Text       string           `json:"text,omitempty"`
	Status     string           `json:"status,omitempty"`
	Permission *Permission      `json:"permission,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// RuntimeClient is the narrow contract the core holds against the external
// agent runtime. The core performs no inference itself; it submits prompts
// and consumes the runtime's event stream. Implementations must deliver
// events for one session in arrival order and close the Events channel when
// the connection shuts down.
type RuntimeClient interface {
	// Connect establishes the runtime connection and starts the event stream.
	Connect(ctx context.Context) error

	// CreateSession allocates a remote session rooted at dir and returns the
	// runtime's own session id.
	CreateSession(ctx context.Context, dir string) (string, error)

	// SendMessage submits a prompt asynchronously. Completion is signaled by
	// a later RuntimeSessionIdle event, not by this call's return.
	SendMessage(ctx context.Context, sessionID, text string) error

	// SendMessageSync submits a prompt and blocks until the complete
	// response text is available.
	SendMessageSync(ctx context.Context, sessionID, text string) (string, error)

	// AbortSession requests a best-effort abort of the current prompt.
	AbortSession(ctx context.Context, sessionID string) error

	// DeleteSession removes the remote session.
	DeleteSession(ctx context.Context, sessionID string) error

	// ReplyToPermission forwards the owner's decision for a pending request.
	ReplyToPermission(ctx context.Context, sessionID, permissionID string, decision PermissionDecision) error

	// Events returns the subscribed event stream. The channel is closed when
	// the connection terminates.
	Events() <-chan RuntimeEvent

	// Close tears down the connection and releases resources.
	Close() error
}

package core

import "time"

// SessionEventKind names the lifecycle events a session exposes to its
// registered consumer (typically a chat adapter or the agent pool).
type SessionEventKind string

const (
	// SessionEventOutput delivers the full accumulated text of a completed turn.
	SessionEventOutput SessionEventKind = "output"
	// SessionEventStreaming delivers an incremental text fragment.
	SessionEventStreaming SessionEventKind = "streaming"
	// SessionEventPermission delivers a permission request to resolve.
	SessionEventPermission SessionEventKind = "permission"
	// SessionEventError surfaces a runtime-reported failure.
	SessionEventError SessionEventKind = "error"
	// SessionEventStatusChange reports a session state transition.
	SessionEventStatusChange SessionEventKind = "statusChange"
	// SessionEventTerminated is the final event before the stream closes.
	SessionEventTerminated SessionEventKind = "terminated"
)

// SessionEvent is one entry of a session's outbound event stream. Exactly one
// payload field is meaningful per kind: Text for output/streaming, Permission
// for permission, Error for error, State for statusChange.
type SessionEvent struct {
	Kind       SessionEventKind `json:"kind"`
	ChatID     string           `json:"chat_id"`
	Text       string           `json:"text,omitempty"`
	Permission *Permission      `json:"permission,omitempty"`
	State      SessionState     `json:"state,omitempty"`
	Error      string           `json:"error,omitempty"`
	Time       time.Time        `json:"time"`
}

// WorkflowEventKind names the lifecycle events emitted by the workflow engine.
type WorkflowEventKind string

const (
	// WorkflowStarted fires when an execution transitions to running.
	WorkflowStarted WorkflowEventKind = "workflow.started"
	// WorkflowCompleted fires on normal completion.
	WorkflowCompleted WorkflowEventKind = "workflow.completed"
	// WorkflowFailed fires when an execution is marked failed or timed out.
	WorkflowFailed WorkflowEventKind = "workflow.failed"
	// WorkflowCancelled fires when CancelWorkflow takes effect.
	WorkflowCancelled WorkflowEventKind = "workflow.cancelled"
	// TaskStarted fires before a task is handed to the agent pool.
	TaskStarted WorkflowEventKind = "task.started"
	// TaskCompleted fires when a task settles successfully.
	TaskCompleted WorkflowEventKind = "task.completed"
	// TaskFailed fires when a task settles with failure or timeout.
	TaskFailed WorkflowEventKind = "task.failed"
)

// WorkflowEvent carries the execution id and a minimal payload so observers
// (UI touchpoints, metrics) can follow progress without polling.
type WorkflowEvent struct {
	Kind        WorkflowEventKind `json:"kind"`
	ExecutionID string            `json:"execution_id"`
	WorkflowID  string            `json:"workflow_id"`
	TaskID      string            `json:"task_id,omitempty"`
	Status      ExecutionStatus   `json:"status,omitempty"`
	Error       string            `json:"error,omitempty"`
	Time        time.Time         `json:"time"`
}

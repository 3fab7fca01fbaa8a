package core

import "errors"

// Sentinel errors forming the failure taxonomy shared across the session,
// pool and workflow layers. Wrap with fmt.Errorf("...: %w", err) and test
// with errors.Is.
var (
	// ErrCapacityTimeout means the agent pool could not free a slot within
	// its bounded wait; the task never ran.
	ErrCapacityTimeout = errors.New("agent pool capacity wait timed out")

	// ErrTaskTimeout means a running task exceeded its deadline.
	ErrTaskTimeout = errors.New("task deadline exceeded")

	// ErrRuntimeFailure means the agent runtime reported a failure mid-task.
	ErrRuntimeFailure = errors.New("agent runtime error")

	// ErrFailFast marks a sequential strategy abort caused by a sibling
	// task's failure.
	ErrFailFast = errors.New("sequential task failed")

	// ErrSynthesisFailure means the optional final synthesis step failed.
	// Prior successful task results remain valid.
	ErrSynthesisFailure = errors.New("synthesis step failed")

	// ErrNoPendingPermission is returned when a permission reply targets a
	// session with no matching pending request.
	ErrNoPendingPermission = errors.New("no pending permission request")

	// ErrSessionBusy is returned when a second prompt is submitted while one
	// is already outstanding.
	ErrSessionBusy = errors.New("session busy: prompt already outstanding")

	// ErrSessionTerminated is returned for operations on a terminated session.
	ErrSessionTerminated = errors.New("session terminated")

	// ErrSessionNotStarted is returned when an operation requires an active
	// runtime connection.
	ErrSessionNotStarted = errors.New("session has no active runtime connection")

	// ErrWorkflowNotFound is returned for lookups of unregistered workflows.
	ErrWorkflowNotFound = errors.New("workflow not registered")

	// ErrExecutionNotFound is returned for lookups of unknown execution ids.
	ErrExecutionNotFound = errors.New("workflow execution not found")
)

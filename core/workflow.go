package core

import "time"

// Strategy selects how a workflow's tasks are scheduled.
type Strategy string

const (
	// StrategySequential runs tasks one at a time in declaration order,
	// stopping at the first failure.
	StrategySequential Strategy = "sequential"
	// StrategyParallel submits all tasks concurrently (bounded only by the
	// agent pool) and waits for every task to settle.
	StrategyParallel Strategy = "parallel"
	// StrategyHierarchical is a declared extension point for manager/worker
	// delegation. It currently falls back to sequential execution.
	StrategyHierarchical Strategy = "hierarchical"
)

// WorkflowDefinition is a named, registered set of tasks plus an execution
// strategy and optional synthesis step. Definitions are registered once and
// read-only thereafter.
type WorkflowDefinition struct {
	ID              string        `json:"id" yaml:"id"`
	Name            string        `json:"name" yaml:"name"`
	Tasks           []Task        `json:"tasks" yaml:"tasks"`
	Strategy        Strategy      `json:"strategy" yaml:"strategy"`
	SynthesisPrompt string        `json:"synthesis_prompt,omitempty" yaml:"synthesis_prompt,omitempty"`
	Timeout         time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// ExecutionStatus tracks a workflow execution through its lifecycle.
type ExecutionStatus string

const (
	// ExecutionPending is the state between allocation and dispatch.
	ExecutionPending ExecutionStatus = "pending"
	// ExecutionRunning means the strategy handler is driving tasks.
	ExecutionRunning ExecutionStatus = "running"
	// ExecutionCompleted is the successful terminal state.
	ExecutionCompleted ExecutionStatus = "completed"
	// ExecutionFailed is the terminal state for unrecovered errors.
	ExecutionFailed ExecutionStatus = "failed"
	// ExecutionCancelled is the terminal state set by CancelWorkflow.
	ExecutionCancelled ExecutionStatus = "cancelled"
	// ExecutionTimeout is the terminal state when a workflow-level deadline
	// expired before all tasks settled.
	ExecutionTimeout ExecutionStatus = "timeout"
)

// Finished reports whether the status is terminal.
func (s ExecutionStatus) Finished() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled, ExecutionTimeout:
		return true
	default:
		return false
	}
}

// Trigger records the provenance of a workflow execution: which collaborator
// started it (webhook, chat command, schedule) and free-form context.
type Trigger struct {
	Source  string            `json:"source"`
	Actor   string            `json:"actor,omitempty"`
	Context map[string]string `json:"context,omitempty"`
}

// WorkflowExecution is one run instance of a workflow. It is created at
// execution start, mutated only by the engine driving it, and retained until
// explicit cleanup. Callers receive snapshots, never the live struct.
type WorkflowExecution struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	Trigger     Trigger         `json:"trigger"`
	Status      ExecutionStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	EndedAt     time.Time       `json:"ended_at,omitzero"`
	Results     []AgentResult   `json:"results"`
	FinalOutput string          `json:"final_output,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Snapshot returns a defensive copy safe for concurrent readers. The Results
// slice is copied; AgentResult values are immutable.
func (e *WorkflowExecution) Snapshot() WorkflowExecution {
	cp := *e
	cp.Results = make([]AgentResult, len(e.Results))
	copy(cp.Results, e.Results)
	return cp
}

// Duration returns the wall-clock run time, or the elapsed time so far when
// the execution has not yet finished.
func (e *WorkflowExecution) Duration() time.Duration {
	if e.EndedAt.IsZero() {
		return time.Since(e.StartedAt)
	}
	return e.EndedAt.Sub(e.StartedAt)
}

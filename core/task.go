package core

import "time"

// Task is one unit of work (a prompt) within a workflow. Tasks are executed
// against disposable sessions acquired from the agent pool.
type Task struct {
	ID          string        `json:"id" yaml:"id"`
	Name        string        `json:"name" yaml:"name"`
	Prompt      string        `json:"prompt" yaml:"prompt"`
	ProjectPath string        `json:"project_path,omitempty" yaml:"project_path,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// DependsOn declares prerequisite task ids. Dependencies are carried for
	// definition authors but are not yet consulted by any scheduler.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// ResultStatus classifies the terminal outcome of a task run.
type ResultStatus string

const (
	// ResultSuccess means the task produced output and the session went idle.
	ResultSuccess ResultStatus = "success"
	// ResultFailure means the runtime reported an error or capacity was exhausted.
	ResultFailure ResultStatus = "failure"
	// ResultTimeout means the task exceeded its deadline before completing.
	ResultTimeout ResultStatus = "timeout"
)

// AgentResult captures the outcome of one task execution. It is immutable
// once produced; consumers receive value copies.
type AgentResult struct {
	TaskID    string        `json:"task_id"`
	Status    ResultStatus  `json:"status"`
	Output    string        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Duration  time.Duration `json:"duration"`
}

// Succeeded reports whether the task completed with usable output.
func (r AgentResult) Succeeded() bool { return r.Status == ResultSuccess }

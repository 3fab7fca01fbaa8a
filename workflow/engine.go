// Package workflow turns registered task definitions into tracked executions.
// The engine owns execution records and is their only writer; callers receive
// snapshots. Strategies decide scheduling, the agent pool decides capacity.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentrelay/agentrelay/core"
	"github.com/agentrelay/agentrelay/internal/util"
	"github.com/agentrelay/agentrelay/logging"
	"github.com/agentrelay/agentrelay/metrics"
	"github.com/agentrelay/agentrelay/pool"
)

const synthesisTaskID = "synthesis"

// TaskRunner is the slice of the agent pool the engine depends on.
type TaskRunner interface {
	ExecuteTask(ctx context.Context, task core.Task, executionID string) (core.AgentResult, error)
}

var _ TaskRunner = (*pool.Pool)(nil)

// Options configures an Engine.
type Options struct {
	// Logger defaults to NoOpLogger when nil.
	Logger logging.Logger
	// Metrics is optional; nil disables instrumentation.
	Metrics *metrics.WorkflowMetrics
	// ObserverBuffer sizes per-subscriber event channels.
	ObserverBuffer int
}

// Engine executes workflows against an agent pool and retains execution
// records until Cleanup evicts them.
type Engine struct {
	registry *Registry
	runner   TaskRunner
	logger   logging.Logger
	metrics  *metrics.WorkflowMetrics
	obsBuf   int

	mu         sync.RWMutex
	executions map[string]*core.WorkflowExecution

	obsMu     sync.RWMutex
	observers map[string]chan core.WorkflowEvent
}

// NewEngine constructs an Engine bound to a registry and a task runner.
func NewEngine(registry *Registry, runner TaskRunner, optFns ...func(o *Options)) *Engine {
	opts := Options{Logger: logging.NoOpLogger{}, ObserverBuffer: 64}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{
		registry:   registry,
		runner:     runner,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		obsBuf:     opts.ObserverBuffer,
		executions: make(map[string]*core.WorkflowExecution),
		observers:  make(map[string]chan core.WorkflowEvent),
	}
}

// Subscribe registers an observer channel. Register before starting the
// executions you care about; events emitted earlier are not replayed.
// Delivery is non-blocking, so a stalled observer loses events rather than
// stalling the engine.
func (e *Engine) Subscribe() (string, <-chan core.WorkflowEvent) {
	id := core.NewID()
	ch := make(chan core.WorkflowEvent, e.obsBuf)
	e.obsMu.Lock()
	e.observers[id] = ch
	e.obsMu.Unlock()
	return id, ch
}

// Unsubscribe removes and closes an observer channel. Safe to call with an
// unknown id; the channel is closed exactly once.
func (e *Engine) Unsubscribe(id string) {
	e.obsMu.Lock()
	ch, ok := e.observers[id]
	if ok {
		delete(e.observers, id)
	}
	e.obsMu.Unlock()
	if ok {
		close(ch)
	}
}

func (e *Engine) publish(ev core.WorkflowEvent) {
	ev.Time = time.Now()
	e.obsMu.RLock()
	defer e.obsMu.RUnlock()
	for id, ch := range e.observers {
		select {
		case ch <- ev:
		default:
			e.logger.Warn("workflow observer lagging, event dropped", "observer_id", id, "kind", ev.Kind)
		}
	}
}

// ExecuteWorkflow runs the workflow with the given id to completion and
// returns a snapshot of the finished execution. It blocks for the duration of
// the run; callers wanting fire-and-forget semantics run it in a goroutine
// and follow progress via Subscribe or GetExecution.
//
// A definition-level timeout bounds the whole run including synthesis. On
// expiry the execution settles as timed out; tasks already settled keep their
// recorded results.
func (e *Engine) ExecuteWorkflow(ctx context.Context, workflowID string, trigger core.Trigger) (core.WorkflowExecution, error) {
	def, err := e.registry.Get(workflowID)
	if err != nil {
		return core.WorkflowExecution{}, err
	}

	exec := &core.WorkflowExecution{
		ID:         core.NewID(),
		WorkflowID: def.ID,
		Trigger:    trigger,
		Status:     core.ExecutionPending,
		StartedAt:  time.Now(),
	}
	e.mu.Lock()
	e.executions[exec.ID] = exec
	e.mu.Unlock()

	wfCtx := ctx
	if def.Timeout > 0 {
		var cancel context.CancelFunc
		wfCtx, cancel = context.WithTimeout(ctx, def.Timeout)
		defer cancel()
	}

	e.setStatus(exec.ID, core.ExecutionRunning)
	e.publish(core.WorkflowEvent{Kind: core.WorkflowStarted, ExecutionID: exec.ID, WorkflowID: def.ID, Status: core.ExecutionRunning})
	if e.metrics != nil {
		e.metrics.RunningExecutions.Inc()
	}
	runErr := e.runStrategy(wfCtx, def, exec.ID, trigger)
	if def.SynthesisPrompt != "" && e.shouldSynthesize(def, exec.ID, runErr, wfCtx) {
		synthErr := e.synthesize(wfCtx, def, exec.ID, trigger)
		switch {
		case runErr == nil:
			runErr = synthErr
		case synthErr != nil:
			e.logger.Warn("synthesis failed after task failures",
				"workflow_id", def.ID, "execution_id", exec.ID, "error", synthErr)
		}
	}

	snapshot := e.settle(exec.ID, def.ID, wfCtx, runErr)
	if e.metrics != nil {
		e.metrics.RunningExecutions.Dec()
		e.metrics.ObserveExecution(string(snapshot.Status), snapshot.Duration().Seconds())
	}
	e.logger.Info("workflow finished",
		"workflow_id", def.ID, "execution_id", exec.ID,
		"status", snapshot.Status, "tasks", len(snapshot.Results), "duration", snapshot.Duration())
	return snapshot, runErr
}

// runStrategy dispatches to the scheduling strategy. Hierarchical delegation
// is declared but not yet implemented and degrades to sequential.
func (e *Engine) runStrategy(ctx context.Context, def core.WorkflowDefinition, executionID string, trigger core.Trigger) error {
	switch def.Strategy {
	case core.StrategyParallel:
		return e.runParallel(ctx, def, executionID, trigger)
	case core.StrategyHierarchical:
		e.logger.Warn("hierarchical strategy not implemented, falling back to sequential", "workflow_id", def.ID)
		return e.runSequential(ctx, def, executionID, trigger)
	default:
		return e.runSequential(ctx, def, executionID, trigger)
	}
}

// runSequential executes tasks in declaration order and fails fast: the
// failed task's result is recorded, pending tasks are never submitted.
// Earlier task outputs are exposed to later prompts under .Outputs.
func (e *Engine) runSequential(ctx context.Context, def core.WorkflowDefinition, executionID string, trigger core.Trigger) error {
	outputs := make(map[string]string, len(def.Tasks))
	for _, task := range def.Tasks {
		prompt, err := renderPrompt(task.Prompt, trigger, outputs)
		if err != nil {
			return fmt.Errorf("render prompt for task %q: %w", task.ID, err)
		}
		task.Prompt = prompt

		e.publish(core.WorkflowEvent{Kind: core.TaskStarted, ExecutionID: executionID, WorkflowID: def.ID, TaskID: task.ID})
		result, err := e.runner.ExecuteTask(ctx, task, executionID)
		e.appendResult(executionID, result)
		if err != nil {
			e.publish(core.WorkflowEvent{Kind: core.TaskFailed, ExecutionID: executionID, WorkflowID: def.ID, TaskID: task.ID, Error: result.Error})
			return fmt.Errorf("task %q: %w: %w", task.ID, err, core.ErrFailFast)
		}
		e.publish(core.WorkflowEvent{Kind: core.TaskCompleted, ExecutionID: executionID, WorkflowID: def.ID, TaskID: task.ID})
		outputs[task.ID] = result.Output
	}
	return nil
}

// runParallel submits every task concurrently and waits for all of them to
// settle. Concurrency is bounded by the agent pool, not here. All results
// are recorded even when some tasks fail; the error summarizes the failures.
func (e *Engine) runParallel(ctx context.Context, def core.WorkflowDefinition, executionID string, trigger core.Trigger) error {
	var wg sync.WaitGroup
	errs := make([]error, len(def.Tasks))

	for i, task := range def.Tasks {
		prompt, err := renderPrompt(task.Prompt, trigger, nil)
		if err != nil {
			return fmt.Errorf("render prompt for task %q: %w", task.ID, err)
		}
		task.Prompt = prompt

		wg.Add(1)
		go func(i int, task core.Task) {
			defer wg.Done()
			e.publish(core.WorkflowEvent{Kind: core.TaskStarted, ExecutionID: executionID, WorkflowID: def.ID, TaskID: task.ID})
			result, err := e.runner.ExecuteTask(ctx, task, executionID)
			e.appendResult(executionID, result)
			errs[i] = err
			if err != nil {
				e.publish(core.WorkflowEvent{Kind: core.TaskFailed, ExecutionID: executionID, WorkflowID: def.ID, TaskID: task.ID, Error: result.Error})
			} else {
				e.publish(core.WorkflowEvent{Kind: core.TaskCompleted, ExecutionID: executionID, WorkflowID: def.ID, TaskID: task.ID})
			}
		}(i, task)
	}
	wg.Wait()

	var failed []string
	for i, err := range errs {
		if err != nil {
			failed = append(failed, def.Tasks[i].ID)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("tasks failed: %s: %w", strings.Join(failed, ", "), errors.Join(filterNonNil(errs)...))
	}
	return nil
}

// shouldSynthesize reports whether the synthesis task runs. It always runs
// after a clean strategy pass. Parallel failures do not skip it: the failure
// markers are part of the synthesis input, so any settled result is enough.
// Sequential fail-fast aborts the run outright, and an expired workflow
// deadline leaves nothing to run synthesis on.
func (e *Engine) shouldSynthesize(def core.WorkflowDefinition, executionID string, runErr error, wfCtx context.Context) bool {
	if runErr == nil {
		return true
	}
	if def.Strategy != core.StrategyParallel || wfCtx.Err() != nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.executions[executionID].Results) > 0
}

// synthesize runs the synthesis prompt as one more pooled task over the
// labeled task outputs and failure markers. A synthesis failure never
// rewrites the already-settled task results.
func (e *Engine) synthesize(ctx context.Context, def core.WorkflowDefinition, executionID string, trigger core.Trigger) error {
	e.mu.RLock()
	exec := e.executions[executionID]
	results := exec.Snapshot().Results
	e.mu.RUnlock()

	prompt, err := renderPrompt(def.SynthesisPrompt, trigger, outputsByTask(results))
	if err != nil {
		return fmt.Errorf("render synthesis prompt: %w: %w", err, core.ErrSynthesisFailure)
	}

	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n\n")
	for _, r := range results {
		fmt.Fprintf(&sb, "### Task %s (%s)\n", r.TaskID, r.Status)
		if r.Succeeded() {
			sb.WriteString(r.Output)
		} else {
			fmt.Fprintf(&sb, "(no output: %s)", r.Error)
		}
		sb.WriteString("\n\n")
	}

	task := core.Task{ID: synthesisTaskID, Name: "Synthesis", Prompt: sb.String()}
	e.publish(core.WorkflowEvent{Kind: core.TaskStarted, ExecutionID: executionID, WorkflowID: def.ID, TaskID: task.ID})
	result, err := e.runner.ExecuteTask(ctx, task, executionID)
	e.appendResult(executionID, result)
	if err != nil {
		e.publish(core.WorkflowEvent{Kind: core.TaskFailed, ExecutionID: executionID, WorkflowID: def.ID, TaskID: task.ID, Error: result.Error})
		return fmt.Errorf("synthesis: %w: %w", err, core.ErrSynthesisFailure)
	}
	e.publish(core.WorkflowEvent{Kind: core.TaskCompleted, ExecutionID: executionID, WorkflowID: def.ID, TaskID: task.ID})

	e.mu.Lock()
	exec.FinalOutput = result.Output
	e.mu.Unlock()
	return nil
}

// settle writes the terminal status exactly once and emits the terminal
// event. A concurrent CancelWorkflow wins: a cancelled execution stays
// cancelled regardless of how the strategy run turned out.
func (e *Engine) settle(executionID, workflowID string, wfCtx context.Context, runErr error) core.WorkflowExecution {
	e.mu.Lock()
	exec := e.executions[executionID]
	if exec.Status == core.ExecutionCancelled {
		exec.EndedAt = time.Now()
		snapshot := exec.Snapshot()
		e.mu.Unlock()
		e.publish(core.WorkflowEvent{Kind: core.WorkflowCancelled, ExecutionID: executionID, WorkflowID: workflowID, Status: core.ExecutionCancelled})
		return snapshot
	}

	switch {
	case runErr == nil:
		exec.Status = core.ExecutionCompleted
		if exec.FinalOutput == "" {
			exec.FinalOutput = lastSuccessfulOutput(exec.Results)
		}
	case errors.Is(wfCtx.Err(), context.DeadlineExceeded):
		exec.Status = core.ExecutionTimeout
		exec.Error = runErr.Error()
	default:
		exec.Status = core.ExecutionFailed
		exec.Error = runErr.Error()
	}
	exec.EndedAt = time.Now()
	snapshot := exec.Snapshot()
	e.mu.Unlock()

	kind := core.WorkflowCompleted
	if snapshot.Status != core.ExecutionCompleted {
		kind = core.WorkflowFailed
	}
	e.publish(core.WorkflowEvent{Kind: kind, ExecutionID: executionID, WorkflowID: workflowID, Status: snapshot.Status, Error: snapshot.Error})
	return snapshot
}

// CancelWorkflow marks a running execution cancelled. This is bookkeeping:
// tasks already submitted to the pool run to their own settlement, but the
// execution's terminal status is pinned to cancelled.
func (e *Engine) CancelWorkflow(executionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec, ok := e.executions[executionID]
	if !ok {
		return fmt.Errorf("execution %q: %w", executionID, core.ErrExecutionNotFound)
	}
	if exec.Status != core.ExecutionRunning {
		return fmt.Errorf("execution %q is %s, only running executions can be cancelled", executionID, exec.Status)
	}
	exec.Status = core.ExecutionCancelled
	e.logger.Info("workflow execution cancelled", "execution_id", executionID, "workflow_id", exec.WorkflowID)
	return nil
}

// GetExecution returns a snapshot of one execution.
func (e *Engine) GetExecution(executionID string) (core.WorkflowExecution, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	exec, ok := e.executions[executionID]
	if !ok {
		return core.WorkflowExecution{}, fmt.Errorf("execution %q: %w", executionID, core.ErrExecutionNotFound)
	}
	return exec.Snapshot(), nil
}

// ListExecutions returns snapshots of every retained execution.
func (e *Engine) ListExecutions() []core.WorkflowExecution {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]core.WorkflowExecution, 0, len(e.executions))
	for _, exec := range e.executions {
		out = append(out, exec.Snapshot())
	}
	return out
}

// Cleanup evicts finished executions that ended more than maxAge ago and
// returns how many were removed. Running executions are never evicted.
func (e *Engine) Cleanup(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for id, exec := range e.executions {
		if exec.Status.Finished() && !exec.EndedAt.IsZero() && exec.EndedAt.Before(cutoff) {
			delete(e.executions, id)
			removed++
		}
	}
	if removed > 0 {
		e.logger.Debug("execution records evicted", "count", removed)
	}
	return removed
}

func (e *Engine) setStatus(executionID string, status core.ExecutionStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if exec, ok := e.executions[executionID]; ok {
		exec.Status = status
	}
}

func (e *Engine) appendResult(executionID string, result core.AgentResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if exec, ok := e.executions[executionID]; ok {
		exec.Results = append(exec.Results, result)
	}
}

// renderPrompt exposes trigger provenance and earlier task outputs to the
// prompt template. Plain prompts pass through untouched.
func renderPrompt(prompt string, trigger core.Trigger, outputs map[string]string) (string, error) {
	data := map[string]any{
		"Source":  trigger.Source,
		"Actor":   trigger.Actor,
		"Context": trigger.Context,
		"Outputs": outputs,
	}
	return util.RenderTemplate(prompt, data)
}

func outputsByTask(results []core.AgentResult) map[string]string {
	out := make(map[string]string, len(results))
	for _, r := range results {
		if r.Succeeded() {
			out[r.TaskID] = r.Output
		}
	}
	return out
}

func lastSuccessfulOutput(results []core.AgentResult) string {
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].Succeeded() {
			return results[i].Output
		}
	}
	return ""
}

func filterNonNil(errs []error) []error {
	out := errs[:0:0]
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

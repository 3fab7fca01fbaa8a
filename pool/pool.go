// Package pool runs tasks to completion on disposable sessions, never
// exceeding a configured maximum concurrency. Capacity is a counting
// semaphore with a bounded acquire wait; a caller that cannot get a slot in
// time fails with a capacity-timeout error rather than being silently
// dropped. Each acquired slot drives exactly one task on a fresh session and
// always releases both, success or failure.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/agentrelay/agentrelay/core"
	"github.com/agentrelay/agentrelay/logging"
	"github.com/agentrelay/agentrelay/metrics"
	"github.com/agentrelay/agentrelay/session"
)

const (
	defaultMaxConcurrent  = 3
	defaultAcquireTimeout = 30 * time.Second
	defaultTaskTimeout    = 5 * time.Minute
	terminateGrace        = 10 * time.Second
)

// Options configures a Pool.
type Options struct {
	// MaxConcurrent caps simultaneously held sessions.
	MaxConcurrent int
	// AcquireTimeout bounds the wait for a free slot.
	AcquireTimeout time.Duration
	// DefaultTaskTimeout applies to tasks without their own timeout.
	DefaultTaskTimeout time.Duration
	// Logger defaults to NoOpLogger when nil.
	Logger logging.Logger
	// Metrics is optional; nil disables instrumentation.
	Metrics *metrics.PoolMetrics
}

// Status is a non-blocking observability snapshot.
type Status struct {
	Active    int `json:"active"`
	Max       int `json:"max"`
	Available int `json:"available"`
}

// Pool is a bounded-concurrency task executor backed by disposable sessions.
type Pool struct {
	factory        session.RuntimeFactory
	sem            *semaphore.Weighted
	max            int
	acquireTimeout time.Duration
	defaultTimeout time.Duration
	logger         logging.Logger
	metrics        *metrics.PoolMetrics

	mu     sync.Mutex
	active map[string]*session.Session
	closed bool
}

// New constructs a Pool with optional overrides.
func New(factory session.RuntimeFactory, optFns ...func(o *Options)) *Pool {
	opts := Options{
		MaxConcurrent:      defaultMaxConcurrent,
		AcquireTimeout:     defaultAcquireTimeout,
		DefaultTaskTimeout: defaultTaskTimeout,
		Logger:             logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Pool{
		factory:        factory,
		sem:            semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		max:            opts.MaxConcurrent,
		acquireTimeout: opts.AcquireTimeout,
		defaultTimeout: opts.DefaultTaskTimeout,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		active:         make(map[string]*session.Session),
	}
}

// ExecuteTask runs one task on a fresh session scoped to executionID+task.ID,
// so concurrently running tasks never share a session. It races three
// outcomes (the session producing output and going idle, a session-level
// error, and the task deadline) and whichever settles first wins; the
// session is terminated and evicted on every path.
//
// The returned AgentResult is always populated. The error is non-nil exactly
// when the result status is not success, wrapping the taxonomy sentinel
// (ErrCapacityTimeout, ErrTaskTimeout, ErrRuntimeFailure) for errors.Is.
func (p *Pool) ExecuteTask(ctx context.Context, task core.Task, executionID string) (core.AgentResult, error) {
	result := core.AgentResult{TaskID: task.ID, StartedAt: time.Now()}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return p.settle(result, core.ResultFailure, "", errors.New("agent pool is shut down"))
	}
	p.mu.Unlock()

	acquireCtx, cancelAcquire := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancelAcquire()
	if err := p.sem.Acquire(acquireCtx, 1); err != nil {
		return p.settle(result, core.ResultFailure, "",
			fmt.Errorf("task %q waited %s for a slot: %w", task.ID, p.acquireTimeout, core.ErrCapacityTimeout))
	}
	defer p.sem.Release(1)

	key := executionID + ":" + task.ID
	sess := session.New(key, p.factory, func(o *session.Options) {
		o.ProjectDir = task.ProjectPath
		o.Logger = p.logger
	})
	events := sess.Events()

	p.mu.Lock()
	p.active[key] = sess
	p.mu.Unlock()
	if p.metrics != nil {
		p.metrics.ActiveSessions.Inc()
	}

	// Release must not depend on success: the session is torn down and
	// evicted no matter how the race below settles.
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), terminateGrace)
		defer cancel()
		if err := sess.Terminate(tctx); err != nil {
			p.logger.Warn("task session terminate failed", "task_id", task.ID, "error", err)
		}
		p.mu.Lock()
		delete(p.active, key)
		p.mu.Unlock()
		if p.metrics != nil {
			p.metrics.ActiveSessions.Dec()
		}
	}()

	if err := sess.Start(ctx); err != nil {
		return p.settle(result, core.ResultFailure, "", fmt.Errorf("start task session: %w", err))
	}
	if err := sess.SendMessage(ctx, task.Prompt); err != nil {
		return p.settle(result, core.ResultFailure, "", fmt.Errorf("submit task prompt: %w", err))
	}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = p.defaultTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return p.settle(result, core.ResultFailure, "",
					fmt.Errorf("task %q session closed before completion: %w", task.ID, core.ErrRuntimeFailure))
			}
			switch ev.Kind {
			case core.SessionEventOutput:
				return p.settle(result, core.ResultSuccess, ev.Text, nil)
			case core.SessionEventError:
				return p.settle(result, core.ResultFailure, "",
					fmt.Errorf("task %q: %s: %w", task.ID, ev.Error, core.ErrRuntimeFailure))
			default:
				// Streaming fragments and status changes are progress, not
				// outcomes.
			}

		case <-deadline.C:
			return p.settle(result, core.ResultTimeout, "",
				fmt.Errorf("task %q after %s: %w", task.ID, timeout, core.ErrTaskTimeout))

		case <-ctx.Done():
			status := core.ResultFailure
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				status = core.ResultTimeout
			}
			return p.settle(result, status, "", fmt.Errorf("task %q: %w", task.ID, ctx.Err()))
		}
	}
}

// settle finalizes the result exactly once and records instrumentation.
func (p *Pool) settle(result core.AgentResult, status core.ResultStatus, output string, err error) (core.AgentResult, error) {
	result.Status = status
	result.Output = output
	if err != nil {
		result.Error = err.Error()
	}
	result.EndedAt = time.Now()
	result.Duration = result.EndedAt.Sub(result.StartedAt)

	if p.metrics != nil {
		p.metrics.ObserveTask(string(status), result.Duration.Seconds())
	}
	p.logger.Debug("task settled", "task_id", result.TaskID, "status", status, "duration", result.Duration)
	return result, err
}

// Status reports (active, max, available) without blocking.
func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	active := len(p.active)
	return Status{Active: active, Max: p.max, Available: p.max - active}
}

// Shutdown terminates every currently-held session and refuses new work.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	p.closed = true
	sessions := make([]*session.Session, 0, len(p.active))
	for _, s := range p.active {
		sessions = append(sessions, s)
	}
	p.mu.Unlock()

	for _, s := range sessions {
		if err := s.Terminate(ctx); err != nil {
			p.logger.Warn("pool shutdown terminate failed", "chat_id", s.ChatID(), "error", err)
		}
	}
	p.logger.Info("agent pool drained", "terminated", len(sessions))
}

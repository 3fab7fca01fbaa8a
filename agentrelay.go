// Package agentrelay provides a high-level façade over the session, pool and
// workflow layers. Most applications interact with this package by:
//  1. Creating an AgentRelay via New() with a runtime factory
//  2. Registering workflow definitions (directly or from YAML files)
//  3. Driving interactive chats through Bridge() and batch work through
//     ExecuteTask / ExecuteWorkflow
//
// The façade wires the pieces together while keeping each layer usable on its
// own. All defaults are safe for local development; production deployments
// typically supply a structured logger, Prometheus collectors and a Redis
// backed history store.
package agentrelay

import (
	"context"
	"time"

	"github.com/agentrelay/agentrelay/core"
	"github.com/agentrelay/agentrelay/logging"
	"github.com/agentrelay/agentrelay/metrics"
	"github.com/agentrelay/agentrelay/pool"
	"github.com/agentrelay/agentrelay/session"
	"github.com/agentrelay/agentrelay/workflow"
)

// Options configures the AgentRelay instance.
type Options struct {
	// DefaultProjectDir is the working directory for new interactive sessions.
	DefaultProjectDir string

	// DirectInactivity and ChannelInactivity bound how long an idle session
	// survives before the sweeper reclaims it. Zero keeps the session defaults.
	DirectInactivity  time.Duration
	ChannelInactivity time.Duration

	// SweepInterval paces the background idle sweep started by Run.
	SweepInterval time.Duration

	// MaxConcurrent caps pooled task sessions; AcquireTimeout bounds the wait
	// for a free slot and TaskTimeout bounds a single task run. Zero keeps the
	// pool defaults.
	MaxConcurrent  int
	AcquireTimeout time.Duration
	TaskTimeout    time.Duration

	// PoolMetrics and WorkflowMetrics enable Prometheus instrumentation when
	// set. Nil disables collection.
	PoolMetrics     *metrics.PoolMetrics
	WorkflowMetrics *metrics.WorkflowMetrics

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// AgentRelay aggregates the session manager, agent pool, workflow registry and
// workflow engine behind one entry point.
type AgentRelay struct {
	opts     Options
	manager  *session.Manager
	pool     *pool.Pool
	registry *workflow.Registry
	engine   *workflow.Engine
}

// New creates an AgentRelay. The factory dials one runtime connection per
// session and is shared by interactive chats and pooled task sessions.
func New(factory session.RuntimeFactory, optFns ...func(o *Options)) *AgentRelay {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	manager := session.NewManager(factory, func(o *session.ManagerOptions) {
		o.DefaultProjectDir = opts.DefaultProjectDir
		if opts.DirectInactivity > 0 {
			o.DirectInactivity = opts.DirectInactivity
		}
		if opts.ChannelInactivity > 0 {
			o.ChannelInactivity = opts.ChannelInactivity
		}
		if opts.SweepInterval > 0 {
			o.SweepInterval = opts.SweepInterval
		}
		o.Logger = opts.Logger
	})

	p := pool.New(factory, func(o *pool.Options) {
		if opts.MaxConcurrent > 0 {
			o.MaxConcurrent = opts.MaxConcurrent
		}
		if opts.AcquireTimeout > 0 {
			o.AcquireTimeout = opts.AcquireTimeout
		}
		if opts.TaskTimeout > 0 {
			o.DefaultTaskTimeout = opts.TaskTimeout
		}
		o.Logger = opts.Logger
		o.Metrics = opts.PoolMetrics
	})

	registry := workflow.NewRegistry(func(o *workflow.RegistryOptions) {
		o.Logger = opts.Logger
	})
	engine := workflow.NewEngine(registry, p, func(o *workflow.Options) {
		o.Logger = opts.Logger
		o.Metrics = opts.WorkflowMetrics
	})

	return &AgentRelay{
		opts:     opts,
		manager:  manager,
		pool:     p,
		registry: registry,
		engine:   engine,
	}
}

// Manager returns the interactive session manager.
func (r *AgentRelay) Manager() *session.Manager { return r.manager }

// Pool returns the agent pool.
func (r *AgentRelay) Pool() *pool.Pool { return r.pool }

// Workflows returns the workflow registry.
func (r *AgentRelay) Workflows() *workflow.Registry { return r.registry }

// Engine returns the workflow engine.
func (r *AgentRelay) Engine() *workflow.Engine { return r.engine }

// RegisterWorkflow adds a workflow definition to the registry.
func (r *AgentRelay) RegisterWorkflow(def core.WorkflowDefinition) error {
	return r.registry.Register(def)
}

// LoadWorkflows loads every YAML workflow definition under dir.
func (r *AgentRelay) LoadWorkflows(dir string) (int, error) {
	return r.registry.LoadDir(dir)
}

// ExecuteTask runs a single task on a disposable pooled session.
func (r *AgentRelay) ExecuteTask(ctx context.Context, task core.Task) (core.AgentResult, error) {
	return r.pool.ExecuteTask(ctx, task, core.NewID())
}

// ExecuteWorkflow runs a registered workflow to completion.
func (r *AgentRelay) ExecuteWorkflow(ctx context.Context, workflowID string, trigger core.Trigger) (core.WorkflowExecution, error) {
	return r.engine.ExecuteWorkflow(ctx, workflowID, trigger)
}

// Run hosts the idle-session sweeper until ctx is cancelled.
func (r *AgentRelay) Run(ctx context.Context) { r.manager.Run(ctx) }

// Shutdown terminates interactive sessions and drains the pool.
func (r *AgentRelay) Shutdown(ctx context.Context) {
	r.manager.Shutdown(ctx)
	r.pool.Shutdown(ctx)
}

package agentrelay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrelay/agentrelay/core"
	"github.com/agentrelay/agentrelay/internal/testutil"
)

func TestAgentRelay_ExecuteTask(t *testing.T) {
	factory := &testutil.FakeRuntimeFactory{}
	relay := New(factory.New)
	t.Cleanup(func() { relay.Shutdown(context.Background()) })

	result, err := relay.ExecuteTask(context.Background(), core.Task{
		ID:     "ping",
		Prompt: "ping",
	})
	require.NoError(t, err)
	assert.Equal(t, core.ResultSuccess, result.Status)
	assert.Equal(t, "echo: ping", result.Output)
}

func TestAgentRelay_WorkflowEndToEnd(t *testing.T) {
	factory := &testutil.FakeRuntimeFactory{}
	relay := New(factory.New, func(o *Options) {
		o.MaxConcurrent = 2
		o.TaskTimeout = 5 * time.Second
	})
	t.Cleanup(func() { relay.Shutdown(context.Background()) })

	require.NoError(t, relay.RegisterWorkflow(core.WorkflowDefinition{
		ID:       "greet",
		Strategy: core.StrategySequential,
		Tasks: []core.Task{
			{ID: "hello", Prompt: "say hello to {{.Actor}}"},
			{ID: "recap", Prompt: `recap {{index .Outputs "hello"}}`},
		},
	}))

	exec, err := relay.ExecuteWorkflow(context.Background(), "greet", core.Trigger{
		Source: "test",
		Actor:  "sam",
	})
	require.NoError(t, err)
	assert.Equal(t, core.ExecutionCompleted, exec.Status)
	require.Len(t, exec.Results, 2)
	assert.Equal(t, "echo: say hello to sam", exec.Results[0].Output)
	assert.Equal(t, "echo: recap echo: say hello to sam", exec.Results[1].Output)

	// One disposable runtime per pooled task.
	assert.Equal(t, 2, factory.CreatedCount())
}

func TestAgentRelay_LoadWorkflowsMissingDir(t *testing.T) {
	factory := &testutil.FakeRuntimeFactory{}
	relay := New(factory.New)
	t.Cleanup(func() { relay.Shutdown(context.Background()) })

	_, err := relay.LoadWorkflows(t.TempDir() + "/absent")
	assert.Error(t, err)
}

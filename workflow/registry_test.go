package workflow

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrelay/agentrelay/core"
)

func validDefinition() core.WorkflowDefinition {
	return core.WorkflowDefinition{
		ID:       "review",
		Name:     "Code review",
		Strategy: core.StrategySequential,
		Tasks: []core.Task{
			{ID: "lint", Prompt: "run the linters"},
			{ID: "summary", Prompt: "summarize findings", DependsOn: []string{"lint"}},
		},
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(validDefinition()))

	def, err := r.Get("review")
	require.NoError(t, err)
	assert.Equal(t, "Code review", def.Name)
	assert.Len(t, def.Tasks, 2)

	// Mutating the returned copy must not touch the registry.
	def.Tasks[0].Prompt = "changed"
	again, err := r.Get("review")
	require.NoError(t, err)
	assert.Equal(t, "run the linters", again.Tasks[0].Prompt)
}

func TestRegistry_GetIsExactMatch(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(validDefinition()))

	_, err := r.Get("Review")
	assert.ErrorIs(t, err, core.ErrWorkflowNotFound)
	_, err = r.Get("rev")
	assert.ErrorIs(t, err, core.ErrWorkflowNotFound)
}

func TestRegistry_ValidationRejectsBadDefinitions(t *testing.T) {
	r := NewRegistry()

	noID := validDefinition()
	noID.ID = ""
	assert.Error(t, r.Register(noID))

	noTasks := validDefinition()
	noTasks.Tasks = nil
	assert.Error(t, r.Register(noTasks))

	badStrategy := validDefinition()
	badStrategy.Strategy = "round-robin"
	assert.Error(t, r.Register(badStrategy))

	dupTask := validDefinition()
	dupTask.Tasks[1].ID = "lint"
	assert.Error(t, r.Register(dupTask))

	badDep := validDefinition()
	badDep.Tasks[0].DependsOn = []string{"missing"}
	assert.Error(t, r.Register(badDep))

	assert.Equal(t, 0, r.Len())
}

func TestRegistry_ListSortedByID(t *testing.T) {
	r := NewRegistry()
	a := validDefinition()
	a.ID = "zeta"
	b := validDefinition()
	b.ID = "alpha"
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	defs := r.List()
	require.Len(t, defs, 2)
	assert.Equal(t, "alpha", defs[0].ID)
	assert.Equal(t, "zeta", defs[1].ID)
}

const workflowYAML = `
id: nightly-report
name: Nightly report
strategy: parallel
synthesis_prompt: "Combine the reports"
timeout: 10m
tasks:
  - id: metrics
    prompt: "collect metrics"
    timeout: 90s
  - id: incidents
    prompt: "list incidents"
    project_path: /srv/ops
`

func TestRegistry_LoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nightly.yaml")
	require.NoError(t, os.WriteFile(path, []byte(workflowYAML), 0o644))

	r := NewRegistry()
	require.NoError(t, r.LoadFile(path))

	def, err := r.Get("nightly-report")
	require.NoError(t, err)
	assert.Equal(t, core.StrategyParallel, def.Strategy)
	assert.Equal(t, 10*time.Minute, def.Timeout)
	require.Len(t, def.Tasks, 2)
	assert.Equal(t, 90*time.Second, def.Tasks[0].Timeout)
	assert.Equal(t, "/srv/ops", def.Tasks[1].ProjectPath)
}

func TestRegistry_LoadFileRejectsBadDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	bad := "id: x\nstrategy: sequential\ntimeout: soon\ntasks:\n  - id: a\n    prompt: p\n"
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o644))

	r := NewRegistry()
	assert.Error(t, r.LoadFile(path))
}

func TestRegistry_LoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.yaml"), []byte(workflowYAML), 0o644))
	other := "id: other\nstrategy: sequential\ntasks:\n  - id: a\n    prompt: p\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "two.yml"), []byte(other), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	r := NewRegistry()
	n, err := r.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, r.Len())
}

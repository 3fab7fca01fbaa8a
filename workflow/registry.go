package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentrelay/agentrelay/core"
	"github.com/agentrelay/agentrelay/logging"
)

// Registry holds workflow definitions by id. Lookup is exact-match and
// case-sensitive; definitions are read-only once registered.
type Registry struct {
	mu     sync.RWMutex
	defs   map[string]core.WorkflowDefinition
	logger logging.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		defs:   make(map[string]core.WorkflowDefinition),
		logger: opts.Logger,
	}
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Logger logging.Logger
}

// Register validates and stores a definition. A definition with the same id
// replaces the previous one.
func (r *Registry) Register(def core.WorkflowDefinition) error {
	if err := validateDefinition(def); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.ID] = cloneDefinition(def)
	r.logger.Debug("workflow registered", "workflow_id", def.ID, "tasks", len(def.Tasks), "strategy", def.Strategy)
	return nil
}

// Get returns a copy of the definition with the exact id.
func (r *Registry) Get(id string) (core.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	if !ok {
		return core.WorkflowDefinition{}, fmt.Errorf("workflow %q: %w", id, core.ErrWorkflowNotFound)
	}
	return cloneDefinition(def), nil
}

// List returns all registered definitions sorted by id.
func (r *Registry) List() []core.WorkflowDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.WorkflowDefinition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, cloneDefinition(def))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered definitions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// LoadFile reads one YAML file containing a single workflow definition and
// registers it. Durations are written as Go duration strings ("90s", "5m").
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read workflow file: %w", err)
	}
	var doc workflowFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse workflow file %s: %w", path, err)
	}
	def, err := doc.toDefinition()
	if err != nil {
		return fmt.Errorf("workflow file %s: %w", path, err)
	}
	return r.Register(def)
}

// LoadDir registers every .yaml/.yml file in dir. Files that fail to parse
// abort the load so a typo never silently drops a workflow.
func (r *Registry) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read workflow dir: %w", err)
	}
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if err := r.LoadFile(filepath.Join(dir, entry.Name())); err != nil {
			return loaded, err
		}
		loaded++
	}
	r.logger.Info("workflow definitions loaded", "dir", dir, "count", loaded)
	return loaded, nil
}

func validateDefinition(def core.WorkflowDefinition) error {
	if def.ID == "" {
		return fmt.Errorf("workflow definition requires an id")
	}
	if len(def.Tasks) == 0 {
		return fmt.Errorf("workflow %q has no tasks", def.ID)
	}
	switch def.Strategy {
	case core.StrategySequential, core.StrategyParallel, core.StrategyHierarchical:
	case "":
		return fmt.Errorf("workflow %q has no strategy", def.ID)
	default:
		return fmt.Errorf("workflow %q: unknown strategy %q", def.ID, def.Strategy)
	}
	seen := make(map[string]struct{}, len(def.Tasks))
	for i, task := range def.Tasks {
		if task.ID == "" {
			return fmt.Errorf("workflow %q: task %d has no id", def.ID, i)
		}
		if _, dup := seen[task.ID]; dup {
			return fmt.Errorf("workflow %q: duplicate task id %q", def.ID, task.ID)
		}
		seen[task.ID] = struct{}{}
		if task.Prompt == "" {
			return fmt.Errorf("workflow %q: task %q has no prompt", def.ID, task.ID)
		}
		for _, dep := range task.DependsOn {
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("workflow %q: task %q depends on unknown or later task %q", def.ID, task.ID, dep)
			}
		}
	}
	return nil
}

func cloneDefinition(def core.WorkflowDefinition) core.WorkflowDefinition {
	cp := def
	cp.Tasks = make([]core.Task, len(def.Tasks))
	copy(cp.Tasks, def.Tasks)
	for i := range cp.Tasks {
		cp.Tasks[i].DependsOn = append([]string(nil), def.Tasks[i].DependsOn...)
	}
	return cp
}

// workflowFile is the YAML wire form of a definition. Durations are strings
// so authors write "5m" rather than nanosecond integers.
type workflowFile struct {
	ID              string     `yaml:"id"`
	Name            string     `yaml:"name"`
	Strategy        string     `yaml:"strategy"`
	SynthesisPrompt string     `yaml:"synthesis_prompt"`
	Timeout         string     `yaml:"timeout"`
	Tasks           []taskFile `yaml:"tasks"`
}

type taskFile struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Prompt      string   `yaml:"prompt"`
	ProjectPath string   `yaml:"project_path"`
	Timeout     string   `yaml:"timeout"`
	DependsOn   []string `yaml:"depends_on"`
}

func (f workflowFile) toDefinition() (core.WorkflowDefinition, error) {
	def := core.WorkflowDefinition{
		ID:              f.ID,
		Name:            f.Name,
		Strategy:        core.Strategy(f.Strategy),
		SynthesisPrompt: f.SynthesisPrompt,
	}
	var err error
	if def.Timeout, err = parseDuration(f.Timeout); err != nil {
		return def, fmt.Errorf("timeout: %w", err)
	}
	def.Tasks = make([]core.Task, len(f.Tasks))
	for i, t := range f.Tasks {
		task := core.Task{
			ID:          t.ID,
			Name:        t.Name,
			Prompt:      t.Prompt,
			ProjectPath: t.ProjectPath,
			DependsOn:   t.DependsOn,
		}
		if task.Timeout, err = parseDuration(t.Timeout); err != nil {
			return def, fmt.Errorf("task %q timeout: %w", t.ID, err)
		}
		def.Tasks[i] = task
	}
	return def, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

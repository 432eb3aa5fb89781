package plan

import (
	"github.com/felixgeelhaar/dispatch/internal/domain"
)

// Mode selects how the tasks of one layer are executed.
type Mode string

const (
	// ModeSequential runs the tasks of a layer one at a time in lexicographic order.
	ModeSequential Mode = "sequential"
	// ModeParallel runs the tasks of a layer concurrently under a concurrency bound.
	ModeParallel Mode = "parallel"
)

// RawTask is one planner-supplied subtask before compilation.
type RawTask struct {
	Name        string   `json:"name" yaml:"name"`
	Capability  string   `json:"capability" yaml:"capability"`
	Description string   `json:"description" yaml:"description"`
	DependsOn   []string `json:"depends_on" yaml:"depends_on"`
}

// RawPlan is the plan description handed over by a planner. Tasks keep
// submission order so duplicate names can be detected.
type RawPlan struct {
	ExecutionMode Mode      `json:"execution_mode" yaml:"execution_mode"`
	Tasks         []RawTask `json:"tasks" yaml:"tasks"`
}

// SubTask is an immutable, compiled unit of work.
type SubTask struct {
	Name        string            `json:"name"`
	Capability  domain.Capability `json:"capability"`
	Description string            `json:"description"`
	DependsOn   []string          `json:"depends_on"`
}

// TaskState is the execution state of a subtask within one run.
type TaskState string

// Task states
const (
	StatePending   TaskState = "pending"
	StateRunning   TaskState = "running"
	StateSucceeded TaskState = "succeeded"
	StateFailed    TaskState = "failed"
	StateSkipped   TaskState = "skipped"
)

// IsTerminal reports whether the state can no longer change.
func (s TaskState) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateSkipped
}

// CompiledPlan is a validated plan with its execution layering.
// It is read-only once returned by Compile.
type CompiledPlan struct {
	Mode   Mode
	Layers [][]string
	Hash   string

	raw        RawPlan
	tasks      map[string]SubTask
	layerOf    map[string]int
	dependents map[string][]string
}

// Task returns the subtask with the given name.
func (p *CompiledPlan) Task(name string) (SubTask, bool) {
	t, ok := p.tasks[name]
	return t, ok
}

// Len returns the number of subtasks.
func (p *CompiledPlan) Len() int {
	return len(p.tasks)
}

// LayerOf returns the index of the layer holding name, or -1.
func (p *CompiledPlan) LayerOf(name string) int {
	if i, ok := p.layerOf[name]; ok {
		return i
	}
	return -1
}

// Raw returns the plan as submitted.
func (p *CompiledPlan) Raw() RawPlan {
	return p.raw
}

// Names returns every task name in layer-then-lexicographic order.
func (p *CompiledPlan) Names() []string {
	names := make([]string, 0, len(p.tasks))
	for _, layer := range p.Layers {
		names = append(names, layer...)
	}
	return names
}

// Descendants returns every task that depends on name directly or
// transitively, in layer-then-lexicographic order.
func (p *CompiledPlan) Descendants(name string) []string {
	seen := make(map[string]bool)
	stack := append([]string(nil), p.dependents[name]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, p.dependents[n]...)
	}

	var out []string
	for _, n := range p.Names() {
		if seen[n] {
			out = append(out, n)
		}
	}
	return out
}

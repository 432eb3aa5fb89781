package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/felixgeelhaar/dispatch/internal/domain"
	"github.com/felixgeelhaar/dispatch/internal/errors"
)

// CapabilitySet answers whether a capability has a registered worker.
type CapabilitySet interface {
	Has(capability string) bool
}

// ErrorKind classifies a CompileError.
type ErrorKind string

// Compile error kinds
const (
	KindCycle              ErrorKind = "cycle"
	KindUnknownCapability  ErrorKind = "unknown_capability"
	KindDuplicateName      ErrorKind = "duplicate_name"
	KindDanglingDependency ErrorKind = "dangling_dependency"
	KindInvalid            ErrorKind = "invalid"
)

var kindCodes = map[ErrorKind]errors.ErrorCode{
	KindCycle:              errors.ErrCodePlanCyclicDep,
	KindUnknownCapability:  errors.ErrCodePlanUnknownCapability,
	KindDuplicateName:      errors.ErrCodePlanDuplicateName,
	KindDanglingDependency: errors.ErrCodePlanDanglingDependency,
	KindInvalid:            errors.ErrCodePlanInvalid,
}

// CompileError rejects a plan. No CompiledPlan accompanies it.
type CompileError struct {
	Kind   ErrorKind
	Task   string
	Detail string
	// Path holds the offending cycle for KindCycle, first node repeated at the end.
	Path []string
}

func (e *CompileError) Error() string {
	if e.Task == "" {
		return fmt.Sprintf("compile plan: %s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("compile plan: %s: task %q: %s", e.Kind, e.Task, e.Detail)
}

// Unwrap exposes the coded form of the error.
func (e *CompileError) Unwrap() error {
	return errors.New(kindCodes[e.Kind], e.Detail)
}

// Compile validates raw against caps and computes its execution layering.
//
// Checks run in a fixed order: plan shape, duplicate names, dangling
// dependencies, unknown capabilities, cycles. The first violation wins.
func Compile(raw RawPlan, caps CapabilitySet) (*CompiledPlan, error) {
	mode := raw.ExecutionMode
	switch mode {
	case "":
		mode = ModeSequential
	case ModeSequential, ModeParallel:
	default:
		return nil, &CompileError{Kind: KindInvalid, Detail: fmt.Sprintf("unknown execution_mode %q", mode)}
	}

	if len(raw.Tasks) == 0 {
		return nil, &CompileError{Kind: KindInvalid, Detail: "plan must have at least one task"}
	}

	tasks := make(map[string]SubTask, len(raw.Tasks))
	for i, rt := range raw.Tasks {
		name := strings.TrimSpace(rt.Name)
		if name == "" {
			return nil, &CompileError{Kind: KindInvalid, Detail: fmt.Sprintf("task at index %d has no name", i)}
		}
		if _, dup := tasks[name]; dup {
			return nil, &CompileError{Kind: KindDuplicateName, Task: name, Detail: fmt.Sprintf("name repeated at index %d", i)}
		}
		tasks[name] = SubTask{
			Name:        name,
			Capability:  domain.Capability(strings.TrimSpace(rt.Capability)),
			Description: rt.Description,
			DependsOn:   normalizeDeps(rt.DependsOn),
		}
	}

	names := sortedKeys(tasks)

	for _, name := range names {
		for _, dep := range tasks[name].DependsOn {
			if _, ok := tasks[dep]; !ok {
				return nil, &CompileError{Kind: KindDanglingDependency, Task: name, Detail: fmt.Sprintf("depends on %q which is not in the plan", dep)}
			}
		}
	}

	for _, name := range names {
		c := tasks[name].Capability
		if err := c.Validate(); err != nil {
			return nil, &CompileError{Kind: KindUnknownCapability, Task: name, Detail: err.Error()}
		}
		if caps == nil || !caps.Has(c.String()) {
			return nil, &CompileError{Kind: KindUnknownCapability, Task: name, Detail: fmt.Sprintf("capability %q is not registered", c)}
		}
	}

	if path := findCycle(names, tasks); path != nil {
		return nil, &CompileError{
			Kind:   KindCycle,
			Task:   path[0],
			Detail: "circular dependency detected: " + strings.Join(path, " -> "),
			Path:   path,
		}
	}

	layers, layerOf := layer(names, tasks)

	dependents := make(map[string][]string)
	for _, name := range names {
		for _, dep := range tasks[name].DependsOn {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	hash, err := Fingerprint(raw)
	if err != nil {
		return nil, fmt.Errorf("fingerprint plan: %w", err)
	}

	return &CompiledPlan{
		Mode:       mode,
		Layers:     layers,
		Hash:       hash,
		raw:        raw,
		tasks:      tasks,
		layerOf:    layerOf,
		dependents: dependents,
	}, nil
}

type color int

const (
	white color = iota
	gray
	black
)

// findCycle runs a three-color DFS over the dependency edges. A back edge to
// a gray node closes a cycle; the returned path starts and ends on that node.
func findCycle(names []string, tasks map[string]SubTask) []string {
	colors := make(map[string]color, len(names))
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		colors[name] = gray
		stack = append(stack, name)

		for _, dep := range tasks[name].DependsOn {
			switch colors[dep] {
			case gray:
				start := 0
				for i, n := range stack {
					if n == dep {
						start = i
						break
					}
				}
				cycle := append([]string(nil), stack[start:]...)
				return append(cycle, dep)
			case white:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		colors[name] = black
		return nil
	}

	for _, name := range names {
		if colors[name] == white {
			if cycle := visit(name); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// layer repeatedly extracts the unassigned tasks whose dependencies are all
// assigned. Each extraction is one layer, sorted lexicographically.
func layer(names []string, tasks map[string]SubTask) ([][]string, map[string]int) {
	layerOf := make(map[string]int, len(names))
	var layers [][]string

	for len(layerOf) < len(names) {
		var ready []string
		for _, name := range names {
			if _, done := layerOf[name]; done {
				continue
			}
			if depsAssigned(tasks[name].DependsOn, layerOf) {
				ready = append(ready, name)
			}
		}
		if len(ready) == 0 {
			// unreachable after findCycle
			break
		}
		for _, name := range ready {
			layerOf[name] = len(layers)
		}
		layers = append(layers, ready)
	}

	return layers, layerOf
}

func depsAssigned(deps []string, layerOf map[string]int) bool {
	for _, dep := range deps {
		if _, ok := layerOf[dep]; !ok {
			return false
		}
	}
	return true
}

func normalizeDeps(deps []string) []string {
	seen := make(map[string]bool, len(deps))
	out := make([]string, 0, len(deps))
	for _, d := range deps {
		d = strings.TrimSpace(d)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func sortedKeys(tasks map[string]SubTask) []string {
	names := make([]string, 0, len(tasks))
	for name := range tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

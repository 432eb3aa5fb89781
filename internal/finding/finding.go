package finding

import (
	"fmt"
	"time"

	"github.com/felixgeelhaar/dispatch/internal/plan"
	"github.com/felixgeelhaar/dispatch/internal/validation"
)

// Finding is the recorded result of one subtask, including skipped ones.
type Finding struct {
	TaskName        string             `json:"task_name"`
	Capability      string             `json:"capability_used"`
	State           plan.TaskState     `json:"state"`
	Layer           int                `json:"layer"`
	RawOutput       string             `json:"raw_output"`
	ValidatedOutput string             `json:"validated_output"`
	Verdict         validation.Verdict `json:"verdict"`
	Duration        time.Duration      `json:"duration"`
	Attempts        int                `json:"attempts"`
}

// Succeeded reports whether the task ran and its output passed validation.
func (f Finding) Succeeded() bool {
	return f.State == plan.StateSucceeded
}

// Store holds the findings of one run in insertion order.
//
// A Store has exactly one writer, the scheduler's coordinating goroutine,
// so it carries no lock.
type Store struct {
	order  []string
	byName map[string]Finding
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{byName: make(map[string]Finding)}
}

// Put records f. Each task is recorded once.
func (s *Store) Put(f Finding) error {
	if _, exists := s.byName[f.TaskName]; exists {
		return fmt.Errorf("finding for task %q already recorded", f.TaskName)
	}
	s.order = append(s.order, f.TaskName)
	s.byName[f.TaskName] = f
	return nil
}

// Get returns the finding for name.
func (s *Store) Get(name string) (Finding, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// Has reports whether a finding exists for name.
func (s *Store) Has(name string) bool {
	_, ok := s.byName[name]
	return ok
}

// Len returns the number of findings.
func (s *Store) Len() int {
	return len(s.order)
}

// All returns every finding in insertion order.
func (s *Store) All() []Finding {
	out := make([]Finding, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.byName[name])
	}
	return out
}

// Select returns the findings for names, in the order given, skipping
// names with no finding.
func (s *Store) Select(names []string) []Finding {
	out := make([]Finding, 0, len(names))
	for _, name := range names {
		if f, ok := s.byName[name]; ok {
			out = append(out, f)
		}
	}
	return out
}

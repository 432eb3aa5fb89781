// Package registry maps capability names to worker handles and the tool
// allowlist each capability may use.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/felixgeelhaar/dispatch/internal/domain"
	"github.com/felixgeelhaar/dispatch/internal/errors"
	"github.com/felixgeelhaar/dispatch/internal/worker"
)

// NotFoundError reports an unregistered capability.
type NotFoundError struct {
	Capability string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("capability %q is not registered", e.Capability)
}

// Unwrap exposes the coded form of the error.
func (e *NotFoundError) Unwrap() error {
	return errors.NewCapabilityNotFoundError(e.Capability)
}

// DuplicateError reports a second registration of a capability.
type DuplicateError struct {
	Capability string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("capability %q is already registered", e.Capability)
}

// Unwrap exposes the coded form of the error.
func (e *DuplicateError) Unwrap() error {
	return errors.NewCapabilityDuplicateError(e.Capability)
}

// Entry describes one registered capability.
type Entry struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tools       []string `json:"tools"`
}

// Status is the health summary of one capability.
type Status struct {
	Name      string `json:"name"`
	ToolCount int    `json:"tool_count"`
	Healthy   bool   `json:"healthy"`
}

type registration struct {
	entry  Entry
	handle worker.Handle
}

// Registry is a constructed, per-process capability table. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// Register adds a capability. Names must be valid capability names and
// unique; tools are stored sorted and deduplicated.
func (r *Registry) Register(name, description string, tools []string, handle worker.Handle) error {
	capability, err := domain.NewCapability(name)
	if err != nil {
		return errors.Wrap(errors.ErrCodeCapabilityInvalid, "invalid capability", err)
	}
	if handle == nil {
		return errors.New(errors.ErrCodeCapabilityInvalid, fmt.Sprintf("capability %s has no worker handle", name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[capability.String()]; exists {
		return &DuplicateError{Capability: capability.String()}
	}

	r.entries[capability.String()] = registration{
		entry: Entry{
			Name:        capability.String(),
			Description: strings.TrimSpace(description),
			Tools:       normalizeTools(tools),
		},
		handle: handle,
	}
	return nil
}

// Resolve returns the worker handle for capability.
func (r *Registry) Resolve(capability string) (worker.Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.entries[capability]
	if !ok {
		return nil, &NotFoundError{Capability: capability}
	}
	return reg.handle, nil
}

// Allowlist returns a copy of the tools capability may use.
func (r *Registry) Allowlist(capability string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.entries[capability]
	if !ok {
		return nil, &NotFoundError{Capability: capability}
	}
	return append([]string{}, reg.entry.Tools...), nil
}

// Has reports whether capability is registered.
func (r *Registry) Has(capability string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.entries[capability]
	return ok
}

// List returns every entry sorted by name.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, reg := range r.entries {
		e := reg.entry
		e.Tools = append([]string{}, e.Tools...)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RoutingContext renders the registry for an external planner, one
// capability per line.
func (r *Registry) RoutingContext() string {
	var lines []string
	for _, e := range r.List() {
		line := fmt.Sprintf("- %s: %s", e.Name, e.Description)
		if len(e.Tools) > 0 {
			line += fmt.Sprintf(" (tools: %s)", strings.Join(e.Tools, ", "))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// Health reports per-capability tool counts. A capability is healthy when
// it has a handle.
func (r *Registry) Health() []Status {
	entries := r.List()
	out := make([]Status, 0, len(entries))

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range entries {
		out = append(out, Status{
			Name:      e.Name,
			ToolCount: len(e.Tools),
			Healthy:   r.entries[e.Name].handle != nil,
		})
	}
	return out
}

func normalizeTools(tools []string) []string {
	seen := make(map[string]bool, len(tools))
	out := make([]string, 0, len(tools))
	for _, t := range tools {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

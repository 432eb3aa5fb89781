package plan

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// Canonicalize returns a stable JSON form of raw: tasks sorted by name,
// dependencies sorted and deduplicated, empty mode resolved to sequential.
func Canonicalize(raw RawPlan) ([]byte, error) {
	mode := raw.ExecutionMode
	if mode == "" {
		mode = ModeSequential
	}

	tasks := make([]RawTask, len(raw.Tasks))
	for i, t := range raw.Tasks {
		tasks[i] = RawTask{
			Name:        strings.TrimSpace(t.Name),
			Capability:  strings.TrimSpace(t.Capability),
			Description: t.Description,
			DependsOn:   normalizeDeps(t.DependsOn),
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })

	return json.Marshal(struct {
		Mode  Mode      `json:"execution_mode"`
		Tasks []RawTask `json:"tasks"`
	}{mode, tasks})
}

// Fingerprint computes the blake3 hash of the canonical plan.
func Fingerprint(raw RawPlan) (string, error) {
	canonical, err := Canonicalize(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize plan: %w", err)
	}

	hasher := blake3.New()
	if _, err := hasher.Write(canonical); err != nil {
		return "", fmt.Errorf("hash plan: %w", err)
	}

	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}

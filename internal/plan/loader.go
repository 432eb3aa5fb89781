package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/dispatch/internal/errors"
)

// Planner produces a raw plan for a request. How it does so (an LLM, a
// template, a file) is irrelevant to compilation.
type Planner interface {
	Plan(ctx context.Context, request string) (RawPlan, error)
}

// FilePlanner returns the plan stored at Path regardless of the request.
type FilePlanner struct {
	Path string
}

// Plan implements Planner.
func (f FilePlanner) Plan(ctx context.Context, _ string) (RawPlan, error) {
	if err := ctx.Err(); err != nil {
		return RawPlan{}, err
	}
	return LoadPlan(f.Path)
}

// LoadPlan reads a RawPlan from a JSON or YAML file. The format follows
// the extension; anything other than .json is parsed as YAML.
func LoadPlan(path string) (RawPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RawPlan{}, errors.NewPlanNotFoundError(path)
		}
		return RawPlan{}, fmt.Errorf("read plan file: %w", err)
	}
	return ParsePlan(data, formatOf(path), path)
}

// ParsePlan decodes data in the given format ("json" or "yaml").
func ParsePlan(data []byte, format, source string) (RawPlan, error) {
	var p RawPlan
	switch format {
	case "json":
		if err := json.Unmarshal(data, &p); err != nil {
			return RawPlan{}, errors.NewFileUnmarshalError(source, "JSON", err)
		}
	default:
		if err := yaml.Unmarshal(data, &p); err != nil {
			return RawPlan{}, errors.NewFileUnmarshalError(source, "YAML", err)
		}
	}
	return p, nil
}

// SavePlan writes a RawPlan as JSON or YAML depending on the extension.
func SavePlan(p RawPlan, path string) error {
	var (
		data []byte
		err  error
	)
	if formatOf(path) == "json" {
		data, err = json.MarshalIndent(p, "", "  ")
	} else {
		data, err = yaml.Marshal(p)
	}
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write plan file: %w", err)
	}
	return nil
}

func formatOf(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return "json"
	}
	return "yaml"
}

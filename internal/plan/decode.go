package plan

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// UnmarshalJSON accepts tasks either as a list of named tasks or as a
// mapping from task name to task. Mapping order and duplicate keys are
// preserved so the compiler can reject them.
func (p *RawPlan) UnmarshalJSON(data []byte) error {
	var doc struct {
		ExecutionMode Mode            `json:"execution_mode"`
		Tasks         json.RawMessage `json:"tasks"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	tasks, err := decodeJSONTasks(doc.Tasks)
	if err != nil {
		return err
	}

	p.ExecutionMode = doc.ExecutionMode
	p.Tasks = tasks
	return nil
}

func decodeJSONTasks(data json.RawMessage) ([]RawTask, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		var tasks []RawTask
		if err := json.Unmarshal(trimmed, &tasks); err != nil {
			return nil, fmt.Errorf("decode task list: %w", err)
		}
		return tasks, nil
	case '{':
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("decode task mapping: %w", err)
		}
		var tasks []RawTask
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("decode task mapping: %w", err)
			}
			name, _ := tok.(string)

			var task RawTask
			if err := dec.Decode(&task); err != nil {
				return nil, fmt.Errorf("decode task %q: %w", name, err)
			}
			task.Name = name
			tasks = append(tasks, task)
		}
		return tasks, nil
	default:
		return nil, fmt.Errorf("tasks must be a list or a mapping")
	}
}

// UnmarshalYAML mirrors UnmarshalJSON for YAML documents.
func (p *RawPlan) UnmarshalYAML(value *yaml.Node) error {
	var doc struct {
		ExecutionMode Mode      `yaml:"execution_mode"`
		Tasks         yaml.Node `yaml:"tasks"`
	}
	if err := value.Decode(&doc); err != nil {
		return err
	}

	var tasks []RawTask
	switch {
	case doc.Tasks.Kind == 0, doc.Tasks.Kind == yaml.ScalarNode && doc.Tasks.Tag == "!!null":
	case doc.Tasks.Kind == yaml.SequenceNode:
		if err := doc.Tasks.Decode(&tasks); err != nil {
			return fmt.Errorf("decode task list: %w", err)
		}
	case doc.Tasks.Kind == yaml.MappingNode:
		content := doc.Tasks.Content
		for i := 0; i+1 < len(content); i += 2 {
			var task RawTask
			if err := content[i+1].Decode(&task); err != nil {
				return fmt.Errorf("decode task %q: %w", content[i].Value, err)
			}
			task.Name = content[i].Value
			tasks = append(tasks, task)
		}
	default:
		return fmt.Errorf("line %d: tasks must be a list or a mapping", doc.Tasks.Line)
	}

	p.ExecutionMode = doc.ExecutionMode
	p.Tasks = tasks
	return nil
}

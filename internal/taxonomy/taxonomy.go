// Package taxonomy holds the fixed list of policy tasks ("opgaven") that the
// classifier scores every document against.
package taxonomy

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// TaskCount is the number of tasks in a valid taxonomy.
const TaskCount = 21

//go:embed default.yaml
var defaultYAML []byte

// Task is one policy task.
type Task struct {
	ID          int    `yaml:"id" json:"id" validate:"min=1,max=21"`
	Name        string `yaml:"name" json:"name" validate:"required"`
	Description string `yaml:"description" json:"description" validate:"required"`
}

// Taxonomy is the ordered task list supplied to the classifier.
type Taxonomy struct {
	Name    string `yaml:"name" json:"name"`
	Version int    `yaml:"version" json:"version"`
	Tasks   []Task `yaml:"tasks" json:"tasks" validate:"len=21,dive"`
}

// Default returns the embedded NAS taxonomy.
func Default() (*Taxonomy, error) {
	return Parse(defaultYAML)
}

// Load reads a taxonomy from a YAML file. An empty path returns Default.
func Load(path string) (*Taxonomy, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "taxonomy: read %s", path)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML taxonomy.
func Parse(data []byte) (*Taxonomy, error) {
	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, eris.Wrap(err, "taxonomy: decode")
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks that the taxonomy has exactly ids 1..21, each once.
func (t *Taxonomy) Validate() error {
	if err := validator.New().Struct(t); err != nil {
		return eris.Wrap(err, "taxonomy: validate")
	}
	seen := make(map[int]bool, len(t.Tasks))
	for _, task := range t.Tasks {
		if seen[task.ID] {
			return eris.Errorf("taxonomy: duplicate task id %d", task.ID)
		}
		seen[task.ID] = true
	}
	return nil
}

// IDs returns the task ids in taxonomy order.
func (t *Taxonomy) IDs() []int {
	ids := make([]int, len(t.Tasks))
	for i, task := range t.Tasks {
		ids[i] = task.ID
	}
	return ids
}

// Keys returns the task ids as the decimal strings used in JSON payloads.
func (t *Taxonomy) Keys() []string {
	keys := make([]string, len(t.Tasks))
	for i, task := range t.Tasks {
		keys[i] = strconv.Itoa(task.ID)
	}
	return keys
}

// Task returns the task with the given id.
func (t *Taxonomy) Task(id int) (Task, bool) {
	for _, task := range t.Tasks {
		if task.ID == id {
			return task, true
		}
	}
	return Task{}, false
}

// Render formats the taxonomy as a numbered list for prompts.
func (t *Taxonomy) Render() string {
	var b strings.Builder
	for _, task := range t.Tasks {
		fmt.Fprintf(&b, "%d. %s: %s\n", task.ID, task.Name, task.Description)
	}
	return b.String()
}

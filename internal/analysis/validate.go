package analysis

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xeipuuv/gojsonschema"

	"github.com/sells-group/policy-monitor/internal/model"
	"github.com/sells-group/policy-monitor/internal/taxonomy"
)

// Score bounds accepted for every task.
const (
	MinScore = 0
	MaxScore = 10
)

// Problem is a single reason a classifier payload was rejected.
type Problem struct {
	Field   string
	Message string
}

// ValidationFailure lists everything wrong with a classifier payload.
type ValidationFailure struct {
	Problems []Problem
}

func (v *ValidationFailure) Error() string {
	parts := make([]string, len(v.Problems))
	for i, p := range v.Problems {
		parts[i] = p.Field + ": " + p.Message
	}
	return "analysis: invalid classifier response: " + strings.Join(parts, "; ")
}

// Validator checks payloads against the schema derived from one taxonomy.
type Validator struct {
	tax    *taxonomy.Taxonomy
	schema *gojsonschema.Schema
}

// NewValidator compiles the response schema for tax.
func NewValidator(tax *taxonomy.Taxonomy) (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(ResponseSchema(tax)))
	if err != nil {
		return nil, eris.Wrap(err, "analysis: compile response schema")
	}
	return &Validator{tax: tax, schema: schema}, nil
}

// ResponseSchema returns the JSON Schema of a classifier answer: a boolean
// is_relevant, a non-blank summary and a tasks object with exactly one
// numeric score per taxonomy task.
func ResponseSchema(tax *taxonomy.Taxonomy) map[string]any {
	keys := tax.Keys()
	taskProps := make(map[string]any, len(keys))
	for _, k := range keys {
		taskProps[k] = map[string]any{
			"type":    "number",
			"minimum": MinScore,
			"maximum": MaxScore,
		}
	}
	return map[string]any{
		"$schema":  "http://json-schema.org/draft-07/schema#",
		"type":     "object",
		"required": []string{"is_relevant", "summary", "tasks"},
		"properties": map[string]any{
			"is_relevant": map[string]any{"type": "boolean"},
			"summary": map[string]any{
				"type":      "string",
				"minLength": 1,
				"pattern":   `\S`,
			},
			"tasks": map[string]any{
				"type":                 "object",
				"required":             keys,
				"properties":           taskProps,
				"additionalProperties": false,
			},
		},
	}
}

// Validate checks payload and decodes it into an Analysis. Model and
// AnalyzedAt are left for the caller.
func (v *Validator) Validate(payload json.RawMessage) (*model.Analysis, error) {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		// The payload is not parseable JSON at all.
		return nil, &ValidationFailure{Problems: []Problem{{Field: "(root)", Message: err.Error()}}}
	}
	if !result.Valid() {
		return nil, failureFrom(result.Errors())
	}

	var out struct {
		IsRelevant bool             `json:"is_relevant"`
		Summary    string           `json:"summary"`
		Tasks      model.TaskScores `json:"tasks"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, &ValidationFailure{Problems: []Problem{{Field: "(root)", Message: err.Error()}}}
	}
	if len(out.Tasks) != len(v.tax.Tasks) {
		return nil, &ValidationFailure{Problems: []Problem{{
			Field:   "tasks",
			Message: fmt.Sprintf("expected %d scores, got %d", len(v.tax.Tasks), len(out.Tasks)),
		}}}
	}

	return &model.Analysis{
		IsRelevant: out.IsRelevant,
		Summary:    strings.TrimSpace(out.Summary),
		TaskScores: out.Tasks,
	}, nil
}

// Validate is a one-off Validator.Validate.
func Validate(payload json.RawMessage, tax *taxonomy.Taxonomy) (*model.Analysis, error) {
	v, err := NewValidator(tax)
	if err != nil {
		return nil, err
	}
	return v.Validate(payload)
}

func failureFrom(errs []gojsonschema.ResultError) *ValidationFailure {
	vf := &ValidationFailure{Problems: make([]Problem, 0, len(errs))}
	for _, desc := range errs {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		vf.Problems = append(vf.Problems, Problem{Field: field, Message: desc.Description()})
	}
	sort.SliceStable(vf.Problems, func(i, j int) bool {
		return vf.Problems[i].Field < vf.Problems[j].Field
	})
	return vf
}

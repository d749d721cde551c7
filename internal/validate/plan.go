package validate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ShayCichocki/crew/pkg/models"
)

// ErrMalformedPlan is returned when a plan cannot be used; callers re-plan.
var ErrMalformedPlan = errors.New("malformed plan")

const planSchemaText = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "minItems": 1,
  "items": {
    "type": "object",
    "required": ["capability", "task_id"],
    "properties": {
      "capability": {"type": "string", "minLength": 1},
      "task_id": {"type": "integer", "minimum": 1}
    }
  }
}`

var planSchema = mustCompile("plan.json", planSchemaText)

func mustCompile(name, text string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(text)); err != nil {
		panic(fmt.Sprintf("load schema %s: %v", name, err))
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return schema
}

// PlanValidation is the outcome of checking a candidate plan.
type PlanValidation struct {
	Steps    []models.PlanStep
	Rejected []Rejected
}

// PlanSteps checks a parsed plan against the open-task snapshot.
//
// The plan must be a list of objects each carrying a capability and a task id
// ("agent" and "issue_number" are accepted as aliases). Structural failures
// return ErrMalformedPlan. Steps naming an unknown capability or a task that is
// not open are rejected individually; a plan left with no steps is malformed.
// At most max steps are kept (max <= 0 keeps all).
func PlanSteps(value any, open []models.Task, max int) (*PlanValidation, error) {
	list, ok := unwrapList(value)
	if !ok {
		return nil, fmt.Errorf("%w: want a list of steps, got %T", ErrMalformedPlan, value)
	}

	normalized := make([]any, len(list))
	for i, entry := range list {
		normalized[i] = normalizeStep(entry)
	}
	if err := planSchema.Validate(normalized); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedPlan, summarizeSchemaError(err))
	}

	openIDs := make(map[int]bool, len(open))
	for _, t := range open {
		openIDs[t.ID] = true
	}

	res := &PlanValidation{}
	seen := make(map[models.PlanStep]bool)
	for i, entry := range normalized {
		obj := entry.(map[string]any)
		capName := obj["capability"].(string)
		taskID := asInt(obj["task_id"])

		c, err := models.ParseCapability(capName)
		if err != nil {
			res.Rejected = append(res.Rejected, Rejected{Index: i, Value: list[i], Reason: err.Error()})
			continue
		}
		if !openIDs[taskID] {
			res.Rejected = append(res.Rejected, Rejected{Index: i, Value: list[i], Reason: fmt.Sprintf("task #%d is not open", taskID)})
			continue
		}
		step := models.PlanStep{Capability: c, TaskID: taskID}
		if seen[step] {
			res.Rejected = append(res.Rejected, Rejected{Index: i, Value: list[i], Reason: "duplicate step"})
			continue
		}
		seen[step] = true
		if max > 0 && len(res.Steps) >= max {
			res.Rejected = append(res.Rejected, Rejected{Index: i, Value: list[i], Reason: "exceeds step limit"})
			continue
		}
		res.Steps = append(res.Steps, step)
	}

	if len(res.Steps) == 0 {
		return res, fmt.Errorf("%w: no usable steps (%d rejected)", ErrMalformedPlan, len(res.Rejected))
	}
	return res, nil
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return 0
	}
}

func unwrapList(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case map[string]any:
		for _, key := range []string{"steps", "plan", "actions"} {
			if list, ok := t[key].([]any); ok {
				return list, true
			}
		}
	}
	return nil, false
}

// normalizeStep maps field aliases onto capability/task_id and coerces numeric
// strings such as "12" or "#12". Non-objects pass through for the schema to reject.
func normalizeStep(entry any) any {
	obj, ok := entry.(map[string]any)
	if !ok {
		return entry
	}
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	if _, ok := out["capability"]; !ok {
		if v, ok := out["agent"]; ok {
			out["capability"] = v
		}
	}
	if _, ok := out["task_id"]; !ok {
		for _, alias := range []string{"issue_number", "issue", "task"} {
			if v, ok := out[alias]; ok {
				out["task_id"] = v
				break
			}
		}
	}
	if s, ok := out["task_id"].(string); ok {
		if n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(s), "#")); err == nil {
			out["task_id"] = float64(n)
		}
	}
	return out
}

func summarizeSchemaError(err error) string {
	var verr *jsonschema.ValidationError
	if errors.As(err, &verr) {
		leaf := verr
		for len(leaf.Causes) > 0 {
			leaf = leaf.Causes[0]
		}
		return fmt.Sprintf("%s: %s", leaf.InstanceLocation, leaf.Message)
	}
	return err.Error()
}

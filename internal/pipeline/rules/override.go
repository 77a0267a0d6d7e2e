// internal/pipeline/rules/override.go
package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	apperrors "pipeline-engine/internal/common/errors"

	"github.com/xeipuuv/gojsonschema"
)

// overrideSchema validates operator-supplied rule override files before any
// of their content is interpreted.
const overrideSchema = `{
  "type": "object",
  "required": ["rules"],
  "properties": {
    "version": { "type": "string" },
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["stage", "toSubstage", "when"],
        "properties": {
          "stage": { "type": "string", "minLength": 1 },
          "fromSubstage": { "type": "string" },
          "toSubstage": { "type": "string", "minLength": 1 },
          "when": { "$ref": "#/definitions/predicate" }
        },
        "additionalProperties": false
      }
    }
  },
  "definitions": {
    "predicate": {
      "type": "object",
      "required": ["kind"],
      "properties": {
        "kind": {
          "type": "string",
          "enum": [
            "time_elapsed_since_field",
            "time_elapsed_since_stage_entry",
            "field_present",
            "field_absent",
            "field_equals",
            "any_field_present",
            "joined_window",
            "time_window_around_field",
            "all_of"
          ]
        },
        "field": { "type": "string" },
        "fallbackField": { "type": "string" },
        "thresholdMinutes": { "type": "number", "minimum": 0 },
        "value": { "type": "string" },
        "fields": { "type": "array", "items": { "type": "string" } },
        "leadMinutes": { "type": "number", "minimum": 0 },
        "lagMinutes": { "type": "number", "minimum": 0 },
        "all": { "type": "array", "items": { "$ref": "#/definitions/predicate" } }
      }
    }
  }
}`

type overrideFile struct {
	Version string         `json:"version"`
	Rules   []overrideRule `json:"rules"`
}

type overrideRule struct {
	Stage        string            `json:"stage"`
	FromSubstage string            `json:"fromSubstage"`
	ToSubstage   string            `json:"toSubstage"`
	When         overridePredicate `json:"when"`
}

type overridePredicate struct {
	Kind             string              `json:"kind"`
	Field            string              `json:"field"`
	FallbackField    string              `json:"fallbackField"`
	ThresholdMinutes float64             `json:"thresholdMinutes"`
	Value            string              `json:"value"`
	Fields           []string            `json:"fields"`
	LeadMinutes      float64             `json:"leadMinutes"`
	LagMinutes       float64             `json:"lagMinutes"`
	All              []overridePredicate `json:"all"`
}

// LoadOverrides reads a JSON rule override file, validates it against the
// override schema, and builds the rules it declares.
func LoadOverrides(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule override file: %w", err)
	}

	schemaLoader := gojsonschema.NewStringLoader(overrideSchema)
	documentLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, apperrors.NewOverrideValidationFailedError(path, err.Error())
	}
	if !result.Valid() {
		msgs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			msgs[i] = desc.String()
		}
		return nil, apperrors.NewOverrideValidationFailedError(path, strings.Join(msgs, "; "))
	}

	var file overrideFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rule override file: %w", err)
	}

	overrideRules := make([]Rule, 0, len(file.Rules))
	for _, or := range file.Rules {
		pred, err := buildPredicate(or.When)
		if err != nil {
			return nil, apperrors.NewOverrideValidationFailedError(path, err.Error())
		}
		overrideRules = append(overrideRules, Rule{
			Stage:        or.Stage,
			FromSubstage: or.FromSubstage,
			ToSubstage:   or.ToSubstage,
			When:         pred,
		})
	}

	return overrideRules, nil
}

func buildPredicate(op overridePredicate) (Predicate, error) {
	switch op.Kind {
	case "time_elapsed_since_field":
		if op.Field == "" {
			return nil, fmt.Errorf("%s requires a field", op.Kind)
		}
		return TimeElapsedSinceField{
			Field:     op.Field,
			Threshold: minutes(op.ThresholdMinutes),
			Fallback:  op.FallbackField,
		}, nil
	case "time_elapsed_since_stage_entry":
		return TimeElapsedSinceStageEntry{Threshold: minutes(op.ThresholdMinutes)}, nil
	case "field_present":
		if op.Field == "" {
			return nil, fmt.Errorf("%s requires a field", op.Kind)
		}
		return FieldPresent{Field: op.Field}, nil
	case "field_absent":
		if op.Field == "" {
			return nil, fmt.Errorf("%s requires a field", op.Kind)
		}
		return FieldAbsent{Field: op.Field}, nil
	case "field_equals":
		if op.Field == "" {
			return nil, fmt.Errorf("%s requires a field", op.Kind)
		}
		return FieldEquals{Field: op.Field, Value: op.Value}, nil
	case "any_field_present":
		if len(op.Fields) == 0 {
			return nil, fmt.Errorf("%s requires at least one field", op.Kind)
		}
		return AnyFieldPresent{Fields: op.Fields}, nil
	case "joined_window":
		return JoinedWindow{}, nil
	case "time_window_around_field":
		if op.Field == "" {
			return nil, fmt.Errorf("%s requires a field", op.Kind)
		}
		return TimeWindowAroundField{
			Field: op.Field,
			Lead:  minutes(op.LeadMinutes),
			Lag:   minutes(op.LagMinutes),
		}, nil
	case "all_of":
		if len(op.All) == 0 {
			return nil, fmt.Errorf("%s requires inner predicates", op.Kind)
		}
		inner := make([]Predicate, 0, len(op.All))
		for _, sub := range op.All {
			p, err := buildPredicate(sub)
			if err != nil {
				return nil, err
			}
			inner = append(inner, p)
		}
		return AllOf{Predicates: inner}, nil
	default:
		return nil, fmt.Errorf("unknown predicate kind %q", op.Kind)
	}
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}

// MergeRules overlays override rules onto the defaults. An override keyed on
// an existing (stage, fromSubstage) pair replaces that rule; otherwise it is
// added.
func MergeRules(defaults, overrides []Rule) []Rule {
	merged := make([]Rule, len(defaults))
	copy(merged, defaults)

	for _, override := range overrides {
		replaced := false
		for i, rule := range merged {
			if rule.Stage == override.Stage && rule.FromSubstage == override.FromSubstage {
				merged[i] = override
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, override)
		}
	}

	return merged
}

// internal/pipeline/rules/override_test.go
package rules

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "pipeline-engine/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeOverrideFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write override file: %v", err)
	}
	return path
}

func TestLoadOverrides_Valid(t *testing.T) {
	path := writeOverrideFile(t, `{
		"version": "1",
		"rules": [
			{
				"stage": "Offer",
				"fromSubstage": "offer_preparation",
				"toSubstage": "offer_approval",
				"when": {
					"kind": "time_elapsed_since_field",
					"field": "updated_at",
					"thresholdMinutes": 360
				}
			},
			{
				"stage": "Technical Assessment",
				"fromSubstage": "assessment_submitted",
				"toSubstage": "pending_review",
				"when": {
					"kind": "all_of",
					"all": [
						{ "kind": "field_present", "field": "assessment_submitted_at" },
						{ "kind": "field_absent", "field": "assessment_score" }
					]
				}
			}
		]
	}`)

	overrides, err := LoadOverrides(path)
	require.NoError(t, err)
	require.Len(t, overrides, 2)

	pred, ok := overrides[0].When.(TimeElapsedSinceField)
	require.True(t, ok)
	assert.Equal(t, 6*time.Hour, pred.Threshold)
	assert.Equal(t, "updated_at", pred.Field)

	composite, ok := overrides[1].When.(AllOf)
	require.True(t, ok)
	assert.Len(t, composite.Predicates, 2)
}

func TestLoadOverrides_SchemaViolation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing rules array", `{"version": "1"}`},
		{"unknown predicate kind", `{"rules": [{"stage": "Offer", "toSubstage": "offer_sent", "when": {"kind": "field_missing", "field": "x"}}]}`},
		{"missing toSubstage", `{"rules": [{"stage": "Offer", "when": {"kind": "field_present", "field": "x"}}]}`},
		{"extra rule property", `{"rules": [{"stage": "Offer", "toSubstage": "offer_sent", "priority": 1, "when": {"kind": "field_present", "field": "x"}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeOverrideFile(t, tt.content)
			_, err := LoadOverrides(path)
			require.Error(t, err)
			assert.True(t, apperrors.IsFatal(err))
		})
	}
}

func TestLoadOverrides_PredicateMissingField(t *testing.T) {
	path := writeOverrideFile(t, `{
		"rules": [
			{"stage": "Offer", "toSubstage": "offer_sent", "when": {"kind": "field_present"}}
		]
	}`)

	_, err := LoadOverrides(path)
	require.Error(t, err)
}

func TestLoadOverrides_MissingFile(t *testing.T) {
	_, err := LoadOverrides(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestLoadOverrides_MergedRegistryStillValidates(t *testing.T) {
	// An override targeting a substage outside its stage must be caught by
	// registry validation even though the file is schema-valid.
	path := writeOverrideFile(t, `{
		"rules": [
			{"stage": "Offer", "fromSubstage": "offer_sent", "toSubstage": "background_check", "when": {"kind": "field_present", "field": "x"}}
		]
	}`)

	overrides, err := LoadOverrides(path)
	require.NoError(t, err)

	reg, err := NewRegistry(MergeRules(DefaultRules(), overrides))
	require.NoError(t, err)

	err = reg.Validate()
	require.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
}

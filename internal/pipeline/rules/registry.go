// internal/pipeline/rules/registry.go
package rules

import (
	"fmt"
	"sort"

	apperrors "pipeline-engine/internal/common/errors"
	"pipeline-engine/internal/pipeline/catalog"
)

// FromUnset keys the rule that applies when a candidate has no substage yet.
const FromUnset = ""

// Rule maps one (stage, fromSubstage) pair to its advancement condition.
type Rule struct {
	Stage        string
	FromSubstage string // FromUnset when the rule handles the null substage
	ToSubstage   string
	When         Predicate
}

type ruleKey struct {
	stage string
	from  string
}

// Registry holds at most one rule per (stage, fromSubstage) pair.
type Registry struct {
	rules map[ruleKey]Rule
}

// NewRegistry builds a registry from the given rules. Duplicate
// (stage, fromSubstage) keys are rejected.
func NewRegistry(ruleList []Rule) (*Registry, error) {
	r := &Registry{rules: make(map[ruleKey]Rule, len(ruleList))}
	for _, rule := range ruleList {
		key := ruleKey{stage: rule.Stage, from: rule.FromSubstage}
		if _, exists := r.rules[key]; exists {
			return nil, fmt.Errorf("duplicate rule for stage %q from substage %q", rule.Stage, rule.FromSubstage)
		}
		r.rules[key] = rule
	}
	return r, nil
}

// Lookup returns the rule for the pair, if one exists.
func (r *Registry) Lookup(stage, fromSubstage string) (Rule, bool) {
	rule, ok := r.rules[ruleKey{stage: stage, from: fromSubstage}]
	return rule, ok
}

// Validate checks every rule against the stage catalog. Any rule keyed on an
// unknown stage, listing an unknown fromSubstage, or targeting a substage
// outside its stage aborts startup.
func (r *Registry) Validate() error {
	for key, rule := range r.rules {
		if !catalog.IsKnownStage(key.stage) {
			return apperrors.NewUnknownStageError(key.stage)
		}
		if key.from != FromUnset && !catalog.IsValidSubstage(key.stage, key.from) {
			return apperrors.NewRuleValidationFailedError(key.stage, key.from, rule.ToSubstage)
		}
		if !catalog.IsValidSubstage(key.stage, rule.ToSubstage) {
			return apperrors.NewRuleValidationFailedError(key.stage, key.from, rule.ToSubstage)
		}
		if rule.When == nil {
			return fmt.Errorf("rule for stage %q from %q has no predicate", key.stage, key.from)
		}
	}
	return nil
}

// StagesWithRules returns the stages that have at least one rule, sorted.
func (r *Registry) StagesWithRules() []string {
	seen := make(map[string]bool)
	for key := range r.rules {
		seen[key.stage] = true
	}
	stages := make([]string, 0, len(seen))
	for stage := range seen {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	return stages
}

// ColumnsFor returns the deduplicated candidate columns the stage's rules
// read, sorted. Base columns (id, substage, status, timestamps) are implied.
func (r *Registry) ColumnsFor(stage string) []string {
	seen := make(map[string]bool)
	for key, rule := range r.rules {
		if key.stage != stage {
			continue
		}
		for _, col := range rule.When.Columns() {
			seen[col] = true
		}
	}
	cols := make([]string, 0, len(seen))
	for col := range seen {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// NeedsSlotJoin reports whether any of the stage's rules read the joined
// interview slot.
func (r *Registry) NeedsSlotJoin(stage string) bool {
	for _, col := range r.ColumnsFor(stage) {
		if col == "selected_slot_id" {
			return true
		}
	}
	return false
}

// Len returns the number of registered rules.
func (r *Registry) Len() int {
	return len(r.rules)
}

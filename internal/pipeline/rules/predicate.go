// internal/pipeline/rules/predicate.go
package rules

import (
	"fmt"
	"strings"
	"time"

	"pipeline-engine/internal/models"
)

// Predicate decides whether a candidate snapshot satisfies a transition
// condition at the given instant. Predicates are pure: same snapshot and
// clock, same answer.
type Predicate interface {
	Evaluate(c *models.Candidate, now time.Time) bool
	// Columns lists the candidate columns the predicate reads, used for
	// snapshot projection and the startup capability probe.
	Columns() []string
	Describe() string
}

// TimeElapsedSinceField passes once Threshold has elapsed since the field's
// timestamp. When the field is null and Fallback is set, the fallback field's
// timestamp anchors the comparison instead.
type TimeElapsedSinceField struct {
	Field     string
	Threshold time.Duration
	Fallback  string
}

func (p TimeElapsedSinceField) Evaluate(c *models.Candidate, now time.Time) bool {
	anchor, ok := c.FieldTime(p.Field)
	if !ok && p.Fallback != "" {
		anchor, ok = c.FieldTime(p.Fallback)
	}
	if !ok {
		return false
	}
	return now.Sub(anchor) >= p.Threshold
}

func (p TimeElapsedSinceField) Columns() []string {
	if p.Fallback != "" && p.Fallback != p.Field {
		return []string{p.Field, p.Fallback}
	}
	return []string{p.Field}
}

func (p TimeElapsedSinceField) Describe() string {
	return fmt.Sprintf("%s elapsed since %s", p.Threshold, p.Field)
}

// TimeElapsedSinceStageEntry passes once Threshold has elapsed since the
// candidate entered the current stage. Stage entry is the latest history
// entry into the stage, falling back to created_at.
type TimeElapsedSinceStageEntry struct {
	Threshold time.Duration
}

func (p TimeElapsedSinceStageEntry) Evaluate(c *models.Candidate, now time.Time) bool {
	if c.StageEntryAt.IsZero() {
		return false
	}
	return now.Sub(c.StageEntryAt) >= p.Threshold
}

func (p TimeElapsedSinceStageEntry) Columns() []string { return nil }

func (p TimeElapsedSinceStageEntry) Describe() string {
	return fmt.Sprintf("%s elapsed since stage entry", p.Threshold)
}

// FieldPresent passes when the field is non-null and non-empty.
type FieldPresent struct {
	Field string
}

func (p FieldPresent) Evaluate(c *models.Candidate, _ time.Time) bool {
	return c.FieldPresent(p.Field)
}

func (p FieldPresent) Columns() []string { return []string{p.Field} }

func (p FieldPresent) Describe() string {
	return fmt.Sprintf("%s is set", p.Field)
}

// FieldAbsent passes when the field is null or empty.
type FieldAbsent struct {
	Field string
}

func (p FieldAbsent) Evaluate(c *models.Candidate, _ time.Time) bool {
	return !c.FieldPresent(p.Field)
}

func (p FieldAbsent) Columns() []string { return []string{p.Field} }

func (p FieldAbsent) Describe() string {
	return fmt.Sprintf("%s is not set", p.Field)
}

// FieldEquals passes when the field's string value equals Value exactly.
type FieldEquals struct {
	Field string
	Value string
}

func (p FieldEquals) Evaluate(c *models.Candidate, _ time.Time) bool {
	s, ok := c.FieldString(p.Field)
	return ok && s == p.Value
}

func (p FieldEquals) Columns() []string { return []string{p.Field} }

func (p FieldEquals) Describe() string {
	return fmt.Sprintf("%s == %q", p.Field, p.Value)
}

// AnyFieldPresent passes when at least one of the fields is set.
type AnyFieldPresent struct {
	Fields []string
}

func (p AnyFieldPresent) Evaluate(c *models.Candidate, _ time.Time) bool {
	for _, f := range p.Fields {
		if c.FieldPresent(f) {
			return true
		}
	}
	return false
}

func (p AnyFieldPresent) Columns() []string { return p.Fields }

func (p AnyFieldPresent) Describe() string {
	return fmt.Sprintf("any of %s is set", strings.Join(p.Fields, ", "))
}

// JoinedWindow passes when the clock is inside the candidate's joined
// interview slot: start <= now < end.
type JoinedWindow struct{}

func (p JoinedWindow) Evaluate(c *models.Candidate, now time.Time) bool {
	if c.Slot == nil {
		return false
	}
	return !now.Before(c.Slot.StartTime) && now.Before(c.Slot.EndTime)
}

func (p JoinedWindow) Columns() []string { return []string{"selected_slot_id"} }

func (p JoinedWindow) Describe() string {
	return "now is inside the scheduled interview slot"
}

// TimeWindowAroundField passes when the clock is within [field - Lead,
// field + Lag] of the field's timestamp.
type TimeWindowAroundField struct {
	Field string
	Lead  time.Duration
	Lag   time.Duration
}

func (p TimeWindowAroundField) Evaluate(c *models.Candidate, now time.Time) bool {
	anchor, ok := c.FieldTime(p.Field)
	if !ok {
		return false
	}
	return !now.Before(anchor.Add(-p.Lead)) && !now.After(anchor.Add(p.Lag))
}

func (p TimeWindowAroundField) Columns() []string { return []string{p.Field} }

func (p TimeWindowAroundField) Describe() string {
	return fmt.Sprintf("now within [-%s, +%s] of %s", p.Lead, p.Lag, p.Field)
}

// AllOf passes when every inner predicate passes.
type AllOf struct {
	Predicates []Predicate
}

func (p AllOf) Evaluate(c *models.Candidate, now time.Time) bool {
	for _, inner := range p.Predicates {
		if !inner.Evaluate(c, now) {
			return false
		}
	}
	return true
}

func (p AllOf) Columns() []string {
	var cols []string
	for _, inner := range p.Predicates {
		cols = append(cols, inner.Columns()...)
	}
	return cols
}

func (p AllOf) Describe() string {
	parts := make([]string, len(p.Predicates))
	for i, inner := range p.Predicates {
		parts[i] = inner.Describe()
	}
	return strings.Join(parts, " and ")
}

// internal/models/candidate.go
package models

import "time"

// InterviewSlot is the scheduled window attached to a candidate, when one exists.
type InterviewSlot struct {
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

// Candidate is a point-in-time snapshot of one candidacy row, projected
// down to the columns the current stage's rules evaluate.
type Candidate struct {
	ID           string                 `json:"id"`
	Stage        string                 `json:"stage"`
	Substage     *string                `json:"substage"` // nil means the stage's first substage applies
	Status       string                 `json:"status"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
	StageEntryAt time.Time              `json:"stageEntryAt"`
	Fields       map[string]interface{} `json:"fields,omitempty"`
	Slot         *InterviewSlot         `json:"slot,omitempty"`
}

// CurrentSubstage returns the snapshot substage, or the given fallback when unset.
func (c *Candidate) CurrentSubstage(fallback string) string {
	if c.Substage != nil && *c.Substage != "" {
		return *c.Substage
	}
	return fallback
}

// HasSubstage reports whether the snapshot carries an explicit substage.
func (c *Candidate) HasSubstage() bool {
	return c.Substage != nil && *c.Substage != ""
}

// Field returns a projected field value and whether it was selected.
// The base timestamp columns resolve from the snapshot itself.
func (c *Candidate) Field(name string) (interface{}, bool) {
	switch name {
	case "updated_at":
		return c.UpdatedAt, true
	case "created_at":
		return c.CreatedAt, true
	}
	if c.Fields == nil {
		return nil, false
	}
	v, ok := c.Fields[name]
	return v, ok
}

// FieldTime returns a projected field as a timestamp, if it is one and non-null.
func (c *Candidate) FieldTime(name string) (time.Time, bool) {
	v, ok := c.Field(name)
	if !ok || v == nil {
		return time.Time{}, false
	}
	t, ok := v.(time.Time)
	if !ok || t.IsZero() {
		return time.Time{}, false
	}
	return t, true
}

// FieldString returns a projected field as a string, if it is one and non-empty.
func (c *Candidate) FieldString(name string) (string, bool) {
	v, ok := c.Field(name)
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// FieldPresent reports whether a projected field is non-null and non-empty.
func (c *Candidate) FieldPresent(name string) bool {
	v, ok := c.Field(name)
	if !ok || v == nil {
		return false
	}
	switch val := v.(type) {
	case string:
		return val != ""
	case time.Time:
		return !val.IsZero()
	default:
		return true
	}
}

// StaleCandidate is one entry in the stale-substage report.
type StaleCandidate struct {
	ID        string    `json:"id"`
	Stage     string    `json:"stage"`
	Substage  string    `json:"substage"`
	UpdatedAt time.Time `json:"updatedAt"`
}

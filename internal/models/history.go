// internal/models/history.go
package models

import "time"

// StageHistoryEntry is one audit record in candidate_stage_history.
// Substage-only advancement records PreviousStage == NewStage with a note
// naming both substages; ChangedBy is nil for system-applied transitions.
type StageHistoryEntry struct {
	ID            string    `json:"id"`
	CandidateID   string    `json:"candidateId"`
	PreviousStage string    `json:"previousStage"`
	NewStage      string    `json:"newStage"`
	ChangedBy     *string   `json:"changedBy"`
	Notes         string    `json:"notes"`
	ChangedAt     time.Time `json:"changedAt"`
}

// SubstageNote builds the audit note for a substage-only advance.
func SubstageNote(fromSubstage *string, toSubstage string) string {
	from := "(none)"
	if fromSubstage != nil && *fromSubstage != "" {
		from = *fromSubstage
	}
	return "Auto-progressed substage: " + from + " -> " + toSubstage
}

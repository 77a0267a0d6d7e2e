// internal/models/run.go
package models

import "time"

// Transition is one decided substage advance, ready to be applied.
type Transition struct {
	CandidateID  string  `json:"candidateId"`
	Stage        string  `json:"stage"`
	FromSubstage *string `json:"fromSubstage"`
	ToSubstage   string  `json:"toSubstage"`
	Reason       string  `json:"reason"`
}

// StageResult summarizes one stage's share of a reconciliation run.
type StageResult struct {
	Stage       string `json:"stage"`
	Evaluated   int    `json:"evaluated"`
	Transitions int    `json:"transitions"`
	Conflicts   int    `json:"conflicts"`
	Skipped     bool   `json:"skipped"` // stage disabled or errored
	Error       string `json:"error,omitempty"`
}

// RunResult summarizes one full reconciliation run.
type RunResult struct {
	RunID           string                 `json:"runId"`
	StartedAt       time.Time              `json:"startedAt"`
	Duration        time.Duration          `json:"duration"`
	PerStage        map[string]StageResult `json:"perStage"`
	Total           int                    `json:"total"`
	SkippedStages   []string               `json:"skippedStages,omitempty"`
	StaleCandidates []StaleCandidate       `json:"staleCandidates,omitempty"`
}

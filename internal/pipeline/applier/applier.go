// internal/pipeline/applier/applier.go
package applier

import (
	"context"
	"database/sql"
	"time"

	"pipeline-engine/internal/common/database"
	apperrors "pipeline-engine/internal/common/errors"
	"pipeline-engine/internal/common/logger"
	"pipeline-engine/internal/models"
	"pipeline-engine/internal/pipeline/audit"

	"github.com/google/uuid"
)

// Outcome classifies the result of applying one transition. Conflicts and
// vanished candidates are benign skips, not errors: the next run re-evaluates
// from fresh state.
type Outcome int

const (
	OutcomeError Outcome = iota
	OutcomeApplied
	OutcomeAlreadyAtTarget
	OutcomeConflict
	OutcomeNotFound
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeAlreadyAtTarget:
		return "already-at-target"
	case OutcomeConflict:
		return "conflict"
	case OutcomeNotFound:
		return "not-found"
	default:
		return "error"
	}
}

// Applier writes decided transitions. The substage update is conditional on
// the snapshot's substage still being current, so a decision computed from a
// stale read degrades to a skip instead of a lost or duplicated write.
type Applier struct {
	db    *database.PostgresClient
	trail *audit.Trail
	log   logger.Logger
	clock func() time.Time
}

func New(db *database.PostgresClient, trail *audit.Trail, log logger.Logger) *Applier {
	return &Applier{db: db, trail: trail, log: log, clock: time.Now}
}

// WithClock overrides the applier's clock. Tests only.
func (a *Applier) WithClock(clock func() time.Time) *Applier {
	a.clock = clock
	return a
}

// Apply performs the compare-and-set substage update and the audit insert in
// one transaction. An already-at-target candidate is an idempotent success
// and writes no new audit entry.
func (a *Applier) Apply(ctx context.Context, t models.Transition) (Outcome, error) {
	expected := sql.NullString{}
	if t.FromSubstage != nil && *t.FromSubstage != "" {
		expected = sql.NullString{String: *t.FromSubstage, Valid: true}
	}

	tx, err := a.db.BeginTx(ctx)
	if err != nil {
		return OutcomeError, apperrors.NewTransactionFailedError(t.CandidateID, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE candidates
		 SET candidate_substage = $1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = $2
		 AND current_stage = $3
		 AND candidate_substage IS NOT DISTINCT FROM $4
		 AND status = 'active'`,
		t.ToSubstage, t.CandidateID, t.Stage, expected)
	if err != nil {
		return OutcomeError, apperrors.NewTransactionFailedError(t.CandidateID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return OutcomeError, apperrors.NewTransactionFailedError(t.CandidateID, err)
	}

	if affected == 0 {
		return a.classifyMiss(ctx, t)
	}

	entry := &models.StageHistoryEntry{
		ID:            uuid.NewString(),
		CandidateID:   t.CandidateID,
		PreviousStage: t.Stage,
		NewStage:      t.Stage,
		ChangedBy:     nil, // system transition
		Notes:         transitionNotes(t),
		ChangedAt:     a.clock().UTC(),
	}
	if err := a.trail.Record(ctx, tx, entry); err != nil {
		return OutcomeError, err
	}

	if err := tx.Commit(); err != nil {
		return OutcomeError, apperrors.NewTransactionFailedError(t.CandidateID, err)
	}

	a.log.Info("Substage advanced", map[string]interface{}{
		"candidateId": t.CandidateID,
		"stage":       t.Stage,
		"toSubstage":  t.ToSubstage,
	})

	a.trail.Mirror(ctx, entry)

	return OutcomeApplied, nil
}

// classifyMiss decides why the conditional update matched nothing.
func (a *Applier) classifyMiss(ctx context.Context, t models.Transition) (Outcome, error) {
	var (
		current sql.NullString
		status  string
	)
	err := a.db.QueryRow(ctx,
		`SELECT candidate_substage, status FROM candidates WHERE id = $1`,
		t.CandidateID).Scan(&current, &status)
	if err == sql.ErrNoRows {
		a.log.Warn("Transition dropped: candidate no longer exists", map[string]interface{}{
			"candidateId": t.CandidateID,
			"stage":       t.Stage,
		})
		return OutcomeNotFound, nil
	}
	if err != nil {
		return OutcomeError, apperrors.NewTransactionFailedError(t.CandidateID, err)
	}

	if status == "active" && current.Valid && current.String == t.ToSubstage {
		return OutcomeAlreadyAtTarget, nil
	}

	expected := "(none)"
	if t.FromSubstage != nil && *t.FromSubstage != "" {
		expected = *t.FromSubstage
	}
	a.log.Debug("Transition skipped: substage moved since snapshot", map[string]interface{}{
		"candidateId": t.CandidateID,
		"stage":       t.Stage,
		"expected":    expected,
	})
	return OutcomeConflict, nil
}

func transitionNotes(t models.Transition) string {
	notes := models.SubstageNote(t.FromSubstage, t.ToSubstage)
	if t.Reason != "" {
		notes += " (rule: " + t.Reason + ")"
	}
	return notes
}

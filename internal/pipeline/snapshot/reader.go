// internal/pipeline/snapshot/reader.go
package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"pipeline-engine/internal/common/database"
	apperrors "pipeline-engine/internal/common/errors"
	"pipeline-engine/internal/common/logger"
	"pipeline-engine/internal/models"
	"pipeline-engine/internal/pipeline/rules"
)

// baseColumns always exist on the candidates table and are never part of a
// stage's capability requirements.
var baseColumns = map[string]bool{
	"id":                 true,
	"current_stage":      true,
	"candidate_substage": true,
	"status":             true,
	"created_at":         true,
	"updated_at":         true,
}

// Reader loads per-stage candidate snapshots, projected down to the columns
// the stage's rules actually read.
type Reader struct {
	db       *database.PostgresClient
	registry *rules.Registry
	log      logger.Logger

	// stage -> columns missing from the schema; populated by ProbeCapabilities
	disabled map[string][]string
}

func NewReader(db *database.PostgresClient, registry *rules.Registry, log logger.Logger) *Reader {
	return &Reader{
		db:       db,
		registry: registry,
		log:      log,
		disabled: make(map[string][]string),
	}
}

// ProbeCapabilities checks the candidates table schema once at startup and
// disables any stage whose rule columns are missing. A disabled stage is
// skipped on every run instead of failing it.
func (r *Reader) ProbeCapabilities(ctx context.Context) error {
	rows, err := r.db.Query(ctx,
		`SELECT column_name FROM information_schema.columns WHERE table_name = 'candidates'`)
	if err != nil {
		return apperrors.NewDatabaseConnectionFailedError(err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return apperrors.NewDatabaseConnectionFailedError(err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return apperrors.NewDatabaseConnectionFailedError(err)
	}

	for _, stage := range r.registry.StagesWithRules() {
		var missing []string
		for _, col := range r.registry.ColumnsFor(stage) {
			if baseColumns[col] {
				continue
			}
			if !present[col] {
				missing = append(missing, col)
			}
		}
		if len(missing) > 0 {
			r.disabled[stage] = missing
			r.log.Warn("Stage disabled: schema is missing rule columns", map[string]interface{}{
				"stage":          stage,
				"missingColumns": strings.Join(missing, ", "),
			})
		}
	}

	return nil
}

// StageEnabled reports whether the stage survived the capability probe.
func (r *Reader) StageEnabled(stage string) bool {
	_, disabled := r.disabled[stage]
	return !disabled
}

// DisabledStages returns the stages the capability probe turned off, with
// the columns each is missing.
func (r *Reader) DisabledStages() map[string][]string {
	out := make(map[string][]string, len(r.disabled))
	for stage, cols := range r.disabled {
		out[stage] = append([]string(nil), cols...)
	}
	return out
}

// CandidatesFor returns active candidates in the stage, with the stage's rule
// columns projected and stage entry time resolved from the history trail.
func (r *Reader) CandidatesFor(ctx context.Context, stage string) ([]*models.Candidate, error) {
	if !r.StageEnabled(stage) {
		return nil, apperrors.NewMissingColumnsError(stage, r.disabled[stage])
	}

	extraCols := make([]string, 0)
	for _, col := range r.registry.ColumnsFor(stage) {
		if !baseColumns[col] {
			extraCols = append(extraCols, col)
		}
	}
	withSlot := r.registry.NeedsSlotJoin(stage)

	query := buildStageQuery(extraCols, withSlot)

	rows, err := r.db.Query(ctx, query, stage)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, apperrors.NewQueryTimeoutError(stage)
		}
		return nil, apperrors.NewQueryExecutionFailedError(stage, err)
	}
	defer rows.Close()

	var candidates []*models.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows, stage, extraCols, withSlot)
		if err != nil {
			return nil, apperrors.NewQueryExecutionFailedError(stage, err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewQueryExecutionFailedError(stage, err)
	}

	return candidates, nil
}

func buildStageQuery(extraCols []string, withSlot bool) string {
	var b strings.Builder

	b.WriteString(`SELECT c.id, c.candidate_substage, c.status, c.created_at, c.updated_at,
       COALESCE(
         (SELECT changed_at FROM candidate_stage_history
          WHERE candidate_id = c.id AND new_stage = $1
          ORDER BY changed_at DESC LIMIT 1),
         c.created_at
       ) AS stage_entry_time`)

	for _, col := range extraCols {
		fmt.Fprintf(&b, ", c.%s", col)
	}
	if withSlot {
		b.WriteString(", s.start_time, s.end_time")
	}

	b.WriteString("\nFROM candidates c")
	if withSlot {
		b.WriteString("\nLEFT JOIN interview_slots s ON c.selected_slot_id = s.id")
	}
	b.WriteString("\nWHERE c.current_stage = $1 AND c.status = 'active'")

	return b.String()
}

func scanCandidate(rows *sql.Rows, stage string, extraCols []string, withSlot bool) (*models.Candidate, error) {
	var (
		id         string
		substage   sql.NullString
		status     string
		createdAt  time.Time
		updatedAt  time.Time
		stageEntry time.Time
	)

	dest := []interface{}{&id, &substage, &status, &createdAt, &updatedAt, &stageEntry}

	extraVals := make([]interface{}, len(extraCols))
	for i := range extraVals {
		dest = append(dest, &extraVals[i])
	}

	var slotStart, slotEnd sql.NullTime
	if withSlot {
		dest = append(dest, &slotStart, &slotEnd)
	}

	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}

	c := &models.Candidate{
		ID:           id,
		Stage:        stage,
		Status:       status,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
		StageEntryAt: stageEntry,
		Fields:       make(map[string]interface{}, len(extraCols)),
	}
	if substage.Valid && substage.String != "" {
		s := substage.String
		c.Substage = &s
	}

	for i, col := range extraCols {
		c.Fields[col] = normalizeValue(extraVals[i])
	}

	if withSlot && slotStart.Valid && slotEnd.Valid {
		c.Slot = &models.InterviewSlot{StartTime: slotStart.Time, EndTime: slotEnd.Time}
	}

	return c, nil
}

// normalizeValue maps driver values onto the types the predicates understand.
func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case []byte:
		return string(val)
	default:
		return v
	}
}

// StaleCandidates returns active candidates whose substage has not moved in
// more than thresholdDays. Report-only: nothing is changed.
func (r *Reader) StaleCandidates(ctx context.Context, thresholdDays, limit int) ([]models.StaleCandidate, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, current_stage, candidate_substage, updated_at
		 FROM candidates
		 WHERE updated_at < CURRENT_TIMESTAMP - make_interval(days => $1)
		 AND candidate_substage IS NOT NULL
		 AND status = 'active'
		 ORDER BY updated_at ASC
		 LIMIT $2`,
		thresholdDays, limit)
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("stale-report", err)
	}
	defer rows.Close()

	var stale []models.StaleCandidate
	for rows.Next() {
		var s models.StaleCandidate
		if err := rows.Scan(&s.ID, &s.Stage, &s.Substage, &s.UpdatedAt); err != nil {
			return nil, apperrors.NewQueryExecutionFailedError("stale-report", err)
		}
		stale = append(stale, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("stale-report", err)
	}

	return stale, nil
}

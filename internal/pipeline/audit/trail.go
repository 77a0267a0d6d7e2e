// internal/pipeline/audit/trail.go
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"pipeline-engine/internal/common/database"
	apperrors "pipeline-engine/internal/common/errors"
	"pipeline-engine/internal/common/logger"
	"pipeline-engine/internal/models"
)

// Trail appends substage transition records to candidate_stage_history and,
// when a mirror is configured, indexes each record into Elasticsearch for the
// reporting layer. The history insert is authoritative; the mirror is
// best-effort and never fails a transition.
type Trail struct {
	es    *database.ElasticsearchClient // nil disables the mirror
	index string
	log   logger.Logger
}

func NewTrail(es *database.ElasticsearchClient, index string, log logger.Logger) *Trail {
	return &Trail{es: es, index: index, log: log}
}

// Record inserts the history entry inside the caller's transaction so the
// audit row commits or rolls back together with the substage update.
func (t *Trail) Record(ctx context.Context, tx *sql.Tx, entry *models.StageHistoryEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO candidate_stage_history
		 (id, candidate_id, previous_stage, new_stage, changed_by, notes, changed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.CandidateID, entry.PreviousStage, entry.NewStage,
		entry.ChangedBy, entry.Notes, entry.ChangedAt)
	if err != nil {
		return apperrors.NewHistoryInsertFailedError(entry.CandidateID, err)
	}
	return nil
}

// Mirror indexes the committed entry into Elasticsearch. Failures are logged
// and swallowed.
func (t *Trail) Mirror(ctx context.Context, entry *models.StageHistoryEntry) {
	if t.es == nil {
		return
	}

	body, err := json.Marshal(entry)
	if err != nil {
		t.log.Warn("Failed to encode audit entry for mirror", map[string]interface{}{
			"entryId": entry.ID,
			"error":   err.Error(),
		})
		return
	}

	res, err := t.es.Client.Index(
		t.index,
		strings.NewReader(string(body)),
		t.es.Client.Index.WithDocumentID(entry.ID),
		t.es.Client.Index.WithContext(ctx),
	)
	if err != nil {
		t.log.Warn("Audit mirror index failed", map[string]interface{}{
			"entryId": entry.ID,
			"error":   err.Error(),
		})
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		t.log.Warn("Audit mirror index rejected", map[string]interface{}{
			"entryId": entry.ID,
			"status":  res.Status(),
		})
	}
}

// MirrorEnabled reports whether entries are being mirrored.
func (t *Trail) MirrorEnabled() bool {
	return t.es != nil
}

// internal/pipeline/recorder/recorder.go
package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"pipeline-engine/internal/common/database"
	apperrors "pipeline-engine/internal/common/errors"
	"pipeline-engine/internal/common/logger"
	"pipeline-engine/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	latestRunKey = "reconciler:runs:latest"
	runLockKey   = "reconciler:run-lock"
)

// Recorder publishes run results to Redis so operators and the trigger
// surface can read the last outcome without touching Postgres. It also holds
// the advisory run-overlap lock. Both are best-effort: the engine stays
// correct without Redis, through the applier's conditional writes.
type Recorder struct {
	redis   *database.RedisClient
	resTTL  time.Duration
	lockTTL time.Duration
	log     logger.Logger
}

func New(redis *database.RedisClient, resultTTL, lockTTL time.Duration, log logger.Logger) *Recorder {
	return &Recorder{redis: redis, resTTL: resultTTL, lockTTL: lockTTL, log: log}
}

// RecordRun stores the run result as the latest. Failures are reported but
// never fail the run.
func (r *Recorder) RecordRun(ctx context.Context, result *models.RunResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return apperrors.NewRunRecordFailedError(err)
	}
	if err := r.redis.Set(ctx, latestRunKey, payload, r.resTTL); err != nil {
		return apperrors.NewRunRecordFailedError(err)
	}
	return nil
}

// LatestRun returns the most recent recorded run, or nil when none is stored.
func (r *Recorder) LatestRun(ctx context.Context) (*models.RunResult, error) {
	raw, err := r.redis.Get(ctx, latestRunKey)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, apperrors.NewRunRecordFailedError(err)
	}

	var result models.RunResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, apperrors.NewRunRecordFailedError(err)
	}
	return &result, nil
}

// TryLock takes the advisory overlap guard. A false return means another run
// appears to be in flight. Redis being down yields true: the guard is
// advisory and must not block reconciliation.
func (r *Recorder) TryLock(ctx context.Context, runID string) bool {
	ok, err := r.redis.SetNX(ctx, runLockKey, runID, r.lockTTL)
	if err != nil {
		r.log.Warn("Run lock unavailable, proceeding without overlap guard", map[string]interface{}{
			"error": err.Error(),
		})
		return true
	}
	return ok
}

// Unlock releases the advisory guard.
func (r *Recorder) Unlock(ctx context.Context) {
	if err := r.redis.Del(ctx, runLockKey); err != nil {
		r.log.Warn("Failed to release run lock; it will expire on its own", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

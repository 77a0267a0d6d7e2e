// internal/pipeline/recorder/recorder_test.go
package recorder

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"pipeline-engine/internal/common/database"
	"pipeline-engine/internal/common/logger"
	"pipeline-engine/internal/models"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRecorder(t *testing.T) (*Recorder, redismock.ClientMock) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	rec := New(&database.RedisClient{Client: client}, time.Hour, 4*time.Minute, logger.NewNoOpLogger())
	return rec, mock
}

func sampleResult() *models.RunResult {
	return &models.RunResult{
		RunID:     "run-1",
		StartedAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		Duration:  1500 * time.Millisecond,
		PerStage: map[string]models.StageResult{
			"Offer": {Stage: "Offer", Evaluated: 3, Transitions: 1},
		},
		Total: 1,
	}
}

func TestRecordRun(t *testing.T) {
	rec, mock := setupRecorder(t)
	result := sampleResult()

	payload, err := json.Marshal(result)
	require.NoError(t, err)

	mock.ExpectSet(latestRunKey, payload, time.Hour).SetVal("OK")

	require.NoError(t, rec.RecordRun(context.Background(), result))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRun_RedisDown(t *testing.T) {
	rec, mock := setupRecorder(t)
	result := sampleResult()

	payload, _ := json.Marshal(result)
	mock.ExpectSet(latestRunKey, payload, time.Hour).SetErr(assert.AnError)

	err := rec.RecordRun(context.Background(), result)
	assert.Error(t, err)
}

func TestLatestRun(t *testing.T) {
	rec, mock := setupRecorder(t)
	result := sampleResult()

	payload, _ := json.Marshal(result)
	mock.ExpectGet(latestRunKey).SetVal(string(payload))

	got, err := rec.LatestRun(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, 1, got.Total)
	assert.Equal(t, 3, got.PerStage["Offer"].Evaluated)
}

func TestLatestRun_NoneRecorded(t *testing.T) {
	rec, mock := setupRecorder(t)

	mock.ExpectGet(latestRunKey).RedisNil()

	got, err := rec.LatestRun(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTryLock(t *testing.T) {
	rec, mock := setupRecorder(t)

	mock.ExpectSetNX(runLockKey, "run-1", 4*time.Minute).SetVal(true)
	assert.True(t, rec.TryLock(context.Background(), "run-1"))

	mock.ExpectSetNX(runLockKey, "run-2", 4*time.Minute).SetVal(false)
	assert.False(t, rec.TryLock(context.Background(), "run-2"))
}

func TestTryLock_RedisDownProceeds(t *testing.T) {
	rec, mock := setupRecorder(t)

	mock.ExpectSetNX(runLockKey, "run-3", 4*time.Minute).SetErr(assert.AnError)
	assert.True(t, rec.TryLock(context.Background(), "run-3"))
}

func TestUnlock(t *testing.T) {
	rec, mock := setupRecorder(t)

	mock.ExpectDel(runLockKey).SetVal(1)
	rec.Unlock(context.Background())
	assert.NoError(t, mock.ExpectationsWereMet())
}

// internal/pipeline/engine/engine_test.go
package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"pipeline-engine/internal/common/logger"
	"pipeline-engine/internal/models"
	"pipeline-engine/internal/pipeline/applier"
	"pipeline-engine/internal/pipeline/catalog"
	"pipeline-engine/internal/pipeline/rules"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Fakes
// ==========================

type fakeReader struct {
	mu         sync.Mutex
	candidates map[string][]*models.Candidate
	disabled   map[string]bool
	failStages map[string]error
	stale      []models.StaleCandidate
	staleErr   error
	panicStage string
}

func (f *fakeReader) StageEnabled(stage string) bool {
	return !f.disabled[stage]
}

func (f *fakeReader) CandidatesFor(_ context.Context, stage string) ([]*models.Candidate, error) {
	if stage == f.panicStage {
		panic("boom")
	}
	if err, ok := f.failStages[stage]; ok {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.candidates[stage], nil
}

func (f *fakeReader) StaleCandidates(_ context.Context, _, _ int) ([]models.StaleCandidate, error) {
	return f.stale, f.staleErr
}

type fakeApplier struct {
	mu       sync.Mutex
	applied  []models.Transition
	outcomes map[string]applier.Outcome // candidateID -> outcome
	errs     map[string]error
}

func (f *fakeApplier) Apply(_ context.Context, t models.Transition) (applier.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[t.CandidateID]; ok {
		return applier.OutcomeError, err
	}
	f.applied = append(f.applied, t)
	if o, ok := f.outcomes[t.CandidateID]; ok {
		return o, nil
	}
	return applier.OutcomeApplied, nil
}

func (f *fakeApplier) transitionsFor(candidateID string) []models.Transition {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Transition
	for _, t := range f.applied {
		if t.CandidateID == candidateID {
			out = append(out, t)
		}
	}
	return out
}

type fakeRecorder struct {
	mu       sync.Mutex
	recorded []*models.RunResult
	locked   bool
	denyLock bool
}

func (f *fakeRecorder) RecordRun(_ context.Context, r *models.RunResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, r)
	return nil
}

func (f *fakeRecorder) TryLock(_ context.Context, _ string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denyLock {
		return false
	}
	f.locked = true
	return true
}

func (f *fakeRecorder) Unlock(_ context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked = false
}

// ==========================
// Test Helper Functions
// ==========================

var engineNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func newTestEngine(t *testing.T, reader *fakeReader, app *fakeApplier, rec RunRecorder) *Engine {
	t.Helper()
	reg, err := rules.NewRegistry(rules.DefaultRules())
	require.NoError(t, err)
	require.NoError(t, reg.Validate())

	if reader.candidates == nil {
		reader.candidates = map[string][]*models.Candidate{}
	}
	if reader.disabled == nil {
		reader.disabled = map[string]bool{}
	}

	return New(reg, reader, app, rec, nil, logger.NewNoOpLogger(), Options{}).
		WithClock(func() time.Time { return engineNow })
}

func screeningCandidate(id string, substage *string, updatedAgo, entryAgo time.Duration, fields map[string]interface{}) *models.Candidate {
	return &models.Candidate{
		ID:           id,
		Stage:        catalog.StageScreening,
		Substage:     substage,
		Status:       "active",
		CreatedAt:    engineNow.Add(-30 * 24 * time.Hour),
		UpdatedAt:    engineNow.Add(-updatedAgo),
		StageEntryAt: engineNow.Add(-entryAgo),
		Fields:       fields,
	}
}

// ==========================
// RunOnce Tests
// ==========================

func TestRunOnce_AppliesDueTransitions(t *testing.T) {
	reader := &fakeReader{
		candidates: map[string][]*models.Candidate{
			catalog.StageScreening: {
				// Null substage with a resume: advance to resume_review
				screeningCandidate("cand-null", nil, time.Hour, time.Hour,
					map[string]interface{}{"resume_url": "https://cdn/r.pdf"}),
				// resume_review updated 25h ago: advance to initial_assessment
				screeningCandidate("cand-due", strPtr("resume_review"), 25*time.Hour, 48*time.Hour, nil),
				// resume_review updated 1h ago: not due
				screeningCandidate("cand-fresh", strPtr("resume_review"), time.Hour, 48*time.Hour, nil),
				// Terminal substage: no rule
				screeningCandidate("cand-done", strPtr("phone_screen_completed"), 100*time.Hour, 200*time.Hour, nil),
			},
		},
	}
	app := &fakeApplier{}
	eng := newTestEngine(t, reader, app, nil)

	result, err := eng.RunOnce(context.Background())
	require.NoError(t, err)

	sr := result.PerStage[catalog.StageScreening]
	assert.Equal(t, 4, sr.Evaluated)
	assert.Equal(t, 2, sr.Transitions)
	assert.Equal(t, 2, result.Total)

	nullTransitions := app.transitionsFor("cand-null")
	require.Len(t, nullTransitions, 1)
	assert.Equal(t, "resume_review", nullTransitions[0].ToSubstage)
	assert.Nil(t, nullTransitions[0].FromSubstage)

	dueTransitions := app.transitionsFor("cand-due")
	require.Len(t, dueTransitions, 1)
	assert.Equal(t, "initial_assessment", dueTransitions[0].ToSubstage)

	assert.Empty(t, app.transitionsFor("cand-fresh"))
	assert.Empty(t, app.transitionsFor("cand-done"))
}

func TestRunOnce_EveryStageReported(t *testing.T) {
	reader := &fakeReader{}
	eng := newTestEngine(t, reader, &fakeApplier{}, nil)

	result, err := eng.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Len(t, result.PerStage, len(catalog.Stages))
	for _, stage := range catalog.Stages {
		sr, ok := result.PerStage[stage]
		require.True(t, ok, "stage %s missing from result", stage)
		assert.False(t, sr.Skipped)
	}
}

func TestRunOnce_StageFailureIsIsolated(t *testing.T) {
	reader := &fakeReader{
		candidates: map[string][]*models.Candidate{
			catalog.StageScreening: {
				screeningCandidate("cand-1", strPtr("resume_review"), 25*time.Hour, 48*time.Hour, nil),
			},
		},
		failStages: map[string]error{
			catalog.StageOffer: assert.AnError,
		},
	}
	app := &fakeApplier{}
	eng := newTestEngine(t, reader, app, nil)

	result, err := eng.RunOnce(context.Background())
	require.NoError(t, err)

	assert.True(t, result.PerStage[catalog.StageOffer].Skipped)
	assert.Contains(t, result.SkippedStages, catalog.StageOffer)
	// Other stages still ran
	assert.Equal(t, 1, result.PerStage[catalog.StageScreening].Transitions)
}

func TestRunOnce_StagePanicIsContained(t *testing.T) {
	reader := &fakeReader{
		candidates: map[string][]*models.Candidate{
			catalog.StageScreening: {
				screeningCandidate("cand-1", strPtr("resume_review"), 25*time.Hour, 48*time.Hour, nil),
			},
		},
		panicStage: catalog.StageAIInterview,
	}
	eng := newTestEngine(t, reader, &fakeApplier{}, nil)

	result, err := eng.RunOnce(context.Background())
	require.NoError(t, err)

	assert.True(t, result.PerStage[catalog.StageAIInterview].Skipped)
	assert.Equal(t, 1, result.PerStage[catalog.StageScreening].Transitions)
}

func TestRunOnce_DisabledStageSkipped(t *testing.T) {
	reader := &fakeReader{
		disabled: map[string]bool{catalog.StageTechnicalAssessment: true},
	}
	eng := newTestEngine(t, reader, &fakeApplier{}, nil)

	result, err := eng.RunOnce(context.Background())
	require.NoError(t, err)

	sr := result.PerStage[catalog.StageTechnicalAssessment]
	assert.True(t, sr.Skipped)
	assert.Equal(t, 0, sr.Evaluated)
}

func TestRunOnce_PerCandidateIsolation(t *testing.T) {
	reader := &fakeReader{
		candidates: map[string][]*models.Candidate{
			catalog.StageScreening: {
				screeningCandidate("cand-fail", strPtr("resume_review"), 25*time.Hour, 48*time.Hour, nil),
				screeningCandidate("cand-ok", strPtr("resume_review"), 26*time.Hour, 48*time.Hour, nil),
			},
		},
	}
	app := &fakeApplier{errs: map[string]error{"cand-fail": assert.AnError}}
	eng := newTestEngine(t, reader, app, nil)

	result, err := eng.RunOnce(context.Background())
	require.NoError(t, err)

	sr := result.PerStage[catalog.StageScreening]
	assert.Equal(t, 2, sr.Evaluated)
	assert.Equal(t, 1, sr.Transitions)
	require.Len(t, app.transitionsFor("cand-ok"), 1)
}

func TestRunOnce_ConflictsCountedNotApplied(t *testing.T) {
	reader := &fakeReader{
		candidates: map[string][]*models.Candidate{
			catalog.StageScreening: {
				screeningCandidate("cand-conflict", strPtr("resume_review"), 25*time.Hour, 48*time.Hour, nil),
			},
		},
	}
	app := &fakeApplier{outcomes: map[string]applier.Outcome{"cand-conflict": applier.OutcomeConflict}}
	eng := newTestEngine(t, reader, app, nil)

	result, err := eng.RunOnce(context.Background())
	require.NoError(t, err)

	sr := result.PerStage[catalog.StageScreening]
	assert.Equal(t, 0, sr.Transitions)
	assert.Equal(t, 1, sr.Conflicts)
}

func TestRunOnce_OverlapGuard(t *testing.T) {
	rec := &fakeRecorder{denyLock: true}
	eng := newTestEngine(t, &fakeReader{}, &fakeApplier{}, rec)

	_, err := eng.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)
}

func TestRunOnce_RecordsResultAndReleasesLock(t *testing.T) {
	rec := &fakeRecorder{}
	eng := newTestEngine(t, &fakeReader{}, &fakeApplier{}, rec)

	result, err := eng.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, rec.recorded, 1)
	assert.Equal(t, result.RunID, rec.recorded[0].RunID)
	assert.False(t, rec.locked)
}

func TestRunOnce_StaleReport(t *testing.T) {
	reader := &fakeReader{
		stale: []models.StaleCandidate{
			{ID: "cand-stuck", Stage: catalog.StageOffer, Substage: "offer_sent", UpdatedAt: engineNow.Add(-10 * 24 * time.Hour)},
		},
	}
	eng := newTestEngine(t, reader, &fakeApplier{}, nil)

	result, err := eng.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, result.StaleCandidates, 1)
	assert.Equal(t, "cand-stuck", result.StaleCandidates[0].ID)
}

func TestRunOnce_StaleReportFailureDoesNotFailRun(t *testing.T) {
	reader := &fakeReader{staleErr: assert.AnError}
	eng := newTestEngine(t, reader, &fakeApplier{}, nil)

	result, err := eng.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.StaleCandidates)
}

// ==========================
// Decision Tests
// ==========================

func TestDecide_NeverRegresses(t *testing.T) {
	reg, err := rules.NewRegistry([]rules.Rule{
		// A (mis)configured rule that would move a candidate backwards
		{
			Stage:        catalog.StageScreening,
			FromSubstage: "initial_assessment",
			ToSubstage:   "resume_review",
			When:         rules.TimeElapsedSinceStageEntry{Threshold: 0},
		},
	})
	require.NoError(t, err)

	eng := New(reg, &fakeReader{}, &fakeApplier{}, nil, nil, logger.NewNoOpLogger(), Options{}).
		WithClock(func() time.Time { return engineNow })

	c := screeningCandidate("cand-1", strPtr("initial_assessment"), 0, 100*time.Hour, nil)
	_, ok := eng.decide(c, engineNow)
	assert.False(t, ok)
}

func TestDecide_UnknownSubstageFlaggedNotMoved(t *testing.T) {
	reader := &fakeReader{}
	eng := newTestEngine(t, reader, &fakeApplier{}, nil)

	c := screeningCandidate("cand-odd", strPtr("mystery_substage"), 100*time.Hour, 100*time.Hour, nil)
	_, ok := eng.decide(c, engineNow)
	assert.False(t, ok)
}

func TestDecide_HumanInterviewWindow(t *testing.T) {
	reader := &fakeReader{}
	eng := newTestEngine(t, reader, &fakeApplier{}, nil)

	c := &models.Candidate{
		ID:           "cand-iv",
		Stage:        catalog.StageHumanInterview,
		Substage:     strPtr("interview_scheduled"),
		Status:       "active",
		CreatedAt:    engineNow.Add(-10 * 24 * time.Hour),
		UpdatedAt:    engineNow.Add(-time.Hour),
		StageEntryAt: engineNow.Add(-48 * time.Hour),
		Slot: &models.InterviewSlot{
			StartTime: engineNow.Add(-5 * time.Minute),
			EndTime:   engineNow.Add(55 * time.Minute),
		},
	}

	tr, ok := eng.decide(c, engineNow)
	require.True(t, ok)
	assert.Equal(t, "interview_in_progress", tr.ToSubstage)

	// Outside the slot window nothing fires
	c.Slot = &models.InterviewSlot{
		StartTime: engineNow.Add(time.Hour),
		EndTime:   engineNow.Add(2 * time.Hour),
	}
	_, ok = eng.decide(c, engineNow)
	assert.False(t, ok)
}

func TestDecide_OfferAcceptedLadder(t *testing.T) {
	reader := &fakeReader{}
	eng := newTestEngine(t, reader, &fakeApplier{}, nil)

	base := &models.Candidate{
		ID:        "cand-oa",
		Stage:     catalog.StageOfferAccepted,
		Status:    "active",
		CreatedAt: engineNow.Add(-30 * 24 * time.Hour),
		UpdatedAt: engineNow.Add(-25 * time.Hour),
	}

	tests := []struct {
		name     string
		substage *string
		entryAgo time.Duration
		wantTo   string
		wantOK   bool
	}{
		{"null substage after 24h", nil, 24 * time.Hour, "background_check", true},
		{"background check after 4d", strPtr("background_check"), 4 * 24 * time.Hour, "documentation", true},
		{"background check too early", strPtr("background_check"), 3 * 24 * time.Hour, "", false},
		{"documentation after 6d", strPtr("documentation"), 6 * 24 * time.Hour, "onboarding_prep", true},
		{"onboarding prep after 11d", strPtr("onboarding_prep"), 11 * 24 * time.Hour, "ready_to_start", true},
		{"ready to start is terminal", strPtr("ready_to_start"), 30 * 24 * time.Hour, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			c.Substage = tt.substage
			c.StageEntryAt = engineNow.Add(-tt.entryAgo)

			tr, ok := eng.decide(&c, engineNow)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantTo, tr.ToSubstage)
			}
		})
	}
}

func TestDecide_AIAnalysisStatus(t *testing.T) {
	reader := &fakeReader{}
	eng := newTestEngine(t, reader, &fakeApplier{}, nil)

	c := &models.Candidate{
		ID:           "cand-ai",
		Stage:        catalog.StageAIInterview,
		Substage:     strPtr("ai_interview_completed"),
		Status:       "active",
		CreatedAt:    engineNow.Add(-10 * 24 * time.Hour),
		UpdatedAt:    engineNow.Add(-time.Hour),
		StageEntryAt: engineNow.Add(-48 * time.Hour),
		Fields:       map[string]interface{}{"ai_analysis_status": "processing"},
	}

	tr, ok := eng.decide(c, engineNow)
	require.True(t, ok)
	assert.Equal(t, "ai_analysis_in_progress", tr.ToSubstage)

	// A later run sees the analysis finished
	c.Substage = strPtr("ai_analysis_in_progress")
	c.Fields["ai_analysis_status"] = "completed"
	tr, ok = eng.decide(c, engineNow)
	require.True(t, ok)
	assert.Equal(t, "ai_results_ready", tr.ToSubstage)

	// An unexpected status value moves nothing
	c.Fields["ai_analysis_status"] = "failed"
	_, ok = eng.decide(c, engineNow)
	assert.False(t, ok)
}

// Idempotence at the engine level: the state after one transition does not
// immediately satisfy the next rule unless its own clock condition holds.
func TestRunOnce_SecondRunIsQuiescent(t *testing.T) {
	c := screeningCandidate("cand-idem", nil, time.Hour, time.Hour,
		map[string]interface{}{"resume_url": "https://cdn/r.pdf"})
	reader := &fakeReader{
		candidates: map[string][]*models.Candidate{catalog.StageScreening: {c}},
	}
	app := &fakeApplier{}
	eng := newTestEngine(t, reader, app, nil)

	_, err := eng.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, app.transitionsFor("cand-idem"), 1)

	// Simulate the applied write: substage set, updated_at bumped to now
	reader.mu.Lock()
	c.Substage = strPtr("resume_review")
	c.UpdatedAt = engineNow
	reader.mu.Unlock()

	result, err := eng.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total)
	assert.Len(t, app.transitionsFor("cand-idem"), 1)
}

// internal/pipeline/engine/engine.go
package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"pipeline-engine/internal/common/logger"
	"pipeline-engine/internal/common/observability"
	"pipeline-engine/internal/models"
	"pipeline-engine/internal/pipeline/applier"
	"pipeline-engine/internal/pipeline/catalog"
	"pipeline-engine/internal/pipeline/rules"

	"github.com/google/uuid"
)

// ErrRunInProgress signals that the advisory overlap guard is held by
// another run.
var ErrRunInProgress = errors.New("reconciliation run already in progress")

// SnapshotReader loads per-stage candidate snapshots.
type SnapshotReader interface {
	StageEnabled(stage string) bool
	CandidatesFor(ctx context.Context, stage string) ([]*models.Candidate, error)
	StaleCandidates(ctx context.Context, thresholdDays, limit int) ([]models.StaleCandidate, error)
}

// TransitionApplier applies one decided transition.
type TransitionApplier interface {
	Apply(ctx context.Context, t models.Transition) (applier.Outcome, error)
}

// RunRecorder publishes run results and holds the advisory overlap guard.
type RunRecorder interface {
	RecordRun(ctx context.Context, result *models.RunResult) error
	TryLock(ctx context.Context, runID string) bool
	Unlock(ctx context.Context)
}

// Options tune a single engine instance.
type Options struct {
	StageTimeout     time.Duration
	StaleAfterDays   int
	StaleReportLimit int
}

// Engine reconciles candidate substages against the rule registry. One
// RunOnce call evaluates all nine stages concurrently; stages never share
// candidates, so the only write-write races are with outside actors, and
// those are settled by the applier's conditional update.
type Engine struct {
	registry *rules.Registry
	reader   SnapshotReader
	applier  TransitionApplier
	recorder RunRecorder // optional
	obs      *observability.Observability
	log      logger.Logger
	clock    func() time.Time
	opts     Options
}

func New(registry *rules.Registry, reader SnapshotReader, app TransitionApplier,
	rec RunRecorder, obs *observability.Observability, log logger.Logger, opts Options) *Engine {
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 30 * time.Second
	}
	if opts.StaleAfterDays <= 0 {
		opts.StaleAfterDays = 7
	}
	if opts.StaleReportLimit <= 0 {
		opts.StaleReportLimit = 100
	}
	return &Engine{
		registry: registry,
		reader:   reader,
		applier:  app,
		recorder: rec,
		obs:      obs,
		log:      log,
		clock:    time.Now,
		opts:     opts,
	}
}

// WithClock overrides the engine's clock. Tests only.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// RunOnce performs one full reconciliation pass. It never returns an error
// from stage evaluation: a failing stage is reported in its StageResult and
// the other stages complete.
func (e *Engine) RunOnce(ctx context.Context) (*models.RunResult, error) {
	runID := uuid.NewString()
	started := e.clock()

	if e.recorder != nil {
		if !e.recorder.TryLock(ctx, runID) {
			e.log.Warn("Skipping run: overlap guard held", map[string]interface{}{"runId": runID})
			return nil, ErrRunInProgress
		}
		defer e.recorder.Unlock(ctx)
	}

	e.log.Info("Reconciliation run starting", map[string]interface{}{"runId": runID})

	result := &models.RunResult{
		RunID:     runID,
		StartedAt: started.UTC(),
		PerStage:  make(map[string]models.StageResult, len(catalog.Stages)),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, stage := range catalog.Stages {
		wg.Add(1)
		go func(stage string) {
			defer wg.Done()

			stageCtx, cancel := context.WithTimeout(ctx, e.opts.StageTimeout)
			defer cancel()

			sr := e.evaluateStage(stageCtx, stage)

			mu.Lock()
			result.PerStage[stage] = sr
			if sr.Skipped {
				result.SkippedStages = append(result.SkippedStages, stage)
			}
			result.Total += sr.Transitions
			mu.Unlock()
		}(stage)
	}
	wg.Wait()

	sort.Strings(result.SkippedStages)

	e.reportStale(ctx, result)

	result.Duration = e.clock().Sub(started)

	if e.obs != nil {
		e.obs.RecordRun(ctx, "completed")
		e.obs.RecordRunDuration(ctx, result.Duration, "completed")
		for stage, sr := range result.PerStage {
			e.obs.RecordTransitions(ctx, stage, sr.Transitions)
		}
		e.obs.RecordStaleCandidates(ctx, len(result.StaleCandidates))
	}

	if e.recorder != nil {
		if err := e.recorder.RecordRun(ctx, result); err != nil {
			e.log.Warn("Failed to record run result", map[string]interface{}{
				"runId": runID,
				"error": err.Error(),
			})
		}
	}

	e.log.Info("Reconciliation run completed", map[string]interface{}{
		"runId":       runID,
		"transitions": result.Total,
		"durationMs":  result.Duration.Milliseconds(),
	})

	return result, nil
}

// evaluateStage reads the stage's snapshot, decides, and applies. A panic in
// a stage is contained here so the other stages finish.
func (e *Engine) evaluateStage(ctx context.Context, stage string) (sr models.StageResult) {
	sr = models.StageResult{Stage: stage}

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("Stage evaluation panicked", map[string]interface{}{
				"stage": stage,
				"panic": r,
			})
			sr.Skipped = true
			sr.Error = "panic during evaluation"
		}
	}()

	if !e.reader.StageEnabled(stage) {
		sr.Skipped = true
		sr.Error = "disabled: required columns missing"
		return sr
	}

	candidates, err := e.reader.CandidatesFor(ctx, stage)
	if err != nil {
		e.log.Error("Stage snapshot failed", map[string]interface{}{
			"stage": stage,
			"error": err.Error(),
		})
		sr.Skipped = true
		sr.Error = err.Error()
		return sr
	}

	now := e.clock()
	for _, c := range candidates {
		sr.Evaluated++

		transition, ok := e.decide(c, now)
		if !ok {
			continue
		}

		outcome, err := e.applier.Apply(ctx, *transition)
		if err != nil {
			// Per-candidate isolation: log and move to the next candidate.
			e.log.Error("Transition apply failed", map[string]interface{}{
				"stage":       stage,
				"candidateId": c.ID,
				"error":       err.Error(),
			})
			continue
		}

		switch outcome {
		case applier.OutcomeApplied:
			sr.Transitions++
		case applier.OutcomeConflict, applier.OutcomeNotFound:
			sr.Conflicts++
		}
	}

	return sr
}

// decide checks the candidate against its stage's rule and returns the
// transition to apply, if any.
func (e *Engine) decide(c *models.Candidate, now time.Time) (*models.Transition, bool) {
	from := rules.FromUnset
	if c.HasSubstage() {
		from = *c.Substage
	}

	// A substage outside the stage's catalog means the row was written by
	// something that disagrees with the catalog. Flag it, touch nothing.
	if from != rules.FromUnset && !catalog.IsValidSubstage(c.Stage, from) {
		e.log.Warn("Candidate substage not in stage catalog", map[string]interface{}{
			"candidateId": c.ID,
			"stage":       c.Stage,
			"substage":    from,
		})
		return nil, false
	}

	rule, ok := e.registry.Lookup(c.Stage, from)
	if !ok {
		return nil, false
	}

	// Never regress or stand still.
	if from != rules.FromUnset && catalog.Order(c.Stage, rule.ToSubstage) <= catalog.Order(c.Stage, from) {
		return nil, false
	}

	if !rule.When.Evaluate(c, now) {
		return nil, false
	}

	return &models.Transition{
		CandidateID:  c.ID,
		Stage:        c.Stage,
		FromSubstage: c.Substage,
		ToSubstage:   rule.ToSubstage,
		Reason:       rule.When.Describe(),
	}, true
}

// reportStale runs the report-only stale-substage detector.
func (e *Engine) reportStale(ctx context.Context, result *models.RunResult) {
	stale, err := e.reader.StaleCandidates(ctx, e.opts.StaleAfterDays, e.opts.StaleReportLimit)
	if err != nil {
		e.log.Warn("Stale-substage report failed", map[string]interface{}{"error": err.Error()})
		return
	}
	result.StaleCandidates = stale

	if len(stale) > 0 {
		e.log.Warn("Candidates with stale substages", map[string]interface{}{
			"count":         len(stale),
			"thresholdDays": e.opts.StaleAfterDays,
		})
	}
}

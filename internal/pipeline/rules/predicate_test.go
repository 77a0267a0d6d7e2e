// internal/pipeline/rules/predicate_test.go
package rules

import (
	"testing"
	"time"

	"pipeline-engine/internal/models"

	"github.com/stretchr/testify/assert"
)

// ==========================
// Test Helper Functions
// ==========================

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testCandidate(fields map[string]interface{}) *models.Candidate {
	return &models.Candidate{
		ID:           "cand-1",
		Stage:        "Screening",
		Status:       "active",
		CreatedAt:    testNow.Add(-96 * time.Hour),
		UpdatedAt:    testNow.Add(-30 * time.Hour),
		StageEntryAt: testNow.Add(-72 * time.Hour),
		Fields:       fields,
	}
}

// ==========================
// Time Predicate Tests
// ==========================

func TestTimeElapsedSinceField(t *testing.T) {
	tests := []struct {
		name   string
		pred   TimeElapsedSinceField
		fields map[string]interface{}
		want   bool
	}{
		{
			name:   "threshold met",
			pred:   TimeElapsedSinceField{Field: "submitted_at", Threshold: 24 * time.Hour},
			fields: map[string]interface{}{"submitted_at": testNow.Add(-25 * time.Hour)},
			want:   true,
		},
		{
			name:   "exactly at threshold",
			pred:   TimeElapsedSinceField{Field: "submitted_at", Threshold: 24 * time.Hour},
			fields: map[string]interface{}{"submitted_at": testNow.Add(-24 * time.Hour)},
			want:   true,
		},
		{
			name:   "threshold not met",
			pred:   TimeElapsedSinceField{Field: "submitted_at", Threshold: 24 * time.Hour},
			fields: map[string]interface{}{"submitted_at": testNow.Add(-23 * time.Hour)},
			want:   false,
		},
		{
			name:   "null field without fallback",
			pred:   TimeElapsedSinceField{Field: "submitted_at", Threshold: 24 * time.Hour},
			fields: map[string]interface{}{"submitted_at": nil},
			want:   false,
		},
		{
			name:   "null field falls back to updated_at",
			pred:   TimeElapsedSinceField{Field: "submitted_at", Threshold: 24 * time.Hour, Fallback: "updated_at"},
			fields: map[string]interface{}{"submitted_at": nil},
			want:   true, // updated_at is 30h old in the fixture
		},
		{
			name:   "base column updated_at resolves from snapshot",
			pred:   TimeElapsedSinceField{Field: "updated_at", Threshold: 24 * time.Hour},
			fields: nil,
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.pred.Evaluate(testCandidate(tt.fields), testNow)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTimeElapsedSinceStageEntry(t *testing.T) {
	c := testCandidate(nil) // stage entry 72h ago

	assert.True(t, TimeElapsedSinceStageEntry{Threshold: 48 * time.Hour}.Evaluate(c, testNow))
	assert.True(t, TimeElapsedSinceStageEntry{Threshold: 72 * time.Hour}.Evaluate(c, testNow))
	assert.False(t, TimeElapsedSinceStageEntry{Threshold: 96 * time.Hour}.Evaluate(c, testNow))

	c.StageEntryAt = time.Time{}
	assert.False(t, TimeElapsedSinceStageEntry{Threshold: time.Hour}.Evaluate(c, testNow))
}

func TestTimeWindowAroundField(t *testing.T) {
	pred := TimeWindowAroundField{Field: "interview_scheduled_at", Lead: 15 * time.Minute, Lag: 120 * time.Minute}

	tests := []struct {
		name      string
		scheduled time.Time
		want      bool
	}{
		{"well before window", testNow.Add(30 * time.Minute), false},
		{"lead boundary", testNow.Add(15 * time.Minute), true},
		{"at scheduled time", testNow, true},
		{"late but inside lag", testNow.Add(-119 * time.Minute), true},
		{"lag boundary", testNow.Add(-120 * time.Minute), true},
		{"past the window", testNow.Add(-121 * time.Minute), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testCandidate(map[string]interface{}{"interview_scheduled_at": tt.scheduled})
			assert.Equal(t, tt.want, pred.Evaluate(c, testNow))
		})
	}

	t.Run("null anchor never passes", func(t *testing.T) {
		c := testCandidate(nil)
		assert.False(t, pred.Evaluate(c, testNow))
	})
}

// ==========================
// Field Predicate Tests
// ==========================

func TestFieldPresent(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]interface{}
		want   bool
	}{
		{"non-empty string", map[string]interface{}{"resume_url": "https://cdn/resume.pdf"}, true},
		{"empty string", map[string]interface{}{"resume_url": ""}, false},
		{"null value", map[string]interface{}{"resume_url": nil}, false},
		{"not selected", nil, false},
		{"timestamp value", map[string]interface{}{"resume_url": testNow}, true},
		{"zero timestamp", map[string]interface{}{"resume_url": time.Time{}}, false},
		{"numeric value", map[string]interface{}{"resume_url": 85.0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred := FieldPresent{Field: "resume_url"}
			assert.Equal(t, tt.want, pred.Evaluate(testCandidate(tt.fields), testNow))
		})
	}
}

func TestFieldAbsent(t *testing.T) {
	pred := FieldAbsent{Field: "assessment_score"}

	assert.True(t, pred.Evaluate(testCandidate(map[string]interface{}{"assessment_score": nil}), testNow))
	assert.True(t, pred.Evaluate(testCandidate(nil), testNow))
	assert.False(t, pred.Evaluate(testCandidate(map[string]interface{}{"assessment_score": 92.5}), testNow))
}

func TestFieldEquals(t *testing.T) {
	pred := FieldEquals{Field: "ai_analysis_status", Value: "completed"}

	assert.True(t, pred.Evaluate(testCandidate(map[string]interface{}{"ai_analysis_status": "completed"}), testNow))
	assert.False(t, pred.Evaluate(testCandidate(map[string]interface{}{"ai_analysis_status": "processing"}), testNow))
	assert.False(t, pred.Evaluate(testCandidate(map[string]interface{}{"ai_analysis_status": nil}), testNow))
	assert.False(t, pred.Evaluate(testCandidate(nil), testNow))
}

func TestAnyFieldPresent(t *testing.T) {
	pred := AnyFieldPresent{Fields: []string{"interview_feedback", "interview_notes"}}

	assert.True(t, pred.Evaluate(testCandidate(map[string]interface{}{"interview_feedback": "strong hire"}), testNow))
	assert.True(t, pred.Evaluate(testCandidate(map[string]interface{}{"interview_notes": "follow up on references"}), testNow))
	assert.False(t, pred.Evaluate(testCandidate(map[string]interface{}{"interview_feedback": "", "interview_notes": nil}), testNow))
}

// ==========================
// Window / Composite Tests
// ==========================

func TestJoinedWindow(t *testing.T) {
	pred := JoinedWindow{}

	tests := []struct {
		name string
		slot *models.InterviewSlot
		want bool
	}{
		{"inside window", &models.InterviewSlot{StartTime: testNow.Add(-10 * time.Minute), EndTime: testNow.Add(50 * time.Minute)}, true},
		{"at start", &models.InterviewSlot{StartTime: testNow, EndTime: testNow.Add(time.Hour)}, true},
		{"at end is exclusive", &models.InterviewSlot{StartTime: testNow.Add(-time.Hour), EndTime: testNow}, false},
		{"before window", &models.InterviewSlot{StartTime: testNow.Add(time.Minute), EndTime: testNow.Add(time.Hour)}, false},
		{"no slot joined", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testCandidate(nil)
			c.Slot = tt.slot
			assert.Equal(t, tt.want, pred.Evaluate(c, testNow))
		})
	}
}

func TestAllOf(t *testing.T) {
	pred := AllOf{Predicates: []Predicate{
		FieldPresent{Field: "assessment_submitted_at"},
		FieldAbsent{Field: "assessment_score"},
	}}

	assert.True(t, pred.Evaluate(testCandidate(map[string]interface{}{
		"assessment_submitted_at": testNow.Add(-time.Hour),
		"assessment_score":        nil,
	}), testNow))

	assert.False(t, pred.Evaluate(testCandidate(map[string]interface{}{
		"assessment_submitted_at": testNow.Add(-time.Hour),
		"assessment_score":        88.0,
	}), testNow))

	assert.False(t, pred.Evaluate(testCandidate(map[string]interface{}{
		"assessment_submitted_at": nil,
		"assessment_score":        nil,
	}), testNow))
}

func TestAllOf_Columns(t *testing.T) {
	pred := AllOf{Predicates: []Predicate{
		FieldPresent{Field: "selected_slot_id"},
		FieldPresent{Field: "meeting_link"},
	}}
	assert.ElementsMatch(t, []string{"selected_slot_id", "meeting_link"}, pred.Columns())
}

// internal/pipeline/rules/defaults.go
package rules

import (
	"time"

	"pipeline-engine/internal/pipeline/catalog"
)

// DefaultRules returns the compiled-in transition table. Per-rule time
// anchors (last update, stage entry, a specific timestamp column) are part
// of each rule's contract and differ deliberately between rules.
func DefaultRules() []Rule {
	return []Rule{
		// Screening
		{
			Stage:        catalog.StageScreening,
			FromSubstage: FromUnset,
			ToSubstage:   "resume_review",
			When:         FieldPresent{Field: "resume_url"},
		},
		{
			Stage:        catalog.StageScreening,
			FromSubstage: "application_received",
			ToSubstage:   "resume_review",
			When:         FieldPresent{Field: "resume_url"},
		},
		{
			Stage:        catalog.StageScreening,
			FromSubstage: "resume_review",
			ToSubstage:   "initial_assessment",
			When:         TimeElapsedSinceField{Field: "updated_at", Threshold: 24 * time.Hour},
		},
		{
			Stage:        catalog.StageScreening,
			FromSubstage: "initial_assessment",
			ToSubstage:   "phone_screen_scheduled",
			When:         TimeElapsedSinceStageEntry{Threshold: 48 * time.Hour},
		},
		{
			Stage:        catalog.StageScreening,
			FromSubstage: "phone_screen_scheduled",
			ToSubstage:   "phone_screen_completed",
			When:         TimeElapsedSinceStageEntry{Threshold: 72 * time.Hour},
		},

		// Shortlist
		{
			Stage:        catalog.StageShortlist,
			FromSubstage: FromUnset,
			ToSubstage:   "pending_interview",
			When:         TimeElapsedSinceField{Field: "updated_at", Threshold: 48 * time.Hour},
		},
		{
			Stage:        catalog.StageShortlist,
			FromSubstage: "under_review",
			ToSubstage:   "pending_interview",
			When:         TimeElapsedSinceField{Field: "updated_at", Threshold: 48 * time.Hour},
		},

		// Technical Assessment (capability-gated on assessment columns)
		{
			Stage:        catalog.StageTechnicalAssessment,
			FromSubstage: "assessment_sent",
			ToSubstage:   "assessment_in_progress",
			When:         FieldPresent{Field: "assessment_started_at"},
		},
		{
			Stage:        catalog.StageTechnicalAssessment,
			FromSubstage: "assessment_in_progress",
			ToSubstage:   "assessment_submitted",
			When:         FieldPresent{Field: "assessment_submitted_at"},
		},
		{
			Stage:        catalog.StageTechnicalAssessment,
			FromSubstage: "assessment_submitted",
			ToSubstage:   "pending_review",
			When: AllOf{Predicates: []Predicate{
				FieldPresent{Field: "assessment_submitted_at"},
				FieldAbsent{Field: "assessment_score"},
			}},
		},
		{
			Stage:        catalog.StageTechnicalAssessment,
			FromSubstage: "pending_review",
			ToSubstage:   "assessment_completed",
			When:         FieldPresent{Field: "assessment_score"},
		},

		// Human Interview
		{
			Stage:        catalog.StageHumanInterview,
			FromSubstage: "interviewer_assigned",
			ToSubstage:   "interview_scheduled",
			When: AllOf{Predicates: []Predicate{
				FieldPresent{Field: "selected_slot_id"},
				FieldPresent{Field: "meeting_link"},
			}},
		},
		{
			Stage:        catalog.StageHumanInterview,
			FromSubstage: "interview_scheduled",
			ToSubstage:   "interview_in_progress",
			When:         JoinedWindow{},
		},
		{
			Stage:        catalog.StageHumanInterview,
			FromSubstage: "interview_in_progress",
			ToSubstage:   "interview_completed",
			When:         FieldPresent{Field: "interview_completed_at"},
		},
		{
			Stage:        catalog.StageHumanInterview,
			FromSubstage: "interview_completed",
			ToSubstage:   "feedback_submitted",
			When:         AnyFieldPresent{Fields: []string{"interview_feedback", "interview_notes"}},
		},

		// Final Interview
		{
			Stage:        catalog.StageFinalInterview,
			FromSubstage: "interview_prep",
			ToSubstage:   "interview_scheduled",
			When:         TimeElapsedSinceField{Field: "updated_at", Threshold: 24 * time.Hour},
		},
		{
			Stage:        catalog.StageFinalInterview,
			FromSubstage: "interview_scheduled",
			ToSubstage:   "interview_in_progress",
			When: TimeWindowAroundField{
				Field: "interview_scheduled_at",
				Lead:  15 * time.Minute,
				Lag:   120 * time.Minute,
			},
		},
		{
			Stage:        catalog.StageFinalInterview,
			FromSubstage: "interview_in_progress",
			ToSubstage:   "interview_completed",
			When:         FieldPresent{Field: "interview_completed_at"},
		},
		{
			Stage:        catalog.StageFinalInterview,
			FromSubstage: "interview_completed",
			ToSubstage:   "decision_pending",
			When: TimeElapsedSinceField{
				Field:     "interview_completed_at",
				Threshold: time.Hour,
				Fallback:  "updated_at",
			},
		},

		// AI Interview
		{
			Stage:        catalog.StageAIInterview,
			FromSubstage: "ai_interview_sent",
			ToSubstage:   "ai_interview_started",
			When:         FieldPresent{Field: "ai_interview_started_at"},
		},
		{
			Stage:        catalog.StageAIInterview,
			FromSubstage: "ai_interview_started",
			ToSubstage:   "ai_interview_completed",
			When:         FieldPresent{Field: "ai_interview_completed_at"},
		},
		{
			Stage:        catalog.StageAIInterview,
			FromSubstage: "ai_interview_completed",
			ToSubstage:   "ai_analysis_in_progress",
			When:         FieldEquals{Field: "ai_analysis_status", Value: "processing"},
		},
		{
			Stage:        catalog.StageAIInterview,
			FromSubstage: "ai_analysis_in_progress",
			ToSubstage:   "ai_results_ready",
			When:         FieldEquals{Field: "ai_analysis_status", Value: "completed"},
		},

		// Offer
		{
			Stage:        catalog.StageOffer,
			FromSubstage: "offer_preparation",
			ToSubstage:   "offer_approval",
			When:         TimeElapsedSinceField{Field: "updated_at", Threshold: 12 * time.Hour},
		},
		{
			Stage:        catalog.StageOffer,
			FromSubstage: "offer_approval",
			ToSubstage:   "offer_sent",
			When:         TimeElapsedSinceField{Field: "updated_at", Threshold: 24 * time.Hour},
		},
		{
			Stage:        catalog.StageOffer,
			FromSubstage: "offer_sent",
			ToSubstage:   "candidate_reviewing",
			When:         TimeElapsedSinceField{Field: "updated_at", Threshold: 48 * time.Hour},
		},

		// Client Endorsement (capability-gated on client columns)
		{
			Stage:        catalog.StageClientEndorsement,
			FromSubstage: FromUnset,
			ToSubstage:   "client_reviewing",
			When:         FieldPresent{Field: "client_viewed_at"},
		},
		{
			Stage:        catalog.StageClientEndorsement,
			FromSubstage: "client_review_pending",
			ToSubstage:   "client_reviewing",
			When:         FieldPresent{Field: "client_viewed_at"},
		},

		// Offer Accepted
		{
			Stage:        catalog.StageOfferAccepted,
			FromSubstage: FromUnset,
			ToSubstage:   "background_check",
			When:         TimeElapsedSinceField{Field: "updated_at", Threshold: 24 * time.Hour},
		},
		{
			Stage:        catalog.StageOfferAccepted,
			FromSubstage: "offer_accepted",
			ToSubstage:   "background_check",
			When:         TimeElapsedSinceField{Field: "updated_at", Threshold: 24 * time.Hour},
		},
		{
			Stage:        catalog.StageOfferAccepted,
			FromSubstage: "background_check",
			ToSubstage:   "documentation",
			When:         TimeElapsedSinceStageEntry{Threshold: 4 * 24 * time.Hour},
		},
		{
			Stage:        catalog.StageOfferAccepted,
			FromSubstage: "documentation",
			ToSubstage:   "onboarding_prep",
			When:         TimeElapsedSinceStageEntry{Threshold: 6 * 24 * time.Hour},
		},
		{
			Stage:        catalog.StageOfferAccepted,
			FromSubstage: "onboarding_prep",
			ToSubstage:   "ready_to_start",
			When:         TimeElapsedSinceStageEntry{Threshold: 11 * 24 * time.Hour},
		},
	}
}

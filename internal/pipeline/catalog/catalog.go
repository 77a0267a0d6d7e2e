// internal/pipeline/catalog/catalog.go
package catalog

// Substage is one progression marker within a stage.
type Substage struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Order int    `json:"order"`
}

// Stage names, in pipeline order.
const (
	StageScreening           = "Screening"
	StageShortlist           = "Shortlist"
	StageTechnicalAssessment = "Technical Assessment"
	StageHumanInterview      = "Human Interview"
	StageFinalInterview      = "Final Interview"
	StageAIInterview         = "AI Interview"
	StageOffer               = "Offer"
	StageClientEndorsement   = "Client Endorsement"
	StageOfferAccepted       = "Offer Accepted"
)

// Stages lists every stage the engine evaluates, in pipeline order.
var Stages = []string{
	StageScreening,
	StageShortlist,
	StageTechnicalAssessment,
	StageHumanInterview,
	StageFinalInterview,
	StageAIInterview,
	StageOffer,
	StageClientEndorsement,
	StageOfferAccepted,
}

// stageSubstages is the static read-only catalog. Substages are ordered
// progression markers; candidates only ever move forward through them.
var stageSubstages = map[string][]Substage{
	StageScreening: {
		{ID: "application_received", Label: "Application Received", Order: 1},
		{ID: "resume_review", Label: "Resume Review", Order: 2},
		{ID: "initial_assessment", Label: "Initial Assessment", Order: 3},
		{ID: "phone_screen_scheduled", Label: "Phone Screen Scheduled", Order: 4},
		{ID: "phone_screen_completed", Label: "Phone Screen Completed", Order: 5},
	},
	StageShortlist: {
		{ID: "under_review", Label: "Under Review", Order: 1},
		{ID: "pending_interview", Label: "Pending Interview", Order: 2},
		{ID: "interview_scheduled", Label: "Interview Scheduled", Order: 3},
		{ID: "interview_completed", Label: "Interview Completed", Order: 4},
		{ID: "awaiting_feedback", Label: "Awaiting Feedback", Order: 5},
	},
	StageTechnicalAssessment: {
		{ID: "assessment_sent", Label: "Assessment Sent", Order: 1},
		{ID: "assessment_in_progress", Label: "Assessment In Progress", Order: 2},
		{ID: "assessment_submitted", Label: "Assessment Submitted", Order: 3},
		{ID: "pending_review", Label: "Pending Assessment Review", Order: 4},
		{ID: "assessment_completed", Label: "Assessment Completed", Order: 5},
	},
	StageHumanInterview: {
		{ID: "interviewer_assigned", Label: "Interviewer Assigned", Order: 1},
		{ID: "interview_scheduled", Label: "Interview Scheduled", Order: 2},
		{ID: "interview_in_progress", Label: "Interview In Progress", Order: 3},
		{ID: "interview_completed", Label: "Interview Completed", Order: 4},
		{ID: "feedback_submitted", Label: "Feedback Submitted", Order: 5},
	},
	StageFinalInterview: {
		{ID: "interview_prep", Label: "Interview Preparation", Order: 1},
		{ID: "interview_scheduled", Label: "Interview Scheduled", Order: 2},
		{ID: "interview_in_progress", Label: "Interview In Progress", Order: 3},
		{ID: "interview_completed", Label: "Interview Completed", Order: 4},
		{ID: "decision_pending", Label: "Decision Pending", Order: 5},
	},
	StageAIInterview: {
		{ID: "ai_interview_sent", Label: "AI Interview Sent", Order: 1},
		{ID: "ai_interview_started", Label: "AI Interview Started", Order: 2},
		{ID: "ai_interview_completed", Label: "AI Interview Completed", Order: 3},
		{ID: "ai_analysis_in_progress", Label: "AI Analysis In Progress", Order: 4},
		{ID: "ai_results_ready", Label: "AI Results Ready", Order: 5},
	},
	StageOffer: {
		{ID: "offer_preparation", Label: "Offer Preparation", Order: 1},
		{ID: "offer_approval", Label: "Offer Approval", Order: 2},
		{ID: "offer_sent", Label: "Offer Sent", Order: 3},
		{ID: "candidate_reviewing", Label: "Candidate Reviewing Offer", Order: 4},
		{ID: "negotiation", Label: "Negotiation", Order: 5},
	},
	StageClientEndorsement: {
		{ID: "client_review_pending", Label: "Client Review Pending", Order: 1},
		{ID: "client_reviewing", Label: "Client Reviewing", Order: 2},
		{ID: "client_feedback_received", Label: "Client Feedback Received", Order: 3},
		{ID: "endorsement_approved", Label: "Endorsement Approved", Order: 4},
		{ID: "placement_confirmed", Label: "Placement Confirmed", Order: 5},
	},
	StageOfferAccepted: {
		{ID: "offer_accepted", Label: "Offer Accepted", Order: 1},
		{ID: "background_check", Label: "Background Check", Order: 2},
		{ID: "documentation", Label: "Documentation", Order: 3},
		{ID: "onboarding_prep", Label: "Onboarding Preparation", Order: 4},
		{ID: "ready_to_start", Label: "Ready To Start", Order: 5},
	},
}

// SubstagesFor returns the ordered substages for a stage, or an empty slice
// for an unknown stage.
func SubstagesFor(stage string) []Substage {
	if subs, ok := stageSubstages[stage]; ok {
		result := make([]Substage, len(subs))
		copy(result, subs)
		return result
	}
	return []Substage{}
}

// IsKnownStage reports whether the stage exists in the catalog.
func IsKnownStage(stage string) bool {
	_, ok := stageSubstages[stage]
	return ok
}

// IsValidSubstage reports whether the substage belongs to the stage.
func IsValidSubstage(stage, substageID string) bool {
	for _, s := range stageSubstages[stage] {
		if s.ID == substageID {
			return true
		}
	}
	return false
}

// Order returns the 1-based position of a substage within its stage,
// or 0 when the pair is unknown.
func Order(stage, substageID string) int {
	for _, s := range stageSubstages[stage] {
		if s.ID == substageID {
			return s.Order
		}
	}
	return 0
}

// Next returns the substage following the given one within the stage.
// It returns ok=false at the last position or for an unknown pair.
func Next(stage, substageID string) (Substage, bool) {
	subs := stageSubstages[stage]
	for i, s := range subs {
		if s.ID == substageID {
			if i < len(subs)-1 {
				return subs[i+1], true
			}
			return Substage{}, false
		}
	}
	return Substage{}, false
}

// First returns the first substage of a stage.
func First(stage string) (Substage, bool) {
	subs := stageSubstages[stage]
	if len(subs) == 0 {
		return Substage{}, false
	}
	return subs[0], true
}

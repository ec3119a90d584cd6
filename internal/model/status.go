package model

// TechnicalStatus is the internal outcome code of a case. Members are totally
// ordered by Hierarchy; earlier members outrank later ones.
type TechnicalStatus string

const (
	StatusApplicable              TechnicalStatus = "applicable"
	StatusAdopted                 TechnicalStatus = "adopted"
	StatusCommitted               TechnicalStatus = "committed"
	StatusAssessmentPending       TechnicalStatus = "assessment_pending"
	StatusRoadmapDevelopment      TechnicalStatus = "roadmap_development"
	StatusRejectedAlreadyCovered  TechnicalStatus = "rejected_already_covered"
	StatusRejectedWithActions     TechnicalStatus = "rejected_with_actions"
	StatusRejected                TechnicalStatus = "rejected"
	StatusNonLegislativeAction    TechnicalStatus = "non_legislative_action"
	StatusProposalPendingAdoption TechnicalStatus = "proposal_pending_adoption"
)

// Hierarchy lists every status from highest to lowest priority.
var Hierarchy = []TechnicalStatus{
	StatusApplicable,
	StatusAdopted,
	StatusCommitted,
	StatusAssessmentPending,
	StatusRoadmapDevelopment,
	StatusRejectedAlreadyCovered,
	StatusRejectedWithActions,
	StatusRejected,
	StatusNonLegislativeAction,
	StatusProposalPendingAdoption,
}

// statusRank is the hierarchy position; the rejection variants share a rank.
var statusRank = map[TechnicalStatus]int{
	StatusApplicable:              0,
	StatusAdopted:                 1,
	StatusCommitted:               2,
	StatusAssessmentPending:       3,
	StatusRoadmapDevelopment:      4,
	StatusRejectedAlreadyCovered:  5,
	StatusRejectedWithActions:     5,
	StatusRejected:                5,
	StatusNonLegislativeAction:    6,
	StatusProposalPendingAdoption: 7,
}

var statusLabels = map[TechnicalStatus]string{
	StatusApplicable:              "Law Active",
	StatusAdopted:                 "Law Approved",
	StatusCommitted:               "Law Promised",
	StatusAssessmentPending:       "Being Studied",
	StatusRoadmapDevelopment:      "Plan in Progress",
	StatusRejectedAlreadyCovered:  "Rejected - Already Covered",
	StatusRejectedWithActions:     "Rejected - Alternative Actions",
	StatusRejected:                "Rejected",
	StatusNonLegislativeAction:    "Policy Changes Only",
	StatusProposalPendingAdoption: "Proposals Under Review",
}

// Valid reports whether s is a hierarchy member.
func (s TechnicalStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Rank returns the hierarchy rank (0 is highest) or -1 for unknown codes.
func (s TechnicalStatus) Rank() int {
	r, ok := statusRank[s]
	if !ok {
		return -1
	}
	return r
}

// Outranks reports whether s sits strictly higher in the hierarchy than other.
func (s TechnicalStatus) Outranks(other TechnicalStatus) bool {
	if !s.Valid() || !other.Valid() {
		return false
	}
	return s.Rank() < other.Rank()
}

// IsRejection reports whether s belongs to the rejection family.
func (s TechnicalStatus) IsRejection() bool {
	switch s {
	case StatusRejectedAlreadyCovered, StatusRejectedWithActions, StatusRejected:
		return true
	}
	return false
}

// Label translates s into its human-readable form, falling back to the code.
func (s TechnicalStatus) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

func (s TechnicalStatus) String() string {
	return string(s)
}

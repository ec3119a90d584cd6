package model

import (
	"slices"
	"strings"
)

// SourceKind identifies which scraped document a record was built from.
type SourceKind string

const (
	SourceResponse SourceKind = "response"
	SourceFollowup SourceKind = "followup"
)

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	return k == SourceResponse || k == SourceFollowup
}

// Section names used as keys of CaseRecord.Sections.
const (
	SectionSubmission = "submission"
	SectionResponse   = "response"
	SectionFollowup   = "followup"
	SectionUpdates    = "updates"
)

// deadlineSeparator joins sentences that share a deadline date.
const deadlineSeparator = "; "

// Deadlines maps a committed date to the sentence(s) stating the commitment.
type Deadlines map[Date]string

// DeadlineBuckets collects deadline sentences per date. Sentences stay
// separate until Deadlines joins them, so one that itself contains the
// separator is still recognised when it is seen again.
type DeadlineBuckets struct {
	buckets map[Date][]string
}

// Add appends sentence to the bucket for d unless the bucket already holds it.
func (b *DeadlineBuckets) Add(d Date, sentence string) {
	sentence = strings.TrimSpace(sentence)
	if d.IsZero() || sentence == "" {
		return
	}
	if b.buckets == nil {
		b.buckets = make(map[Date][]string)
	}
	if slices.Contains(b.buckets[d], sentence) {
		return
	}
	b.buckets[d] = append(b.buckets[d], sentence)
}

// Len returns the number of distinct dates.
func (b *DeadlineBuckets) Len() int { return len(b.buckets) }

// Deadlines joins each bucket's sentences in the order they were added.
func (b *DeadlineBuckets) Deadlines() Deadlines {
	dl := make(Deadlines, len(b.buckets))
	for d, sentences := range b.buckets {
		dl[d] = strings.Join(sentences, deadlineSeparator)
	}
	return dl
}

// Dates returns the deadline dates in chronological order.
func (dl Deadlines) Dates() []Date {
	out := make([]Date, 0, len(dl))
	for d := range dl {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b Date) int { return a.Compare(b) })
	return out
}

// Latest returns the chronologically last deadline, or nil when empty.
func (dl Deadlines) Latest() *Date {
	dates := dl.Dates()
	if len(dates) == 0 {
		return nil
	}
	return &dates[len(dates)-1]
}

// Rejection records whether the institution rejected the initiative and why.
type Rejection struct {
	IsRejected bool   `json:"is_rejected"`
	Reasoning  string `json:"reasoning,omitempty"`
}

// ProceduralDates are the named scalar dates of a case.
type ProceduralDates struct {
	Submission            *Date `json:"submission,omitempty"`
	Meeting               *Date `json:"meeting,omitempty"`
	Hearing               *Date `json:"hearing,omitempty"`
	Debate                *Date `json:"debate,omitempty"`
	CommunicationAdoption *Date `json:"communication_adoption,omitempty"`
	Applicability         *Date `json:"applicability,omitempty"`
}

// DocumentLinks holds reference URLs found in the source document.
type DocumentLinks struct {
	Initiative      string   `json:"initiative,omitempty"`
	Response        string   `json:"response,omitempty"`
	Communication   string   `json:"communication,omitempty"`
	Factsheet       string   `json:"factsheet,omitempty"`
	FollowupWebsite string   `json:"followup_website,omitempty"`
	HearingVideos   []string `json:"hearing_videos,omitempty"`
	DebateVideos    []string `json:"debate_videos,omitempty"`
}

// FieldIssue records a non-fatal extraction failure for one field.
type FieldIssue struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// CaseRecord is the structured accountability record extracted from one
// source document for one case.
type CaseRecord struct {
	CaseID string     `json:"case_id"`
	Source SourceKind `json:"source"`
	Title  string     `json:"title,omitempty"`

	Links DocumentLinks `json:"links"`

	// Sections maps section name to normalized text.
	Sections map[string]string `json:"source_text_sections,omitempty"`

	Status         TechnicalStatus `json:"technical_status"`
	StatusLabel    string          `json:"status_label"`
	StatusEvidence []string        `json:"status_evidence,omitempty"`

	PromisedNewLaw bool      `json:"commission_promised_new_law"`
	Rejection      Rejection `json:"rejection"`
	Commitments    string    `json:"commitments,omitempty"`
	Deadlines      Deadlines `json:"deadlines,omitempty"`

	LegislativeActions    []Action `json:"legislative_actions,omitempty"`
	NonLegislativeActions []Action `json:"non_legislative_actions,omitempty"`

	Dates ProceduralDates `json:"dates"`

	SubmissionText     string `json:"submission_text,omitempty"`
	ResponseConclusion string `json:"response_conclusion,omitempty"`

	HasRoadmap             bool `json:"has_roadmap"`
	HasWorkshop            bool `json:"has_workshop"`
	HasPartnershipPrograms bool `json:"has_partnership_programs"`

	CourtCases            []string `json:"court_cases,omitempty"`
	ReferencedLegislation []string `json:"referenced_legislation,omitempty"`
	FollowupEvents        string   `json:"followup_events,omitempty"`

	LatestUpdateDate *Date `json:"latest_update_date,omitempty"`
	MostFutureDate   *Date `json:"most_future_date,omitempty"`

	Issues []FieldIssue `json:"issues,omitempty"`
}

// AddIssue records a non-fatal extraction failure.
func (r *CaseRecord) AddIssue(field string, err error) {
	if err == nil {
		return
	}
	r.Issues = append(r.Issues, FieldIssue{Field: field, Error: err.Error()})
}

// WarningCode classifies a reconciliation anomaly.
type WarningCode string

const (
	WarningStatusRegressed WarningCode = "status_regressed"
	WarningDateRegressed   WarningCode = "date_regressed"
)

// Warning is a non-fatal reconciliation anomaly surfaced for manual review.
type Warning struct {
	Field   string      `json:"field"`
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	return w.Field + ": " + w.Message
}

// MergedRecord is the reconciled view of a case across both sources. The
// embedded Source is left empty; Sources lists the contributing documents.
// Its CaseRecord may be fed back into a later merge as the response side.
type MergedRecord struct {
	CaseRecord
	Warnings []Warning    `json:"warnings,omitempty"`
	Sources  []SourceKind `json:"sources"`
}

// HasSource reports whether the given source contributed to the record.
func (m *MergedRecord) HasSource(k SourceKind) bool {
	return slices.Contains(m.Sources, k)
}

package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/eci-tracker/internal/model"
)

// Row is the flat form of a merged record, one column per merged field in
// reconciliation order plus bookkeeping columns. Collections are JSON.
type Row struct {
	CaseID                string `csv:"case_id"`
	Title                 string `csv:"title"`
	InitiativeURL         string `csv:"initiative_url"`
	ResponseURL           string `csv:"response_url"`
	CommunicationURL      string `csv:"communication_url"`
	FactsheetURL          string `csv:"factsheet_url"`
	FollowupWebsiteURL    string `csv:"followup_website_url"`
	HearingVideoURLs      string `csv:"hearing_video_urls"`
	DebateVideoURLs       string `csv:"debate_video_urls"`
	SubmissionDate        string `csv:"submission_date"`
	MeetingDate           string `csv:"meeting_date"`
	HearingDate           string `csv:"hearing_date"`
	DebateDate            string `csv:"debate_date"`
	CommunicationDate     string `csv:"communication_date"`
	ApplicabilityDate     string `csv:"applicability_date"`
	SubmissionText        string `csv:"submission_text"`
	ResponseConclusion    string `csv:"response_conclusion"`
	TechnicalStatus       string `csv:"technical_status"`
	StatusLabel           string `csv:"status_label"`
	StatusEvidence        string `csv:"status_evidence"`
	PromisedNewLaw        bool   `csv:"promised_new_law"`
	RejectedInitiative    bool   `csv:"rejected_initiative"`
	RejectionReasoning    string `csv:"rejection_reasoning"`
	Commitments           string `csv:"commitments"`
	Deadlines             string `csv:"deadlines"`
	LegislativeActions    string `csv:"legislative_actions"`
	NonLegislativeActions string `csv:"non_legislative_actions"`
	HasRoadmap            bool   `csv:"has_roadmap"`
	HasWorkshop           bool   `csv:"has_workshop"`
	HasPartnership        bool   `csv:"has_partnership_programs"`
	CourtCases            string `csv:"court_cases"`
	ReferencedLegislation string `csv:"referenced_legislation"`
	FollowupEvents        string `csv:"followup_events"`
	LatestUpdateDate      string `csv:"latest_update_date"`
	MostFutureDate        string `csv:"most_future_date"`
	SourceTextSections    string `csv:"source_text_sections"`

	Sources  string `csv:"sources"`
	Warnings int    `csv:"warnings"`
	Issues   string `csv:"issues"`
}

// NewRow flattens a merged record.
func NewRow(m *model.MergedRecord) (Row, error) {
	var err error
	js := func(v any) string {
		if err != nil || isEmptyCollection(v) {
			return ""
		}
		var b []byte
		b, err = json.Marshal(v)
		return string(b)
	}

	sources := make([]string, len(m.Sources))
	for i, s := range m.Sources {
		sources[i] = string(s)
	}

	r := Row{
		CaseID:                m.CaseID,
		Title:                 m.Title,
		InitiativeURL:         m.Links.Initiative,
		ResponseURL:           m.Links.Response,
		CommunicationURL:      m.Links.Communication,
		FactsheetURL:          m.Links.Factsheet,
		FollowupWebsiteURL:    m.Links.FollowupWebsite,
		HearingVideoURLs:      js(m.Links.HearingVideos),
		DebateVideoURLs:       js(m.Links.DebateVideos),
		SubmissionDate:        dateString(m.Dates.Submission),
		MeetingDate:           dateString(m.Dates.Meeting),
		HearingDate:           dateString(m.Dates.Hearing),
		DebateDate:            dateString(m.Dates.Debate),
		CommunicationDate:     dateString(m.Dates.CommunicationAdoption),
		ApplicabilityDate:     dateString(m.Dates.Applicability),
		SubmissionText:        m.SubmissionText,
		ResponseConclusion:    m.ResponseConclusion,
		TechnicalStatus:       string(m.Status),
		StatusLabel:           m.StatusLabel,
		StatusEvidence:        js(m.StatusEvidence),
		PromisedNewLaw:        m.PromisedNewLaw,
		RejectedInitiative:    m.Rejection.IsRejected,
		RejectionReasoning:    m.Rejection.Reasoning,
		Commitments:           m.Commitments,
		Deadlines:             js(m.Deadlines),
		LegislativeActions:    js(m.LegislativeActions),
		NonLegislativeActions: js(m.NonLegislativeActions),
		HasRoadmap:            m.HasRoadmap,
		HasWorkshop:           m.HasWorkshop,
		HasPartnership:        m.HasPartnershipPrograms,
		CourtCases:            js(m.CourtCases),
		ReferencedLegislation: js(m.ReferencedLegislation),
		FollowupEvents:        m.FollowupEvents,
		LatestUpdateDate:      dateString(m.LatestUpdateDate),
		MostFutureDate:        dateString(m.MostFutureDate),
		SourceTextSections:    js(m.Sections),
		Sources:               strings.Join(sources, "|"),
		Warnings:              len(m.Warnings),
		Issues:                js(m.Issues),
	}
	if err != nil {
		return Row{}, eris.Wrapf(err, "export: flatten case %s", m.CaseID)
	}
	return r, nil
}

func isEmptyCollection(v any) bool {
	switch c := v.(type) {
	case []string:
		return len(c) == 0
	case []model.Action:
		return len(c) == 0
	case []model.FieldIssue:
		return len(c) == 0
	case model.Deadlines:
		return len(c) == 0
	case map[string]string:
		return len(c) == 0
	}
	return false
}

func dateString(d *model.Date) string {
	if d == nil {
		return ""
	}
	return d.String()
}

// Rows flattens records in order.
func Rows(records []model.MergedRecord) ([]Row, error) {
	rows := make([]Row, 0, len(records))
	for i := range records {
		r, err := NewRow(&records[i])
		if err != nil {
			return nil, err
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// WriteCSV writes one row per record with a header line.
func WriteCSV(w io.Writer, records []model.MergedRecord) error {
	rows, err := Rows(records)
	if err != nil {
		return err
	}
	return encodeRows(w, rows)
}

func encodeRows(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	enc.AutoHeader = false
	if err := enc.EncodeHeader(Row{}); err != nil {
		return eris.Wrap(err, "export: encode csv header")
	}
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return eris.Wrapf(err, "export: encode csv row %s", r.CaseID)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// table renders rows as string cells, header first, through the CSV encoding
// so every format flattens identically.
func table(rows []Row) ([][]string, error) {
	var buf bytes.Buffer
	if err := encodeRows(&buf, rows); err != nil {
		return nil, err
	}
	cells, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "export: reread rows")
	}
	return cells, nil
}

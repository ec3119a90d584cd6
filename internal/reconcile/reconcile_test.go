package reconcile

import (
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/eci-tracker/internal/model"
)

func d(y int, m time.Month, day int) *model.Date {
	v := model.NewDate(y, m, day)
	return &v
}

func responseRecord() *model.CaseRecord {
	return &model.CaseRecord{
		CaseID: "ECI(2019)000007",
		Title:  "End the Cage Age",
		Links: model.DocumentLinks{
			Initiative:    "https://citizens-initiative.europa.eu/initiatives/details/2018/000004_en",
			Response:      "https://ec.europa.eu/reply",
			HearingVideos: []string{"https://www.europarl.europa.eu/hearing-1"},
		},
		Sections: map[string]string{
			model.SectionSubmission: "submitted on 2 october 2020.",
			model.SectionResponse:   "the commission committed to table a proposal by end of 2023.",
		},
		Status:         model.StatusCommitted,
		StatusLabel:    model.StatusCommitted.Label(),
		StatusEvidence: []string{"The Commission committed to table a proposal by end of 2023."},
		PromisedNewLaw: true,
		Commitments:    "The Commission committed to table a proposal by end of 2023.",
		Deadlines: model.Deadlines{
			*d(2023, time.December, 31): "The Commission committed to table a proposal by end of 2023.",
		},
		LegislativeActions: []model.Action{
			{Type: "Legislative Proposal", Description: "Proposal on cages", Status: model.ActionPlanned, DocumentURL: "response"},
		},
		Dates: model.ProceduralDates{
			Submission:    d(2020, time.October, 2),
			Applicability: d(2021, time.March, 12),
		},
		ReferencedLegislation: []string{"Directive 1999/74/EC"},
		LatestUpdateDate:      d(2021, time.June, 30),
		MostFutureDate:        d(2023, time.December, 31),
	}
}

func followupRecord() *model.CaseRecord {
	return &model.CaseRecord{
		CaseID: "ECI(2019)000007",
		Title:  "End the Cage Age (follow-up)",
		Links: model.DocumentLinks{
			FollowupWebsite: "https://food.ec.europa.eu/cages",
			HearingVideos:   []string{"HTTPS://www.europarl.europa.eu/hearing-1 ", "https://www.europarl.europa.eu/hearing-2"},
		},
		Sections: map[string]string{
			model.SectionResponse: "follow-up copy of the response.",
			model.SectionUpdates:  "a public consultation closed on 21 october 2022.",
		},
		Status:         model.StatusAssessmentPending,
		StatusLabel:    model.StatusAssessmentPending.Label(),
		StatusEvidence: []string{"The impact assessment is ongoing."},
		Commitments:    "The Commission will present the proposal in 2026.",
		HasRoadmap:     true,
		Deadlines: model.Deadlines{
			*d(2023, time.December, 31): "The proposal was expected by end of 2023.",
			*d(2026, time.December, 31): "The Commission will present the proposal in 2026.",
		},
		LegislativeActions: []model.Action{
			{Type: "Legislative Proposal", Description: "Proposal on cages", Status: model.ActionPlanned, DocumentURL: "followup"},
			{Type: "Impact Assessment", Description: "Impact assessment", Status: model.ActionPlanned},
		},
		Dates: model.ProceduralDates{
			Submission:    d(2020, time.November, 1),
			Applicability: d(2021, time.March, 12),
		},
		ReferencedLegislation: []string{"directive 1999/74/ec", "Regulation (EC) No 1/2005"},
		LatestUpdateDate:      d(2022, time.October, 21),
		MostFutureDate:        d(2026, time.December, 31),
		Issues:                []model.FieldIssue{{Field: "submission_text", Error: "section \"submission\" not found"}},
	}
}

func TestPolicies_Table(t *testing.T) {
	table := Policies()
	require.Len(t, table, 36)

	names := map[string]bool{}
	used := map[Policy]int{}
	for _, f := range table {
		assert.False(t, names[f.Name], "duplicate field %s", f.Name)
		names[f.Name] = true
		used[f.Policy]++
		assert.NotNil(t, f.merge, f.Name)
	}
	for _, p := range []Policy{KeepPrimary, UnionCollection, PreferSecondary, LogicalOr, MaxDate, LabeledConcat} {
		assert.Positive(t, used[p], "policy %s unused", p)
	}

	table[0].Name = "mutated"
	assert.Equal(t, "case_id", Policies()[0].Name)
}

func TestReconcile_FullMerge(t *testing.T) {
	m, err := Reconcile(responseRecord(), followupRecord())
	require.NoError(t, err)

	want := model.CaseRecord{
		CaseID: "ECI(2019)000007",
		Title:  "End the Cage Age",
		Links: model.DocumentLinks{
			Initiative:      "https://citizens-initiative.europa.eu/initiatives/details/2018/000004_en",
			Response:        "https://ec.europa.eu/reply",
			FollowupWebsite: "https://food.ec.europa.eu/cages",
			HearingVideos:   []string{"https://www.europarl.europa.eu/hearing-1", "https://www.europarl.europa.eu/hearing-2"},
		},
		Sections: map[string]string{
			model.SectionSubmission: "submitted on 2 october 2020.",
			model.SectionResponse:   "the commission committed to table a proposal by end of 2023.",
			model.SectionUpdates:    "a public consultation closed on 21 october 2022.",
		},
		Status:         model.StatusAssessmentPending,
		StatusLabel:    model.StatusAssessmentPending.Label(),
		StatusEvidence: []string{"The impact assessment is ongoing."},
		PromisedNewLaw: true,
		Commitments: "Original Commitments:\nThe Commission committed to table a proposal by end of 2023.\n\n" +
			"Current Commitments:\nThe Commission will present the proposal in 2026.",
		Deadlines: model.Deadlines{
			*d(2023, time.December, 31): "Original Deadline:\nThe Commission committed to table a proposal by end of 2023.\n\n" +
				"Current Deadline:\nThe proposal was expected by end of 2023.",
			*d(2026, time.December, 31): "The Commission will present the proposal in 2026.",
		},
		LegislativeActions: []model.Action{
			{Type: "Legislative Proposal", Description: "Proposal on cages", Status: model.ActionPlanned, DocumentURL: "response"},
			{Type: "Impact Assessment", Description: "Impact assessment", Status: model.ActionPlanned},
		},
		Dates: model.ProceduralDates{
			Submission:    d(2020, time.October, 2),
			Applicability: d(2021, time.March, 12),
		},
		HasRoadmap:            true,
		ReferencedLegislation: []string{"Directive 1999/74/EC", "Regulation (EC) No 1/2005"},
		LatestUpdateDate:      d(2022, time.October, 21),
		MostFutureDate:        d(2026, time.December, 31),
		Issues:                []model.FieldIssue{{Field: "followup.submission_text", Error: "section \"submission\" not found"}},
	}
	if diff := cmp.Diff(want, m.CaseRecord, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("merged record mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []model.SourceKind{model.SourceResponse, model.SourceFollowup}, m.Sources)
	require.Len(t, m.Warnings, 1)
	assert.Equal(t, "technical_status", m.Warnings[0].Field)
	assert.Equal(t, model.WarningStatusRegressed, m.Warnings[0].Code)
}

func TestReconcile_MaxDateWithWarning(t *testing.T) {
	tests := []struct {
		name     string
		p, s     *model.Date
		want     *model.Date
		warnings int
	}{
		{"forward", d(2024, time.February, 9), d(2025, time.August, 1), d(2025, time.August, 1), 0},
		{"backward", d(2025, time.August, 1), d(2024, time.February, 9), d(2025, time.August, 1), 1},
		{"equal", d(2025, time.August, 1), d(2025, time.August, 1), d(2025, time.August, 1), 0},
		{"response only", d(2025, time.August, 1), nil, d(2025, time.August, 1), 0},
		{"followup only", nil, d(2024, time.February, 9), d(2024, time.February, 9), 0},
		{"neither", nil, nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &model.CaseRecord{CaseID: "X", Dates: model.ProceduralDates{Applicability: tt.p}}
			s := &model.CaseRecord{CaseID: "X", Dates: model.ProceduralDates{Applicability: tt.s}}
			m, err := Reconcile(p, s)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Dates.Applicability)
			require.Len(t, m.Warnings, tt.warnings)
			if tt.warnings > 0 {
				assert.Equal(t, "applicability_date", m.Warnings[0].Field)
				assert.Equal(t, model.WarningDateRegressed, m.Warnings[0].Code)
			}
		})
	}
}

func TestReconcile_LogicalOr(t *testing.T) {
	for _, tt := range []struct{ p, s, want bool }{
		{true, false, true},
		{false, true, true},
		{true, true, true},
		{false, false, false},
	} {
		p := &model.CaseRecord{CaseID: "X", HasWorkshop: tt.p, Rejection: model.Rejection{IsRejected: tt.p}}
		s := &model.CaseRecord{CaseID: "X", HasWorkshop: tt.s, Rejection: model.Rejection{IsRejected: tt.s}}
		m, err := Reconcile(p, s)
		require.NoError(t, err)
		assert.Equal(t, tt.want, m.HasWorkshop, "%v|%v", tt.p, tt.s)
		assert.Equal(t, tt.want, m.Rejection.IsRejected, "%v|%v", tt.p, tt.s)
	}
}

func TestReconcile_StatusTransitions(t *testing.T) {
	tests := []struct {
		p, s    model.TechnicalStatus
		want    model.TechnicalStatus
		regress bool
	}{
		{model.StatusCommitted, model.StatusAdopted, model.StatusAdopted, false},
		{model.StatusCommitted, model.StatusCommitted, model.StatusCommitted, false},
		{model.StatusAdopted, model.StatusNonLegislativeAction, model.StatusNonLegislativeAction, true},
		{model.StatusRejected, model.StatusRejectedWithActions, model.StatusRejectedWithActions, false},
		{model.StatusRoadmapDevelopment, "", model.StatusRoadmapDevelopment, false},
		{"", model.StatusApplicable, model.StatusApplicable, false},
	}
	for _, tt := range tests {
		p := &model.CaseRecord{CaseID: "X", Status: tt.p}
		s := &model.CaseRecord{CaseID: "X", Status: tt.s}
		m, err := Reconcile(p, s)
		require.NoError(t, err)
		assert.Equal(t, tt.want, m.Status, "%s -> %s", tt.p, tt.s)
		assert.Equal(t, tt.regress, len(m.Warnings) == 1, "%s -> %s", tt.p, tt.s)
	}
}

func TestReconcile_LabeledConcat(t *testing.T) {
	tests := []struct {
		p, s, want string
	}{
		{"", "", ""},
		{"A.", "", "A."},
		{"", "B.", "B."},
		{"A.", "A.", "A."},
		{"A.", "B.", "Original Events:\nA.\n\nCurrent Events:\nB."},
	}
	for _, tt := range tests {
		m, err := Reconcile(
			&model.CaseRecord{CaseID: "X", FollowupEvents: tt.p},
			&model.CaseRecord{CaseID: "X", FollowupEvents: tt.s},
		)
		require.NoError(t, err)
		assert.Equal(t, tt.want, m.FollowupEvents)
	}

	m, err := Reconcile(
		&model.CaseRecord{CaseID: "X", Rejection: model.Rejection{IsRejected: true, Reasoning: "Already covered."}},
		&model.CaseRecord{CaseID: "X", Rejection: model.Rejection{Reasoning: "No new law."}},
	)
	require.NoError(t, err)
	assert.Equal(t, "Original Rejection Reasoning:\nAlready covered.\n\nCurrent Rejection Reasoning:\nNo new law.", m.Rejection.Reasoning)
}

func TestReconcile_SingleSide(t *testing.T) {
	p := responseRecord()
	m, err := Reconcile(p, nil)
	require.NoError(t, err)
	assert.Empty(t, m.Warnings)
	assert.Equal(t, []model.SourceKind{model.SourceResponse}, m.Sources)
	if diff := cmp.Diff(*p, m.CaseRecord, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("response-only merge changed the record (-want +got):\n%s", diff)
	}

	s := followupRecord()
	m, err = Reconcile(nil, s)
	require.NoError(t, err)
	assert.Empty(t, m.Warnings)
	assert.Equal(t, s.Title, m.Title, "keep_primary falls back to the follow-up when the response is absent")
	assert.Equal(t, s.Status, m.Status)
	assert.Equal(t, []model.SourceKind{model.SourceFollowup}, m.Sources)
}

func TestReconcile_Errors(t *testing.T) {
	_, err := Reconcile(nil, nil)
	assert.Error(t, err)

	_, err = Reconcile(&model.CaseRecord{CaseID: "A"}, &model.CaseRecord{CaseID: "B"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "case id mismatch")
}

func TestReconcile_FieldOrderIndependent(t *testing.T) {
	forward, err := merge(responseRecord(), followupRecord(), fields)
	require.NoError(t, err)

	reversed := slices.Clone(fields)
	slices.Reverse(reversed)
	backward, err := merge(responseRecord(), followupRecord(), reversed)
	require.NoError(t, err)

	if diff := cmp.Diff(forward.CaseRecord, backward.CaseRecord); diff != "" {
		t.Errorf("field order changed the merge (-forward +reversed):\n%s", diff)
	}
	assert.ElementsMatch(t, forward.Warnings, backward.Warnings)
}

func TestReconcile_RejectionIsMonotonic(t *testing.T) {
	p := &model.CaseRecord{CaseID: "X", Status: model.StatusRejected, Rejection: model.Rejection{IsRejected: true}}
	s := &model.CaseRecord{CaseID: "X", Status: model.StatusCommitted, PromisedNewLaw: true}

	m, err := Reconcile(p, s)
	require.NoError(t, err)
	assert.True(t, m.Rejection.IsRejected)

	later := &model.CaseRecord{CaseID: "X", Status: model.StatusAdopted}
	again, err := Reconcile(&m.CaseRecord, later)
	require.NoError(t, err)
	assert.True(t, again.Rejection.IsRejected)
	assert.True(t, again.PromisedNewLaw)
	assert.Equal(t, model.StatusAdopted, again.Status)
}

func TestReconcile_RemergeKeepsIssueOrigin(t *testing.T) {
	p := &model.CaseRecord{CaseID: "X", Issues: []model.FieldIssue{{Field: "deadlines", Error: "section missing"}}}
	s := &model.CaseRecord{CaseID: "X", Issues: []model.FieldIssue{{Field: "hearing_date", Error: "no date"}}}

	m, err := Reconcile(p, s)
	require.NoError(t, err)
	assert.Empty(t, m.Source)

	later := &model.CaseRecord{CaseID: "X", Issues: []model.FieldIssue{{Field: "title", Error: "empty"}}}
	again, err := Reconcile(&m.CaseRecord, later)
	require.NoError(t, err)
	assert.Equal(t, []model.FieldIssue{
		{Field: "response.deadlines", Error: "section missing"},
		{Field: "followup.hearing_date", Error: "no date"},
		{Field: "followup.title", Error: "empty"},
	}, again.Issues)
}

func TestReconcileAll_PairsByCaseID(t *testing.T) {
	responses := []model.CaseRecord{
		{CaseID: "C", Title: "c"},
		{CaseID: "A", Title: "a"},
		{CaseID: "A", Title: "duplicate"},
	}
	followups := []model.CaseRecord{
		{CaseID: "A", HasRoadmap: true},
		{CaseID: "B", Title: "b"},
	}

	out := ReconcileAll(responses, followups)
	require.Len(t, out, 3)
	assert.Equal(t, "A", out[0].CaseID)
	assert.Equal(t, "a", out[0].Title)
	assert.True(t, out[0].HasRoadmap)
	assert.Len(t, out[0].Sources, 2)

	assert.Equal(t, "B", out[1].CaseID)
	assert.Equal(t, []model.SourceKind{model.SourceFollowup}, out[1].Sources)
	assert.Equal(t, "C", out[2].CaseID)
	assert.Equal(t, []model.SourceKind{model.SourceResponse}, out[2].Sources)

	assert.Empty(t, ReconcileAll(nil, nil))
}

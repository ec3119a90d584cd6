package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/eci-tracker/internal/model"
)

func sampleMerged() []model.MergedRecord {
	deadline := model.NewDate(2026, 12, 31)
	return []model.MergedRecord{
		{
			CaseRecord: model.CaseRecord{
				CaseID:         "2018/000004",
				Title:          "End the Cage Age",
				Status:         model.StatusCommitted,
				StatusLabel:    model.StatusCommitted.Label(),
				StatusEvidence: []string{"The Commission will table a legislative proposal by end of 2026."},
				PromisedNewLaw: true,
				Deadlines:      model.Deadlines{deadline: "proposal by end of 2026"},
				CourtCases:     []string{"C-424/13"},
				Dates:          model.ProceduralDates{Submission: model.DatePtr(model.NewDate(2020, 10, 2))},
				MostFutureDate: &deadline,
				Issues:         []model.FieldIssue{{Field: "response.hearing_date", Error: "not found"}},
			},
			Warnings: []model.Warning{{
				Field: "technical_status", Code: model.WarningStatusRegressed, Message: "status moved backwards from adopted to committed",
			}},
			Sources: []model.SourceKind{model.SourceResponse, model.SourceFollowup},
		},
		{
			CaseRecord: model.CaseRecord{
				CaseID: "2012/000003",
				Status: model.StatusApplicable,
			},
			Sources: []model.SourceKind{model.SourceResponse},
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatJSON, false},
		{"json", FormatJSON, false},
		{" CSV ", FormatCSV, false},
		{"xlsx", FormatXLSX, false},
		{"parquet", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatForPath(t *testing.T) {
	assert.Equal(t, FormatCSV, FormatForPath("out/cases.CSV", FormatJSON))
	assert.Equal(t, FormatXLSX, FormatForPath("cases.xlsx", FormatJSON))
	assert.Equal(t, FormatJSON, FormatForPath("cases.json", FormatCSV))
	assert.Equal(t, FormatCSV, FormatForPath("cases", FormatCSV))
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, sampleMerged()))

	var got []model.MergedRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "2018/000004", got[0].CaseID)
	assert.Equal(t, model.Deadlines{model.NewDate(2026, 12, 31): "proposal by end of 2026"}, got[0].Deadlines)
	assert.Len(t, got[0].Warnings, 1)
}

func TestWriteJSON_EmptyIsArray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleMerged()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	col := map[string]int{}
	for i, h := range rows[0] {
		col[h] = i
	}
	assert.Equal(t, 0, col["case_id"])
	assert.Contains(t, col, "source_text_sections")

	first := rows[1]
	assert.Equal(t, "committed", first[col["technical_status"]])
	assert.Equal(t, "Law Promised", first[col["status_label"]])
	assert.Equal(t, "true", first[col["promised_new_law"]])
	assert.Equal(t, "2020-10-02", first[col["submission_date"]])
	assert.Equal(t, "2026-12-31", first[col["most_future_date"]])
	assert.Equal(t, `{"2026-12-31":"proposal by end of 2026"}`, first[col["deadlines"]])
	assert.Equal(t, `["C-424/13"]`, first[col["court_cases"]])
	assert.Equal(t, "response|followup", first[col["sources"]])
	assert.Equal(t, "1", first[col["warnings"]])

	second := rows[2]
	assert.Empty(t, second[col["deadlines"]])
	assert.Empty(t, second[col["submission_date"]])
	assert.Equal(t, "0", second[col["warnings"]])
}

func TestWriteCSV_HeaderOnlyWhenEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "case_id", rows[0][0])
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, sampleMerged()))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)

	cases, ok := f.Sheet[SheetCases]
	require.True(t, ok)
	require.Len(t, cases.Rows, 3)
	assert.Equal(t, "case_id", cases.Rows[0].Cells[0].String())
	assert.Equal(t, "2018/000004", cases.Rows[1].Cells[0].String())

	warnings, ok := f.Sheet[SheetWarnings]
	require.True(t, ok)
	require.Len(t, warnings.Rows, 2)
	assert.Equal(t, "status_regressed", warnings.Rows[1].Cells[2].String())

	issues, ok := f.Sheet[SheetIssues]
	require.True(t, ok)
	require.Len(t, issues.Rows, 2)
	assert.Equal(t, "response.hearing_date", issues.Rows[1].Cells[1].String())
}

func TestWriteFile_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cases.csv")
	require.NoError(t, WriteFile(path, FormatCSV, sampleMerged()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "2018/000004")
}

func TestWrite_UnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, Format("parquet"), nil)
	require.Error(t, err)
}

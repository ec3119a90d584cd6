package export

import (
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/eci-tracker/internal/model"
)

// Sheet names in the workbook.
const (
	SheetCases    = "cases"
	SheetWarnings = "warnings"
	SheetIssues   = "issues"
)

// maxCellLen is the Excel limit on characters per cell.
const maxCellLen = 32767

// WriteXLSX writes a workbook with one row per case, one row per
// reconciliation warning, and one row per extraction issue.
func WriteXLSX(w io.Writer, records []model.MergedRecord) error {
	rows, err := Rows(records)
	if err != nil {
		return err
	}
	cases, err := table(rows)
	if err != nil {
		return err
	}

	warnings := [][]string{{"case_id", "field", "code", "message"}}
	issues := [][]string{{"case_id", "field", "error"}}
	for _, m := range records {
		for _, wn := range m.Warnings {
			warnings = append(warnings, []string{m.CaseID, wn.Field, string(wn.Code), wn.Message})
		}
		for _, is := range m.Issues {
			issues = append(issues, []string{m.CaseID, is.Field, is.Error})
		}
	}

	f := xlsx.NewFile()
	for _, s := range []struct {
		name  string
		cells [][]string
	}{
		{SheetCases, cases},
		{SheetWarnings, warnings},
		{SheetIssues, issues},
	} {
		if err := addSheet(f, s.name, s.cells); err != nil {
			return err
		}
	}
	return eris.Wrap(f.Write(w), "xlsx: write workbook")
}

func addSheet(f *xlsx.File, name string, cells [][]string) error {
	sheet, err := f.AddSheet(name)
	if err != nil {
		return eris.Wrapf(err, "xlsx: add sheet %s", name)
	}
	for _, rowData := range cells {
		row := sheet.AddRow()
		for _, v := range rowData {
			if len(v) > maxCellLen {
				v = strings.ToValidUTF8(v[:maxCellLen], "")
			}
			row.AddCell().SetString(v)
		}
	}
	return nil
}

// Package export writes merged records as JSON, CSV, or XLSX.
package export

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/eci-tracker/internal/model"
)

// Format is an output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a format name. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatCSV, FormatXLSX:
		return f, nil
	default:
		return "", eris.Errorf("export: unknown format %q (want json, csv or xlsx)", s)
	}
}

// FormatForPath picks the format from a file extension, falling back to def.
func FormatForPath(path string, def Format) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".csv":
		return FormatCSV
	case ".xlsx":
		return FormatXLSX
	}
	return def
}

// Write encodes records to w in the given format.
func Write(w io.Writer, format Format, records []model.MergedRecord) error {
	switch format {
	case FormatJSON, "":
		if records == nil {
			records = []model.MergedRecord{}
		}
		return WriteJSON(w, records)
	case FormatCSV:
		return WriteCSV(w, records)
	case FormatXLSX:
		return WriteXLSX(w, records)
	}
	return eris.Errorf("export: unknown format %q", format)
}

// WriteFile creates path (and its directory) and writes records to it.
func WriteFile(path string, format Format, records []model.MergedRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "export: create output dir")
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "export: create output file")
	}
	if err := Write(f, format, records); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrap(f.Close(), "export: close output file")
}

// WriteJSON writes records as an indented JSON array.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "export: encode json")
}

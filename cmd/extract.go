package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/eci-tracker/internal/export"
	"github.com/sells-group/eci-tracker/internal/model"
)

var extractCmd = &cobra.Command{
	Use:   "extract <document.html>",
	Short: "Extract one source document into a case record",
	Long:  "Parses a saved Commission response or follow-up page and prints the extracted case record as JSON. Use - to read from stdin.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		caseID, _ := cmd.Flags().GetString("case-id")
		kind, _ := cmd.Flags().GetString("kind")
		out, _ := cmd.Flags().GetString("out")

		if caseID == "" {
			caseID = caseIDFromPath(args[0])
		}
		if caseID == "" {
			return eris.New("extract: --case-id is required when reading stdin")
		}
		source := model.SourceKind(kind)
		if !source.Valid() {
			return eris.Errorf("extract: --kind must be response or followup, got %q", kind)
		}

		ex, err := initExtractor()
		if err != nil {
			return err
		}

		var r io.Reader = os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return eris.Wrap(err, "extract: open document")
			}
			defer f.Close() //nolint:errcheck
			r = f
		}

		rec, err := ex.ExtractHTML(r, caseID, source)
		if err != nil {
			return eris.Wrapf(err, "extract: case %s", caseID)
		}
		for _, is := range rec.Issues {
			zap.L().Warn("extract: field not extracted",
				zap.String("case_id", caseID),
				zap.String("field", is.Field),
				zap.String("error", is.Error),
			)
		}

		return writeJSONOutput(out, rec)
	},
}

// caseIDFromPath derives a case id from an input layout path such as
// input/2018/000004/response.html.
func caseIDFromPath(p string) string {
	if p == "-" {
		return ""
	}
	dir := filepath.Dir(filepath.Clean(p))
	parent, leaf := filepath.Base(filepath.Dir(dir)), filepath.Base(dir)
	if leaf == "." || leaf == string(filepath.Separator) {
		return ""
	}
	if parent == "." || parent == string(filepath.Separator) {
		return leaf
	}
	return parent + "/" + leaf
}

// writeJSONOutput writes v as indented JSON to path, or stdout when path is empty.
func writeJSONOutput(path string, v any) error {
	if path == "" {
		return export.WriteJSON(os.Stdout, v)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "create output directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "create output file")
	}
	if err := export.WriteJSON(f, v); err != nil {
		_ = f.Close()
		return err
	}
	return eris.Wrap(f.Close(), "close output file")
}

func init() {
	extractCmd.Flags().String("case-id", "", "case id (default: derived from the document path)")
	extractCmd.Flags().String("kind", string(model.SourceResponse), "source kind: response or followup")
	extractCmd.Flags().StringP("out", "o", "", "write the record to this file instead of stdout")
	rootCmd.AddCommand(extractCmd)
}

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/eci-tracker/internal/export"
	"github.com/sells-group/eci-tracker/internal/model"
	"github.com/sells-group/eci-tracker/internal/reconcile"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Merge response and follow-up record sets into one record per case",
	Long:  "Reads two JSON files of extracted case records (an array or a single record each) and reconciles them by case id.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		responsesPath, _ := cmd.Flags().GetString("responses")
		followupsPath, _ := cmd.Flags().GetString("followups")
		out, _ := cmd.Flags().GetString("out")
		formatName, _ := cmd.Flags().GetString("format")
		save, _ := cmd.Flags().GetBool("save")

		if responsesPath == "" && followupsPath == "" {
			return eris.New("reconcile: at least one of --responses or --followups is required")
		}

		responses, err := readCaseRecords(responsesPath)
		if err != nil {
			return err
		}
		followups, err := readCaseRecords(followupsPath)
		if err != nil {
			return err
		}

		start := time.Now()
		merged := reconcile.ReconcileAll(responses, followups)

		stats := &model.RunStats{Cases: len(merged), Succeeded: len(merged)}
		for _, m := range merged {
			stats.Warnings += len(m.Warnings)
		}
		stats.DurationMs = time.Since(start).Milliseconds()

		zap.L().Info("reconcile complete",
			zap.Int("responses", len(responses)),
			zap.Int("followups", len(followups)),
			zap.Int("cases", stats.Cases),
			zap.Int("warnings", stats.Warnings),
		)

		if save {
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			run, err := st.CreateRun(ctx, model.RunKindReconcile, responsesPath+"|"+followupsPath)
			if err != nil {
				return err
			}
			if err := st.SaveMergedRecords(ctx, run.ID, merged); err != nil {
				return err
			}
			if err := st.CompleteRun(ctx, run.ID, stats); err != nil {
				return err
			}
			zap.L().Info("saved reconcile run", zap.String("run_id", run.ID))
		}

		return writeMerged(out, formatName, merged)
	},
}

// readCaseRecords reads an array of records, or a single record, from path.
// An empty path yields no records.
func readCaseRecords(path string) ([]model.CaseRecord, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: read %s", path)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' {
		var recs []model.CaseRecord
		if err := json.Unmarshal(data, &recs); err != nil {
			return nil, eris.Wrapf(err, "reconcile: parse %s", path)
		}
		return recs, nil
	}
	var rec model.CaseRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, eris.Wrapf(err, "reconcile: parse %s", path)
	}
	return []model.CaseRecord{rec}, nil
}

// writeMerged writes records to path. The format comes from formatName when
// set, else the path's extension, else the configured default. An empty path
// writes to stdout.
func writeMerged(path, formatName string, records []model.MergedRecord) error {
	format, err := export.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}
	if path != "" {
		format = export.FormatForPath(path, format)
	}
	if formatName != "" {
		if format, err = export.ParseFormat(formatName); err != nil {
			return err
		}
	}

	if path == "" {
		return export.Write(os.Stdout, format, records)
	}
	return export.WriteFile(path, format, records)
}

func init() {
	reconcileCmd.Flags().String("responses", "", "JSON file of records extracted from response documents")
	reconcileCmd.Flags().String("followups", "", "JSON file of records extracted from follow-up documents")
	reconcileCmd.Flags().StringP("out", "o", "", "output file (default stdout)")
	reconcileCmd.Flags().String("format", "", "output format: json, csv or xlsx (default from config or file extension)")
	reconcileCmd.Flags().Bool("save", false, "record the merged records as a reconcile run in the store")
	rootCmd.AddCommand(reconcileCmd)
}

package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/eci-tracker/internal/export"
	"github.com/sells-group/eci-tracker/internal/pipeline"
	"github.com/sells-group/eci-tracker/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Extract and reconcile every case in the input directory",
	Long: "Walks the input directory for <case id>/response.html and <case id>/followup.html, " +
		"extracts both sides of each case concurrently, reconciles them, stores the run, " +
		"and writes the merged records to the output directory.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		dir, _ := cmd.Flags().GetString("dir")
		outDir, _ := cmd.Flags().GetString("out")
		formatName, _ := cmd.Flags().GetString("format")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		noStore, _ := cmd.Flags().GetBool("no-store")

		if dir != "" {
			cfg.Input.Dir = dir
		}
		if outDir != "" {
			cfg.Output.Dir = outDir
		}
		if formatName != "" {
			cfg.Output.Format = formatName
		}
		if concurrency > 0 {
			cfg.Batch.MaxConcurrentCases = concurrency
		}
		if err := cfg.Validate("batch"); err != nil {
			return err
		}
		format, err := export.ParseFormat(cfg.Output.Format)
		if err != nil {
			return err
		}

		ex, err := initExtractor()
		if err != nil {
			return err
		}

		var st store.Store
		if !noStore {
			st, err = initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
		}

		inputs, err := pipeline.DiscoverInputs(cfg.Input.Dir, cfg.Input.ResponseFile, cfg.Input.FollowupFile)
		if err != nil {
			return err
		}
		if len(inputs) == 0 {
			return eris.Errorf("run: no cases found under %s", cfg.Input.Dir)
		}
		zap.L().Info("starting batch",
			zap.String("dir", cfg.Input.Dir),
			zap.Int("cases", len(inputs)),
			zap.Int("concurrency", cfg.Batch.MaxConcurrentCases),
		)

		res, err := pipeline.New(ex, st).RunBatch(ctx, cfg.Input.Dir, inputs, cfg.Batch.MaxConcurrentCases)
		if err != nil {
			return err
		}

		outPath := filepath.Join(cfg.Output.Dir, "cases."+string(format))
		if err := export.WriteFile(outPath, format, res.Merged()); err != nil {
			return err
		}
		if failures := res.Failures(); len(failures) > 0 {
			if err := writeJSONOutput(filepath.Join(cfg.Output.Dir, "failures.json"), failures); err != nil {
				return err
			}
		}

		fmt.Fprintf(os.Stderr, "run %s: %d cases, %d reconciled, %d failed, %d warnings -> %s\n",
			truncateID(res.RunID), res.Stats.Cases, res.Stats.Succeeded, res.Stats.Failed, res.Stats.Warnings, outPath)
		return nil
	},
}

func init() {
	runCmd.Flags().String("dir", "", "input directory (default from config)")
	runCmd.Flags().StringP("out", "o", "", "output directory (default from config)")
	runCmd.Flags().String("format", "", "output format: json, csv or xlsx (default from config)")
	runCmd.Flags().Int("concurrency", 0, "cases processed in parallel (default from config)")
	runCmd.Flags().Bool("no-store", false, "do not record the run in the store")
	rootCmd.AddCommand(runCmd)
}

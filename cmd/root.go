package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/eci-tracker/internal/config"
)

var (
	cfg     *config.Config
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "eci-tracker",
	Short: "European Citizens' Initiative accountability tracker",
	Long: `Extracts the Commission's answer and follow-up pages for each European
Citizens' Initiative, classifies the outcome and reconciles both sources into
one record per case.

Settings come from config.yaml (or --config), ECI_* environment variables
and the persistent flags below, in increasing order of precedence.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.LoadWith(cfgFile, cmd.Flags())
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		zap.L().Debug("config loaded",
			zap.String("command", cmd.CommandPath()),
			zap.String("store", cfg.Store.Driver),
			zap.String("rules", rulesLabel(cfg.Rules.Path)),
		)
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ./config.yaml)")
	pf.String("rules", "", "classification rule table (default: embedded)")
	pf.String("store", "", "run store driver: sqlite or postgres")
	pf.String("database-url", "", "sqlite file or postgres connection string")
	pf.String("log-level", "", "log level: debug, info, warn or error")
	pf.String("log-format", "", "log format: json or console")
}

// rulesLabel names a rule table for logs and messages.
func rulesLabel(path string) string {
	if path == "" {
		return "embedded default"
	}
	return path
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/eci-tracker/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and check classification rule tables",
}

var rulesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the rule table in effect (--rules, else embedded)",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		if cfg.Rules.Path == "" {
			_, err := os.Stdout.Write(rules.DefaultYAML())
			return err
		}
		data, err := os.ReadFile(cfg.Rules.Path)
		if err != nil {
			return eris.Wrap(err, "read rule table")
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Parse and validate a rule table (default: the one in effect)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		path := cfg.Rules.Path
		if len(args) == 1 {
			path = args[0]
		}
		rs, err := rules.Load(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s: ok (version %s, %d status rules, %d sections)\n",
			rulesLabel(path), rs.Version, len(rs.Status), len(rs.Sections))
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesShowCmd)
	rulesCmd.AddCommand(rulesValidateCmd)
	rootCmd.AddCommand(rulesCmd)
}

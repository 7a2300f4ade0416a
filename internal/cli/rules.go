package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"kpi-alerts/internal/rules"
)

var ruleSpec rules.Spec

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage detection rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active rules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RulesList()
	},
}

var rulesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a rule to the rules file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rule, err := getApp().RulesAdd(ruleSpec)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "added %s: %s\n", rule.Common().ID, rules.Label(rule))
		return nil
	},
}

var rulesRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a rule from the rules file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := getApp().RulesRemove(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
		return nil
	},
}

func init() {
	f := rulesAddCmd.Flags()
	f.StringVar(&ruleSpec.ID, "id", "", "Rule id (defaults to the next free r<N>)")
	f.StringVar(&ruleSpec.Type, "type", string(rules.KindZScore), "Rule type: zscore or pct_change")
	f.IntVar(&ruleSpec.Window, "window", 7, "Window in periods")
	f.Float64Var(&ruleSpec.Threshold, "threshold", 2, "z-score threshold (zscore)")
	f.Float64Var(&ruleSpec.ThresholdPct, "threshold-pct", 20, "Percent change threshold (pct_change)")
	f.StringVar(&ruleSpec.Direction, "direction", string(rules.Both), "Direction: both, up or down")
	f.StringVar(&ruleSpec.Severity, "severity", string(rules.Warn), "Severity: info, warn or crit")
	f.BoolVar(&ruleSpec.Notify, "notify", false, "Forward anomalies of this rule to alert channels")

	rulesCmd.AddCommand(rulesListCmd, rulesAddCmd, rulesRemoveCmd)
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"kpi-alerts/internal/app"
)

var (
	showTop     int
	showHistory int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Evaluate once and print anomalies, metric summaries and data quality",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showTop < 0 || showHistory < 0 {
			return fmt.Errorf("--top and --history cannot be negative")
		}

		opts := app.ShowOptions{
			Top:     showTop,
			History: showHistory,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showTop, "top", 0, "Number of highlighted anomalies (defaults to config)")
	showCmd.Flags().IntVar(&showHistory, "history", 0, "Also list the N most recent stored anomalies")
}

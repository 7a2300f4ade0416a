package cli

import (
	"github.com/spf13/cobra"

	"kpi-alerts/internal/app"
)

var (
	importSourceName string
	importDryRun     bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load the source into the observations table",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ImportOptions{
			SourceName: importSourceName,
			DryRun:     importDryRun,
		}

		return getApp().Import(cmd.Context(), opts)
	},
}

func init() {
	importCmd.Flags().StringVar(&importSourceName, "source-name", "", "Label stored with imported rows (defaults to the input path)")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Parse the source without writing to storage")
}

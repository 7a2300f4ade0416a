package cli

import (
	"github.com/spf13/cobra"

	"kpi-alerts/internal/app"
)

var (
	exportAnomaliesCSV string
	exportDataCSV      string
	exportPNGPath      string
	exportMetric       string
	exportMaxPoints    int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export anomalies and aggregated data as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			AnomaliesCSV: exportAnomaliesCSV,
			DataCSV:      exportDataCSV,
			PNGPath:      exportPNGPath,
			Metric:       exportMetric,
			MaxPoints:    exportMaxPoints,
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportAnomaliesCSV, "anomalies-csv", "", "Path to write anomalies CSV")
	exportCmd.Flags().StringVar(&exportDataCSV, "data-csv", "", "Path to write aggregated data CSV")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportMetric, "metric", "", "Restrict export to one metric")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data rows to export (defaults to config)")
}

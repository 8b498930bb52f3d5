package cli

import (
	"github.com/spf13/cobra"

	"revenue-analytics/internal/app"
)

var (
	exportChannel   string
	exportSegment   string
	exportForecast  string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export revenue history with a forecast and its scenarios as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			Channel:    exportChannel,
			Segment:    exportSegment,
			ForecastID: exportForecast,
			PNGPath:    exportPNGPath,
			CSVPath:    exportCSVPath,
			MaxPoints:  exportMaxPoints,
		}
		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportChannel, "channel", "", "Channel of the history series")
	exportCmd.Flags().StringVar(&exportSegment, "segment", "", "Segment of the history series")
	exportCmd.Flags().StringVar(&exportForecast, "forecast", "", "Forecast ID (defaults to the latest forecast)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points per series (defaults to config)")
}

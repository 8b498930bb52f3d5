package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"revenue-analytics/internal/app"
)

var (
	reportFormat string
	reportOutput string
	reportFrom   string
	reportTo     string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the consolidated revenue report",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ReportOptions{
			Format: reportFormat,
			Output: reportOutput,
		}

		if reportFrom != "" {
			from, err := time.Parse(time.RFC3339, reportFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = &from
		}

		if reportTo != "" {
			to, err := time.Parse(time.RFC3339, reportTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = &to
		}

		return getApp().Report(cmd.Context(), opts)
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportFormat, "format", "json", "Output format: json or yaml")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "Write the report to a file instead of stdout")
	reportCmd.Flags().StringVar(&reportFrom, "from", "", "Start timestamp for attribution figures (RFC3339)")
	reportCmd.Flags().StringVar(&reportTo, "to", "", "End timestamp for attribution figures (RFC3339)")
}

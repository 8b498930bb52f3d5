package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"revenue-analytics/internal/app"
)

var (
	showLimit int
)

var showCmd = &cobra.Command{
	Use:       "show [goals|alerts|channels|forecasts]",
	Short:     "Display goals, active alerts, channel metrics or forecasts",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"goals", "alerts", "channels", "forecasts"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit < 0 {
			return fmt.Errorf("--limit cannot be negative")
		}

		opts := app.ShowOptions{
			What:  "goals",
			Limit: showLimit,
		}
		if len(args) == 1 {
			opts.What = args[0]
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display (0 for all)")
}

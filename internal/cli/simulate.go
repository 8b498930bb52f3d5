package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"revenue-analytics/internal/app"
)

var (
	simulateCustomers int
	simulateDays      int
	simulateSeed      int64
	simulateChannels  []string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Feed a reproducible synthetic customer base through the framework",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateCustomers <= 0 || simulateDays <= 0 {
			return errors.New("--customers and --days must be greater than zero")
		}

		opts := app.SimulateOptions{
			Customers: simulateCustomers,
			Days:      simulateDays,
			Seed:      simulateSeed,
			Channels:  simulateChannels,
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().IntVar(&simulateCustomers, "customers", 200, "Number of synthetic customers")
	simulateCmd.Flags().IntVar(&simulateDays, "days", 30, "Days of activity to spread customers over")
	simulateCmd.Flags().Int64Var(&simulateSeed, "seed", 1, "Random seed")
	simulateCmd.Flags().StringSliceVar(&simulateChannels, "channels", nil, "Channels to draw from (defaults to search,social,email,display)")
}

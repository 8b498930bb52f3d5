package cli

import (
	"github.com/spf13/cobra"
)

var (
	runOnce         bool
	serveNoSchedule bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduled monitoring cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context(), runOnce)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the operation API with the monitoring cycle alongside",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Serve(cmd.Context(), !serveNoSchedule)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Run a single cycle and exit")
	serveCmd.Flags().BoolVar(&serveNoSchedule, "no-scheduler", false, "Serve the API without the monitoring cycle")
}

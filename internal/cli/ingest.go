package cli

import (
	"github.com/spf13/cobra"

	"revenue-analytics/internal/app"
)

var (
	ingestKind    string
	ingestChannel string
	ingestSegment string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.csv>",
	Short: "Load revenue history, touchpoints or conversions from a CSV file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.IngestOptions{
			Path:    args[0],
			Kind:    ingestKind,
			Channel: ingestChannel,
			Segment: ingestSegment,
		}
		return getApp().Ingest(cmd.Context(), opts)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestKind, "kind", app.IngestHistory, "Row kind: history, touchpoints or conversions")
	ingestCmd.Flags().StringVar(&ingestChannel, "channel", "", "Channel for history rows, or default channel for touchpoints")
	ingestCmd.Flags().StringVar(&ingestSegment, "segment", "", "Segment for history rows")
}

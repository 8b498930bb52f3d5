package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"revenue-analytics/internal/service"
)

var execParams string

var execCmd = &cobra.Command{
	Use:   "exec <operation>",
	Short: "Execute a single operation and print its JSON result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]any{}
		if execParams != "" {
			if err := json.Unmarshal([]byte(execParams), &params); err != nil {
				return fmt.Errorf("invalid --params value: %w", err)
			}
		}

		res, err := getApp().Exec(cmd.Context(), args[0], params)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
		if res["status"] != service.StatusSuccess {
			return errors.New("operation failed")
		}
		return nil
	},
}

func init() {
	execCmd.Flags().StringVar(&execParams, "params", "", "Operation parameters as a JSON object")
}

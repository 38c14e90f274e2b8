package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newServeCmd starts the HTTP API and the run dispatcher.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the run API until interrupted",
		Long: `Starts the HTTP API. Runs are started with POST /v1/runs, one at a time,
and their progress is exposed on /v1/runs/current and /metrics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Serve(cmd.Context()); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
}

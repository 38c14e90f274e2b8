package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newRunCmd processes the queue once and exits.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Processes the pending queue once",
		Long: `Fetches the pending identifiers from the configured queue endpoint,
enriches each one in turn and prints the run tally. Item failures are recorded
in the sheet; only a run that cannot start or read its queue exits non-zero.`,
		RunE: runOnceCommand,
	}
}

func runOnceCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	report, err := appInstance.RunOnce(cmd.Context())
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	appInstance.Logger().Info("Run command finished.",
		zap.String("run_id", report.RunID),
		zap.Int("total", report.Total),
	)
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d succeeded, %d failed, %d total\n",
		report.RunID, report.Succeeded, report.Failed, report.Total)
	if err != nil {
		return fmt.Errorf("write tally: %w", err)
	}
	return nil
}

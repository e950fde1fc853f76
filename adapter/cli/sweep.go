package cli

import (
	"fmt"

	entitlementCommands "github.com/pavelzhukov/raylink/internal/entitlement/application/commands"
	"github.com/spf13/cobra"
)

var sweepBatchSize int

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one expiration sweep pass",
	Long: `Scan for subscription windows past their expiry and close them,
emitting deprovision and notification events. The worker runs this on a
timer; the command exists for one-off runs and debugging.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.SweepExpirationsHandler == nil {
			return fmt.Errorf("application not initialized - database connection required")
		}

		result, err := app.SweepExpirationsHandler.Handle(cmd.Context(), entitlementCommands.SweepExpirationsCommand{
			BatchSize: sweepBatchSize,
		})
		if err != nil {
			return fmt.Errorf("sweep failed: %w", err)
		}

		fmt.Printf("scanned: %d\n", result.Scanned)
		fmt.Printf("expired: %d\n", result.Expired)
		if result.Failed > 0 {
			fmt.Printf("failed:  %d\n", result.Failed)
		}
		return nil
	},
}

func init() {
	sweepCmd.Flags().IntVar(&sweepBatchSize, "batch", 0, "max windows per pass (0 uses the default)")
	rootCmd.AddCommand(sweepCmd)
}

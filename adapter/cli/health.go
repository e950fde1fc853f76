package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check store connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil {
			return fmt.Errorf("app not initialized")
		}

		// A count touches the store through the same repository the
		// handlers use, so this fails exactly when they would.
		count, err := app.AccountRepo.Count(cmd.Context())
		if err != nil {
			return fmt.Errorf("store unreachable: %w", err)
		}

		fmt.Printf("ok (%d accounts)\n", count)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

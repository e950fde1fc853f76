package account

import (
	"fmt"

	"github.com/pavelzhukov/raylink/adapter/cli"
	entitlementCommands "github.com/pavelzhukov/raylink/internal/entitlement/application/commands"
	"github.com/spf13/cobra"
)

var (
	grantDays   int
	grantServer string
)

var grantCmd = &cobra.Command{
	Use:   "grant [telegram-id]",
	Short: "Grant subscription days to an account",
	Long: `Extend the account's active window by the given number of days, or
open a fresh window when none is active. Grants bypass payment and work
on banned accounts; lift the ban separately if the user should connect.

Examples:
  raylink account grant 123456789 --days 30
  raylink account grant 123456789 --days 7 --server nl-1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.GrantWindowHandler == nil {
			return fmt.Errorf("application not initialized - database connection required")
		}

		ctx := cmd.Context()
		acct, err := resolveAccount(ctx, app, args[0])
		if err != nil {
			return err
		}

		server, err := defaultServer(app, grantServer)
		if err != nil {
			return err
		}

		result, err := app.GrantWindowHandler.Handle(ctx, entitlementCommands.GrantWindowCommand{
			AccountID: acct.ID(),
			ServerID:  server,
			Days:      grantDays,
		})
		if err != nil {
			return fmt.Errorf("failed to grant: %w", err)
		}

		if result.Extended {
			fmt.Printf("extended window %s by %d days\n", result.WindowID, grantDays)
		} else {
			fmt.Printf("opened window %s for %d days on %s\n", result.WindowID, grantDays, server)
		}
		fmt.Printf("  expires: %s\n", result.ExpiresAt.Format("2006-01-02 15:04 MST"))

		return nil
	},
}

func init() {
	grantCmd.Flags().IntVarP(&grantDays, "days", "d", 30, "days to grant")
	grantCmd.Flags().StringVarP(&grantServer, "server", "s", "", "server id (defaults to the catalog default)")
}

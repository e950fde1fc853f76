package account

import (
	"errors"
	"fmt"

	"github.com/pavelzhukov/raylink/adapter/cli"
	entitlementCommands "github.com/pavelzhukov/raylink/internal/entitlement/application/commands"
	entitlementDomain "github.com/pavelzhukov/raylink/internal/entitlement/domain"
	"github.com/spf13/cobra"
)

var revokeServer string

var revokeCmd = &cobra.Command{
	Use:   "revoke [telegram-id]",
	Short: "Revoke an account's active window",
	Long: `Close the account's active window on a server immediately. The
client entry is removed from the xray config and the user is notified.

Examples:
  raylink account revoke 123456789
  raylink account revoke 123456789 --server nl-1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.RevokeWindowHandler == nil {
			return fmt.Errorf("application not initialized - database connection required")
		}

		ctx := cmd.Context()
		acct, err := resolveAccount(ctx, app, args[0])
		if err != nil {
			return err
		}

		server, err := defaultServer(app, revokeServer)
		if err != nil {
			return err
		}

		result, err := app.RevokeWindowHandler.Handle(ctx, entitlementCommands.RevokeWindowCommand{
			AccountID: acct.ID(),
			ServerID:  server,
		})
		if err != nil {
			if errors.Is(err, entitlementDomain.ErrNoActiveSubscription) {
				return fmt.Errorf("no active window on %s", server)
			}
			return fmt.Errorf("failed to revoke: %w", err)
		}

		fmt.Printf("revoked window %s on %s\n", result.WindowID, server)
		return nil
	},
}

func init() {
	revokeCmd.Flags().StringVarP(&revokeServer, "server", "s", "", "server id (defaults to the catalog default)")
}

package account

import (
	"fmt"

	"github.com/pavelzhukov/raylink/adapter/cli"
	entitlementQueries "github.com/pavelzhukov/raylink/internal/entitlement/application/queries"
	"github.com/spf13/cobra"
)

var accessServer string

var accessCmd = &cobra.Command{
	Use:   "access [telegram-id]",
	Short: "Check whether an account is entitled to connect",
	Long: `Run the same access decision the VPN side sees, including lazy
expiry of a lapsed window. Useful when a user reports they cannot
connect.

Examples:
  raylink account access 123456789 --server nl-1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.CheckAccessHandler == nil {
			return fmt.Errorf("application not initialized - database connection required")
		}

		ctx := cmd.Context()
		acct, err := resolveAccount(ctx, app, args[0])
		if err != nil {
			return err
		}

		server, err := defaultServer(app, accessServer)
		if err != nil {
			return err
		}

		access, err := app.CheckAccessHandler.Handle(ctx, entitlementQueries.CheckAccessQuery{
			AccountID: acct.ID(),
			ServerID:  server,
		})
		if err != nil {
			return fmt.Errorf("failed to check access: %w", err)
		}

		if access.Entitled {
			fmt.Printf("entitled on %s\n", server)
			if access.ExpiresAt != nil {
				fmt.Printf("  window:  %s\n", access.WindowID)
				fmt.Printf("  expires: %s\n", access.ExpiresAt.Format("2006-01-02 15:04 MST"))
			}
			return nil
		}

		fmt.Printf("not entitled on %s (%s)\n", server, access.Reason)
		return nil
	},
}

func init() {
	accessCmd.Flags().StringVarP(&accessServer, "server", "s", "", "server id (defaults to the catalog default)")
}

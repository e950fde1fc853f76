package account

import (
	"fmt"

	"github.com/pavelzhukov/raylink/adapter/cli"
	entitlementCommands "github.com/pavelzhukov/raylink/internal/entitlement/application/commands"
	"github.com/spf13/cobra"
)

var banCmd = &cobra.Command{
	Use:   "ban [telegram-id]",
	Short: "Ban an account",
	Long: `Ban an account. Banned accounts keep their windows but fail access
checks and cannot start trials or purchases until the ban is lifted.

Examples:
  raylink account ban 123456789`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetBan(cmd, args[0], true)
	},
}

var unbanCmd = &cobra.Command{
	Use:   "unban [telegram-id]",
	Short: "Lift an account's ban",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetBan(cmd, args[0], false)
	},
}

func runSetBan(cmd *cobra.Command, arg string, banned bool) error {
	app := cli.GetApp()
	if app == nil || app.SetBanHandler == nil {
		return fmt.Errorf("application not initialized - database connection required")
	}

	ctx := cmd.Context()
	acct, err := resolveAccount(ctx, app, arg)
	if err != nil {
		return err
	}

	result, err := app.SetBanHandler.Handle(ctx, entitlementCommands.SetBanCommand{
		AccountID: acct.ID(),
		Banned:    banned,
	})
	if err != nil {
		return fmt.Errorf("failed to update ban: %w", err)
	}

	state := "banned"
	if !banned {
		state = "unbanned"
	}
	if !result.Changed {
		fmt.Printf("account already %s\n", state)
		return nil
	}
	fmt.Printf("account %s\n", state)
	return nil
}

package account

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pavelzhukov/raylink/adapter/cli"
	entitlementDomain "github.com/pavelzhukov/raylink/internal/entitlement/domain"
	sharedDomain "github.com/pavelzhukov/raylink/internal/shared/domain"
	"github.com/spf13/cobra"
)

// Cmd is the account command group
var Cmd = &cobra.Command{
	Use:   "account",
	Short: "Inspect and manage accounts",
	Long:  `Look up accounts by Telegram id, grant or revoke access, and manage bans.`,
}

func init() {
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(grantCmd)
	Cmd.AddCommand(revokeCmd)
	Cmd.AddCommand(banCmd)
	Cmd.AddCommand(unbanCmd)
	Cmd.AddCommand(accessCmd)
	Cmd.AddCommand(devicesCmd)
}

// parseTelegramID parses a numeric Telegram user id argument.
func parseTelegramID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid telegram id %q (a positive number is required)", arg)
	}
	return id, nil
}

// resolveAccount looks up the account behind a telegram-id argument.
func resolveAccount(ctx context.Context, app *cli.App, arg string) (*entitlementDomain.Account, error) {
	telegramID, err := parseTelegramID(arg)
	if err != nil {
		return nil, err
	}

	account, err := app.AccountRepo.FindByTelegramID(ctx, sharedDomain.NewTelegramID(telegramID))
	if err != nil {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	if account == nil {
		return nil, fmt.Errorf("no account with telegram id %d", telegramID)
	}
	return account, nil
}

// defaultServer resolves the --server flag against the catalog.
func defaultServer(app *cli.App, flag string) (string, error) {
	server := flag
	if server == "" {
		server = app.Catalog.DefaultServer
	}
	if _, ok := app.Catalog.ServerByID(server); !ok {
		return "", fmt.Errorf("unknown server %q", server)
	}
	return server, nil
}

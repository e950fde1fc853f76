package account

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pavelzhukov/raylink/adapter/cli"
	entitlementQueries "github.com/pavelzhukov/raylink/internal/entitlement/application/queries"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show [telegram-id]",
	Short: "Show an account and its subscription windows",
	Long: `Show the account registered for a Telegram user id, together with
every subscription window it ever had.

Examples:
  raylink account show 123456789`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.AccountOverviewHandler == nil {
			return fmt.Errorf("application not initialized - database connection required")
		}

		telegramID, err := parseTelegramID(args[0])
		if err != nil {
			return err
		}

		overview, err := app.AccountOverviewHandler.Handle(cmd.Context(), entitlementQueries.GetAccountOverviewQuery{
			TelegramID: telegramID,
		})
		if err != nil {
			if errors.Is(err, entitlementQueries.ErrAccountNotFound) {
				return fmt.Errorf("no account with telegram id %d", telegramID)
			}
			return fmt.Errorf("failed to load account: %w", err)
		}

		fmt.Printf("Account %d", overview.TelegramID)
		if overview.Username != "" {
			fmt.Printf(" (@%s)", overview.Username)
		}
		fmt.Println()
		fmt.Printf("  id:      %s\n", overview.AccountID)
		fmt.Printf("  created: %s\n", overview.CreatedAt.Format("2006-01-02 15:04"))
		fmt.Printf("  trial:   %s\n", yesNo(overview.TrialUsed, "used", "available"))
		fmt.Printf("  banned:  %s\n", yesNo(overview.Banned, "yes", "no"))

		if len(overview.Windows) == 0 {
			fmt.Println("\n  no subscription windows")
			return nil
		}

		fmt.Println("\n  WINDOWS")
		fmt.Println("  " + strings.Repeat("-", 70))
		for _, w := range overview.Windows {
			marker := " "
			if w.Active {
				marker = "*"
			}
			fmt.Printf("  %s %-10s %-8s %-9s %s -> %s\n",
				marker,
				w.ServerID,
				w.Source,
				w.Status,
				w.StartsAt.Format("2006-01-02"),
				w.ExpiresAt.Format("2006-01-02 15:04"),
			)
		}

		return nil
	},
}

func yesNo(v bool, yes, no string) string {
	if v {
		return yes
	}
	return no
}

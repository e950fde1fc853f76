package cli

import (
	"fmt"
	"sort"
	"strings"

	entitlementQueries "github.com/pavelzhukov/raylink/internal/entitlement/application/queries"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show system counters",
	Long: `Display system-wide counters: registered accounts, active
subscription windows, recorded payments, and revenue per currency.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.SystemStatsHandler == nil {
			return fmt.Errorf("application not initialized - database connection required")
		}

		stats, err := app.SystemStatsHandler.Handle(cmd.Context(), entitlementQueries.SystemStatsQuery{})
		if err != nil {
			return fmt.Errorf("failed to load stats: %w", err)
		}

		fmt.Println("\n  Raylink Stats")
		fmt.Println(strings.Repeat("=", 40))
		fmt.Printf("  accounts:        %d\n", stats.Accounts)
		fmt.Printf("  active windows:  %d\n", stats.ActiveWindows)
		fmt.Printf("  payments:        %d\n", stats.Payments)

		currencies := make([]string, 0, len(stats.TotalsByCurrency))
		for currency := range stats.TotalsByCurrency {
			currencies = append(currencies, currency)
		}
		sort.Strings(currencies)
		for _, currency := range currencies {
			fmt.Printf("  revenue %s:  %s\n", currency, formatMinor(stats.TotalsByCurrency[currency]))
		}
		fmt.Println()

		return nil
	},
}

// formatMinor renders a minor-unit amount as a decimal string.
func formatMinor(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

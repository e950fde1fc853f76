package account

import (
	"fmt"
	"strings"

	"github.com/pavelzhukov/raylink/adapter/cli"
	deviceQueries "github.com/pavelzhukov/raylink/internal/devices/application/queries"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices [telegram-id]",
	Short: "List an account's device bindings",
	Long: `List the devices seen for an account, with the freshness the
device limit counts.

Examples:
  raylink account devices 123456789`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.ListDevicesHandler == nil {
			return fmt.Errorf("application not initialized - database connection required")
		}

		ctx := cmd.Context()
		acct, err := resolveAccount(ctx, app, args[0])
		if err != nil {
			return err
		}

		devices, err := app.ListDevicesHandler.Handle(ctx, deviceQueries.ListDevicesQuery{
			AccountID: acct.ID(),
		})
		if err != nil {
			return fmt.Errorf("failed to list devices: %w", err)
		}

		if len(devices) == 0 {
			fmt.Println("no devices seen")
			return nil
		}

		fmt.Println("  DEVICES")
		fmt.Println("  " + strings.Repeat("-", 60))
		for _, d := range devices {
			freshness := "stale"
			if d.Fresh {
				freshness = "fresh"
			}
			fmt.Printf("  %-20s %-6s last seen %s\n",
				d.Fingerprint,
				freshness,
				d.LastSeenAt.Format("2006-01-02 15:04"),
			)
		}

		return nil
	},
}

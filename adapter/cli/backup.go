package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the database and upload it now",
	Long: `Take one consistent snapshot of the SQLite store and ship it to the
configured S3 bucket, outside the regular schedule. Useful before
upgrades. Requires BACKUP_ENABLED and the S3 settings.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := container
		if c == nil {
			return fmt.Errorf("application not initialized - database connection required")
		}
		if c.BackupService == nil {
			return fmt.Errorf("backups not configured (set BACKUP_ENABLED and the S3_* settings)")
		}

		key, err := c.BackupService.Snapshot(cmd.Context(), time.Now())
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}

		fmt.Printf("snapshot uploaded: %s\n", key)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backupCmd)
}

package cli

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/database"
	_ "github.com/pavelzhukov/raylink/internal/shared/infrastructure/database/sqlite" // Register SQLite driver
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/migrations"
	"github.com/pavelzhukov/raylink/pkg/config"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage schema migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(),
			func(ctx context.Context, db *sql.DB) error {
				if err := migrations.RunSQLite(ctx, db); err != nil {
					return err
				}
				fmt.Println("sqlite migrations applied")
				return nil
			},
			func(ctx context.Context, pool *pgxpool.Pool) error {
				if err := migrations.RunPostgres(ctx, pool); err != nil {
					return err
				}
				fmt.Println("postgres migrations applied")
				return nil
			},
		)
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), migrations.StatusSQLite, migrations.StatusPostgres)
	},
}

// withStore opens the configured database, hands it to the matching
// function, and closes it again. Migrations cannot go through the
// container because the container assumes an already-migrated schema.
func withStore(
	ctx context.Context,
	sqliteFn func(context.Context, *sql.DB) error,
	postgresFn func(context.Context, *pgxpool.Pool) error,
) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.UseLocalMode() {
		conn, err := database.NewConnection(ctx, database.Config{
			Driver:     database.DriverSQLite,
			SQLitePath: cfg.SQLitePath,
		})
		if err != nil {
			return fmt.Errorf("failed to open SQLite database: %w", err)
		}
		defer conn.Close()

		sqliteConn, ok := conn.(interface{ DB() *sql.DB })
		if !ok {
			return fmt.Errorf("expected SQLite connection with DB() method, got %T", conn)
		}
		return sqliteFn(ctx, sqliteConn.DB())
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return postgresFn(ctx, pool)
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}

package main

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/obsrv/monitor-service/config"
)

var migrationsPath string

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate <up|down|version>",
	Short: "Run database schema migrations",
	Long: `Apply or roll back the database schema migrations. "up" applies all
pending migrations, "down" rolls back one step, "version" prints the current
schema version.`,
	Example: `  monitor-service migrate up
  monitor-service migrate down
  monitor-service migrate version`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"up", "down", "version"},
	RunE:      runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().StringVar(&migrationsPath, "path", "migrations", "Directory containing migration files")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	dbURL := config.GetDatabaseURL()
	if dbURL == "" {
		return fmt.Errorf("DATABASE_URL not set")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}

	switch args[0] {
	case "up":
		if err := m.Up(); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				fmt.Println("No pending migrations")
				return nil
			}
			return fmt.Errorf("migration up failed: %w", err)
		}
		fmt.Println("Migrations applied")
	case "down":
		if err := m.Steps(-1); err != nil {
			return fmt.Errorf("migration down failed: %w", err)
		}
		fmt.Println("Rolled back one migration")
	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Println("No migrations applied yet")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read version: %w", err)
		}
		fmt.Printf("Schema version %d (dirty: %t)\n", version, dirty)
	default:
		return fmt.Errorf("unknown migrate action %q", args[0])
	}

	return nil
}

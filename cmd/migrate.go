package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmehdipour/order-pipeline/internal/config"
	"github.com/jmehdipour/order-pipeline/internal/db"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the orders table (and order_events when ClickHouse is configured)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		mysqlDB, err := db.NewMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer mysqlDB.Close()

		if err := runMigration(mysqlDB, filepath.Join("migrations", "mysql", "001_init.sql")); err != nil {
			return err
		}

		if cfg.ClickHouse.DSN != "" {
			chDB, err := db.NewClickHouse(cfg.ClickHouse)
			if err != nil {
				return fmt.Errorf("open clickhouse: %w", err)
			}
			defer chDB.Close()

			if err := runMigration(chDB, filepath.Join("migrations", "clickhouse", "001_order_events.sql")); err != nil {
				return err
			}
		}

		fmt.Println(">> Migration complete")
		return nil
	},
}

func runMigration(dbx *sqlx.DB, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration file %s: %w", path, err)
	}
	for _, stmt := range splitStatements(string(b)) {
		if _, err := dbx.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration %s: %w", path, err)
		}
	}
	return nil
}

// splitStatements splits a migration file on ';'. Line comments are dropped.
// Migrations must not contain ';' inside string literals.
func splitStatements(sql string) []string {
	var b strings.Builder
	for _, line := range strings.Split(sql, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	var out []string
	for _, stmt := range strings.Split(b.String(), ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}

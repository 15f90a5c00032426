package db

import (
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmehdipour/order-pipeline/internal/config"
	"github.com/jmoiron/sqlx"
)

// NewMySQL opens the order record store. Timestamps are UTC end to end: the
// driver location and the session time_zone used by NOW(6).
func NewMySQL(c config.DatabaseConfig) (*sqlx.DB, error) {
	if c.DSN != "" {
		dsn, err := utcDSN(c.DSN)
		if err != nil {
			return nil, fmt.Errorf("mysql dsn: %w", err)
		}
		c.DSN = dsn
	}
	return open("mysql", c, 5*time.Second)
}

func utcDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	cfg.Params["time_zone"] = "'+00:00'"
	return cfg.FormatDSN(), nil
}

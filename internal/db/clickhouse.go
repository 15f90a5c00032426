package db

import (
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmehdipour/order-pipeline/internal/config"
	"github.com/jmoiron/sqlx"
)

// NewClickHouse opens the event history store, e.g.
// clickhouse://default:@localhost:9000/orders?dial_timeout=5s&compress=true
func NewClickHouse(c config.DatabaseConfig) (*sqlx.DB, error) {
	return open("clickhouse", c, 3*time.Second)
}

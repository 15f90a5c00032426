package db

import (
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUTCDSNPinsSessionTimeZone(t *testing.T) {
	dsn, err := utcDSN("orders:orders@tcp(127.0.0.1:3306)/ordersdb?loc=Local")
	require.NoError(t, err)

	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.True(t, cfg.ParseTime)
	assert.Equal(t, time.UTC, cfg.Loc)
	assert.Equal(t, "'+00:00'", cfg.Params["time_zone"])
	assert.Equal(t, "ordersdb", cfg.DBName)
}

func TestUTCDSNRejectsGarbage(t *testing.T) {
	_, err := utcDSN("not a dsn")
	assert.Error(t, err)
}

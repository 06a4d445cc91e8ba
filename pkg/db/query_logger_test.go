package db

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/paycore/pkg/config"
	"github.com/angelmondragon/paycore/pkg/logger"
)

func openWithQueryLogger(t *testing.T, slow time.Duration) (*gorm.DB, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "db-test", Output: &buf})
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger:                 newQueryLogger(logg, slow),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&ledgerRow{}))
	buf.Reset()
	return conn, &buf
}

func TestQueryLoggerReportsFailures(t *testing.T) {
	conn, buf := openWithQueryLogger(t, time.Hour)

	require.Error(t, conn.Exec("SELECT * FROM missing_table").Error)
	require.Contains(t, buf.String(), "db.query_failed")
	require.Contains(t, buf.String(), "missing_table")
}

func TestQueryLoggerIgnoresNotFoundAndFastQueries(t *testing.T) {
	conn, buf := openWithQueryLogger(t, time.Hour)

	var row ledgerRow
	require.ErrorIs(t, conn.First(&row, 42).Error, gorm.ErrRecordNotFound)
	require.NoError(t, conn.Create(&ledgerRow{Amount: 1}).Error)
	require.Empty(t, buf.String())
}

func TestQueryLoggerReportsSlowQueries(t *testing.T) {
	conn, buf := openWithQueryLogger(t, time.Nanosecond)

	require.NoError(t, conn.Create(&ledgerRow{Amount: 1}).Error)
	require.Contains(t, buf.String(), "db.query_slow")
}

func TestDialectorRejectsUnknownDriver(t *testing.T) {
	_, err := New(context.Background(), config.DBConfig{DSN: "mysql://localhost/paycore", Driver: "mysql"}, nil)
	require.ErrorContains(t, err, "unsupported database driver")
}

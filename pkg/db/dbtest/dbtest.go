// Package dbtest opens sqlite databases carrying the payment schema for
// package tests. Column types are sqlite affinities; constraints mirror the
// goose migrations where sqlite supports them.
package dbtest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/paycore/pkg/db"
)

var counter atomic.Int64

var schema = []string{
	`CREATE TABLE plans (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  billing_period TEXT NOT NULL,
  price TEXT NOT NULL,
  currency TEXT NOT NULL,
  token_grant INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE TABLE plan_provider_refs (
  plan_id TEXT NOT NULL,
  provider TEXT NOT NULL,
  external_ref TEXT NOT NULL,
  created_at DATETIME,
  PRIMARY KEY (plan_id, provider)
)`,
	`CREATE TABLE subscriptions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  plan_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  provider TEXT,
  external_subscription_id TEXT,
  started_at DATETIME,
  expires_at DATETIME,
  cancelled_at DATETIME,
  cancel_reason TEXT,
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE TABLE invoices (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  number TEXT NOT NULL UNIQUE,
  total_amount TEXT NOT NULL,
  currency TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  provider TEXT,
  external_ref TEXT,
  capture_ref TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  paid_at DATETIME,
  cancelled_at DATETIME,
  refunded_at DATETIME
)`,
	`CREATE TABLE invoice_line_items (
  id TEXT PRIMARY KEY,
  invoice_id TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
  kind TEXT NOT NULL,
  plan_id TEXT,
  subscription_id TEXT,
  description TEXT NOT NULL,
  quantity INTEGER NOT NULL DEFAULT 1,
  unit_amount TEXT NOT NULL,
  token_amount INTEGER NOT NULL DEFAULT 0,
  recurring BOOLEAN NOT NULL DEFAULT 0,
  created_at DATETIME
)`,
	`CREATE TABLE token_transactions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  amount INTEGER NOT NULL CHECK (amount <> 0),
  type TEXT NOT NULL,
  reference_id TEXT NOT NULL,
  created_at DATETIME
)`,
	`CREATE UNIQUE INDEX ux_token_transactions_reference ON token_transactions (user_id, reference_id, type)`,
	`CREATE TABLE token_balances (
  user_id TEXT PRIMARY KEY,
  balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
  updated_at DATETIME
)`,
	`CREATE TABLE plugin_configs (
  provider TEXT PRIMARY KEY,
  enabled BOOLEAN NOT NULL DEFAULT 0,
  sandbox BOOLEAN NOT NULL DEFAULT 1,
  credentials BLOB,
  revision INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE TABLE processed_events (
  id TEXT PRIMARY KEY,
  provider TEXT NOT NULL,
  external_id TEXT NOT NULL,
  event_name TEXT NOT NULL,
  processed_at DATETIME,
  CONSTRAINT ux_processed_events_provider_external UNIQUE (provider, external_id)
)`,
	`CREATE TABLE payment_failures (
  id TEXT PRIMARY KEY,
  provider TEXT NOT NULL,
  invoice_id TEXT,
  subscription_id TEXT,
  user_id TEXT,
  error_code TEXT NOT NULL,
  error_message TEXT NOT NULL,
  created_at DATETIME
)`,
	`CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
)`,
	`CREATE TABLE outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL UNIQUE,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
)`,
}

// Open returns a private in-memory database with the full schema applied.
// The pool is pinned to one connection so concurrent callers serialize on
// sqlite's writer lock instead of seeing separate databases.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_busy_timeout=5000", name, counter.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}

// Client wraps Open in the db client used by services.
func Client(t testing.TB) *db.Client {
	t.Helper()
	return db.NewFromGorm(Open(t))
}

// Package pgtest connects tests to the database named by TEST_DATABASE.
// Tests using it are skipped when the variable is unset.
package pgtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/edgeflare/pgcrud/internal/testutil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// EnvVar holds the connection string of the test database.
const EnvVar = "TEST_DATABASE"

// ParseConfig returns a test connection config with logging, skipping t when
// no database is configured.
func ParseConfig(t testing.TB) *pgx.ConnConfig {
	t.Helper()
	connString := os.Getenv(EnvVar)
	if connString == "" {
		t.Skipf("%s not set", EnvVar)
	}
	config, err := pgx.ParseConfig(connString)
	require.NoError(t, err)

	config.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		t.Logf("PostgreSQL %s: %s", n.Severity, n.Message)
	}
	return config
}

// Connect creates a new database connection closed on test cleanup.
func Connect(ctx context.Context, t testing.TB) *pgx.Conn {
	t.Helper()
	conn, err := pgx.ConnectConfig(ctx, ParseConfig(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, conn.Close(ctx))
	})
	return conn
}

// Billing returns a pool on a freshly created billing schema.
func Billing(ctx context.Context, t testing.TB) *pgxpool.Pool {
	t.Helper()
	conn := Connect(ctx, t)
	ddl, err := testutil.ReadFile("billing.sql")
	require.NoError(t, err)
	_, err = conn.Exec(ctx, string(ddl))
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, os.Getenv(EnvVar))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

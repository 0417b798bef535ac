package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const callSchema = `
CREATE TABLE token_calls (
	token_address   TEXT NOT NULL,
	token_symbol    TEXT NOT NULL DEFAULT '',
	chain           TEXT NOT NULL,
	caller_name     TEXT NOT NULL DEFAULT '',
	alert_timestamp BIGINT NOT NULL,
	alert_price     DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (chain, token_address, alert_timestamp)
)`

// setupTestDB starts a PostgreSQL container and applies the call schema.
// The returned cleanup must be called after the test completes.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err, "failed to create pool")

	_, err = pool.Exec(ctx, callSchema)
	require.NoError(t, err, "failed to apply schema")

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return pool, cleanup
}

package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Runs against a real database only when TEST_DATABASE_URL is set.
func TestPostgresStorage_Contract(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, Migrate(ctx, dbURL))

	st, err := NewPostgresStorage(ctx, dbURL, PostgresOptions{
		MaxConns:       10,
		ConnectTimeout: 5 * time.Second,
		AcquireTimeout: 5 * time.Second,
		QueryTimeout:   5 * time.Second,
	})
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.Ping(ctx))

	runStorageContract(t, st)
}

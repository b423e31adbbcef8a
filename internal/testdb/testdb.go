// Package testdb provides utilities for database-backed tests. It depends
// only on the migration runner and standard database packages, not on the
// stores under test.
package testdb

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/marrowlabs/enrich-api/internal/platform/postgres"
	"github.com/stretchr/testify/require"
)

// TestTimeout defines a default timeout for test database operations.
const TestTimeout = 5 * time.Second

// enrichmentTables lists every table the stores write to, in an order safe
// for truncation.
var enrichmentTables = []string{
	"enrichment_tasks",
	"chunks",
	"documents",
	"graph_entities",
	"graph_relationships",
	"enrichment_counters",
}

// GetTestDatabaseURL returns the database URL for tests, or "" when no test
// database is configured.
func GetTestDatabaseURL() string {
	dbURL := os.Getenv("DATABASE_URL")

	if dbURL == "" {
		dbURL = os.Getenv("ENRICH_TEST_DB_URL")
	}

	return dbURL
}

// ShouldSkipDatabaseTest returns true if no database URL environment
// variable is set, indicating that database integration tests should be
// skipped.
func ShouldSkipDatabaseTest() bool {
	return GetTestDatabaseURL() == ""
}

// MustOpen connects to the test database, runs migrations, and registers a
// cleanup that closes the connection. The calling test is skipped when no
// test database is configured.
func MustOpen(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := GetTestDatabaseURL()
	if dbURL == "" {
		t.Skip("skipping database test: DATABASE_URL not set")
	}

	db, err := sql.Open("pgx", dbURL)
	require.NoError(t, err, "Failed to open database connection")
	t.Cleanup(func() {
		require.NoError(t, db.Close(), "Failed to close database connection")
	})

	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()
	require.NoError(t, db.PingContext(ctx), "Failed to ping database")

	require.NoError(t, postgres.Migrate(db, "up"), "Failed to run migrations")

	return db
}

// ResetTables truncates every enrichment table so each test starts from an
// empty database.
func ResetTables(t *testing.T, db *sql.DB) {
	t.Helper()

	for _, table := range enrichmentTables {
		_, err := db.Exec("TRUNCATE TABLE " + table + " CASCADE")
		require.NoError(t, err, "Failed to truncate table %s", table)
	}
}

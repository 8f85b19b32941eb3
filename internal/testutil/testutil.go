// Package testutil provides testing utilities for integration tests.
package testutil

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/slipstream/searchd/internal/database"
)

// NewTestDB opens a migrated in-memory database that is closed when the
// test ends.
func NewTestDB(t *testing.T) *database.DB {
	t.Helper()

	ctx := context.Background()
	db, err := database.New(ctx, database.MemoryPath)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

// NewTestLogger returns a logger that writes through t.Log.
func NewTestLogger(t *testing.T) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)
}

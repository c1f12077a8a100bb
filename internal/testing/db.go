// Package testing provides test database helpers shared by module tests.
package testing

import (
	"path/filepath"
	"testing"

	"github.com/aristath/scholar/internal/database"
)

// NewTestDB creates a file-backed SQLite database in a per-test temp directory and
// applies the scholar schema. The database is closed automatically when the test ends.
func NewTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(database.Config{
		Driver:  database.DriverSQLite,
		Path:    filepath.Join(t.TempDir(), "scholar_test.db"),
		Profile: database.ProfileStandard,
		Name:    "scholar",
	})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database: %v", err)
		}
	})

	return db
}

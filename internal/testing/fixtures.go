package testing

import (
	"testing"
	"time"

	"github.com/aristath/scholar/internal/database"
)

// Hierarchy is the default region → sector → school fixture
type Hierarchy struct {
	RegionID string
	SectorID string
	SchoolID string
}

// SeedHierarchy inserts one region, one sector below it and one school below that.
func SeedHierarchy(t *testing.T, db *database.DB) Hierarchy {
	t.Helper()

	h := Hierarchy{RegionID: "region-1", SectorID: "sector-1", SchoolID: "school-1"}
	SeedInstitution(t, db, h.RegionID, "", "region", "Capital Region")
	SeedInstitution(t, db, h.SectorID, h.RegionID, "sector", "North Sector")
	SeedInstitution(t, db, h.SchoolID, h.SectorID, "school", "School No. 1")
	return h
}

// SeedInstitution inserts a single institution row. An empty parentID stores NULL.
func SeedInstitution(t *testing.T, db *database.DB, id, parentID, level, name string) {
	t.Helper()

	var parent interface{}
	if parentID != "" {
		parent = parentID
	}
	_, err := db.Conn().Exec(db.Rebind(`
		INSERT INTO institutions (id, parent_id, level, name, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), id, parent, level, name, time.Now().Unix())
	if err != nil {
		t.Fatalf("Failed to seed institution %s: %v", id, err)
	}
}

// SeedAcademicYear inserts an academic year starting on September 1st of startYear.
func SeedAcademicYear(t *testing.T, db *database.DB, id, label string, startYear int) {
	t.Helper()

	startsAt := time.Date(startYear, time.September, 1, 0, 0, 0, 0, time.UTC).Unix()
	_, err := db.Conn().Exec(db.Rebind(`
		INSERT INTO academic_years (id, label, starts_at) VALUES (?, ?, ?)
	`), id, label, startsAt)
	if err != nil {
		t.Fatalf("Failed to seed academic year %s: %v", id, err)
	}
}

// SeedRole assigns a role to a user at an institution.
func SeedRole(t *testing.T, db *database.DB, userID, role, institutionID string) {
	t.Helper()

	_, err := db.Conn().Exec(db.Rebind(`
		INSERT INTO user_roles (user_id, role, institution_id, created_at) VALUES (?, ?, ?, ?)
	`), userID, role, institutionID, time.Now().Unix())
	if err != nil {
		t.Fatalf("Failed to seed role %s for %s: %v", role, userID, err)
	}
}

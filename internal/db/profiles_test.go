package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_vision/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&models.ProjectionProfile{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return database
}

func writeProfileFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write profile file: %v", err)
	}
	return path
}

func TestSeedProfiles(t *testing.T) {
	t.Parallel()
	database := newTestDB(t)
	path := writeProfileFile(t, `
profiles:
  - name: Dome 180
    projection: half_sphere
    radius_meters: 10000
    slice_count: 60
    vertical_slice_count: 60
  - name: Flat Photo
    projection: fov
    horizontal_fov_deg: 65
    aspect_ratio: 1.5
`)

	n, err := SeedProfiles(database, path, zerolog.Nop())
	if err != nil {
		t.Fatalf("SeedProfiles: %v", err)
	}
	if n != 2 {
		t.Fatalf("seeded %d profiles, want 2", n)
	}

	var dome models.ProjectionProfile
	if err := database.First(&dome, "name = ?", "Dome 180").Error; err != nil {
		t.Fatalf("load seeded profile: %v", err)
	}
	if dome.OwnerID != SystemOwnerID {
		t.Fatalf("seeded owner = %q, want system owner", dome.OwnerID)
	}
	if !dome.Shared {
		t.Fatal("seeded profile must be shared")
	}
	if dome.Projection != "half_sphere" || dome.SliceCount != 60 {
		t.Fatalf("unexpected seeded fields: %+v", dome)
	}
}

func TestSeedProfilesUpsertsByName(t *testing.T) {
	t.Parallel()
	database := newTestDB(t)

	first := writeProfileFile(t, `
profiles:
  - name: Flat Photo
    projection: fov
    horizontal_fov_deg: 65
`)
	if _, err := SeedProfiles(database, first, zerolog.Nop()); err != nil {
		t.Fatalf("first seed: %v", err)
	}

	second := writeProfileFile(t, `
profiles:
  - name: Flat Photo
    projection: fov
    horizontal_fov_deg: 90
`)
	if _, err := SeedProfiles(database, second, zerolog.Nop()); err != nil {
		t.Fatalf("second seed: %v", err)
	}

	var count int64
	if err := database.Model(&models.ProjectionProfile{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the reseed to update in place, got %d rows", count)
	}

	var profile models.ProjectionProfile
	if err := database.First(&profile, "name = ?", "Flat Photo").Error; err != nil {
		t.Fatalf("load profile: %v", err)
	}
	if profile.HorizontalFovDeg != 90 {
		t.Fatalf("horizontal fov = %v, want 90", profile.HorizontalFovDeg)
	}
}

func TestSeedProfilesLeavesUserRowsAlone(t *testing.T) {
	t.Parallel()
	database := newTestDB(t)

	user := models.ProjectionProfile{
		ID:         "11111111-1111-1111-1111-111111111111",
		OwnerID:    "22222222-2222-2222-2222-222222222222",
		Name:       "Dome 180",
		Projection: "sphere",
	}
	if err := database.Create(&user).Error; err != nil {
		t.Fatalf("create user profile: %v", err)
	}

	path := writeProfileFile(t, `
profiles:
  - name: Dome 180
    projection: half_sphere
`)
	if _, err := SeedProfiles(database, path, zerolog.Nop()); err != nil {
		t.Fatalf("SeedProfiles: %v", err)
	}

	// The user's identically named profile keeps its projection; the seed
	// lands under the system owner instead.
	var kept models.ProjectionProfile
	if err := database.First(&kept, "id = ?", user.ID).Error; err != nil {
		t.Fatalf("reload user profile: %v", err)
	}
	if kept.Projection != "sphere" {
		t.Fatalf("user profile projection = %q, want untouched", kept.Projection)
	}

	var count int64
	if err := database.Model(&models.ProjectionProfile{}).Where("owner_id = ?", SystemOwnerID).Count(&count).Error; err != nil {
		t.Fatalf("count system rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("system profile rows = %d, want 1", count)
	}
}

func TestSeedProfilesRejectsBadInput(t *testing.T) {
	t.Parallel()
	database := newTestDB(t)

	tests := []struct {
		name    string
		content string
	}{
		{name: "missing name", content: "profiles:\n  - projection: sphere\n"},
		{name: "unknown projection", content: "profiles:\n  - name: X\n    projection: cube\n"},
		{name: "malformed yaml", content: "profiles: [unclosed\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeProfileFile(t, tc.content)
			if _, err := SeedProfiles(database, path, zerolog.Nop()); err == nil {
				t.Fatal("expected an error")
			}
		})
	}

	if _, err := SeedProfiles(database, filepath.Join(t.TempDir(), "missing.yaml"), zerolog.Nop()); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

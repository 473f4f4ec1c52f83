/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_vision/internal/models"
)

// SystemOwnerID marks rows seeded by the server rather than created
// through the API. The zero UUID keeps the owner column valid on
// backends that enforce uuid syntax.
const SystemOwnerID = "00000000-0000-0000-0000-000000000000"

type profileFile struct {
	Profiles []profileEntry `yaml:"profiles"`
}

type profileEntry struct {
	Name               string  `yaml:"name"`
	Projection         string  `yaml:"projection"`
	HorizontalFovDeg   float32 `yaml:"horizontal_fov_deg"`
	AspectRatio        float32 `yaml:"aspect_ratio"`
	RadiusMeters       float32 `yaml:"radius_meters"`
	SliceCount         int     `yaml:"slice_count"`
	VerticalSliceCount int     `yaml:"vertical_slice_count"`
}

// SeedProfiles loads projection profiles from a YAML file and upserts
// them by name under the system owner, marked shared so every account
// sees them. Profiles users created through the API are never touched.
// Returns the number of entries written.
func SeedProfiles(database *gorm.DB, path string, logger zerolog.Logger) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read profile file %s: %w", path, err)
	}

	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("parse profile file %s: %w", path, err)
	}

	written := 0
	for i, entry := range file.Profiles {
		if entry.Name == "" {
			return written, fmt.Errorf("profile file %s: entry %d has no name", path, i)
		}
		if !models.IsValidProjection(entry.Projection) {
			return written, fmt.Errorf("profile file %s: profile %q has unknown projection %q", path, entry.Name, entry.Projection)
		}

		var existing models.ProjectionProfile
		err := database.Where("owner_id = ? AND name = ?", SystemOwnerID, entry.Name).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			profile := models.ProjectionProfile{
				ID:                 uuid.NewString(),
				OwnerID:            SystemOwnerID,
				Name:               entry.Name,
				Projection:         entry.Projection,
				HorizontalFovDeg:   entry.HorizontalFovDeg,
				AspectRatio:        entry.AspectRatio,
				RadiusMeters:       entry.RadiusMeters,
				SliceCount:         entry.SliceCount,
				VerticalSliceCount: entry.VerticalSliceCount,
				Shared:             true,
			}
			if err := database.Create(&profile).Error; err != nil {
				return written, fmt.Errorf("create seeded profile %q: %w", entry.Name, err)
			}
		case err != nil:
			return written, fmt.Errorf("look up seeded profile %q: %w", entry.Name, err)
		default:
			updates := map[string]any{
				"projection":           entry.Projection,
				"horizontal_fov_deg":   entry.HorizontalFovDeg,
				"aspect_ratio":         entry.AspectRatio,
				"radius_meters":        entry.RadiusMeters,
				"slice_count":          entry.SliceCount,
				"vertical_slice_count": entry.VerticalSliceCount,
				"shared":               true,
			}
			if err := database.Model(&existing).Updates(updates).Error; err != nil {
				return written, fmt.Errorf("update seeded profile %q: %w", entry.Name, err)
			}
		}
		written++
	}

	logger.Info().Int("profiles", written).Str("path", path).Msg("projection profiles seeded")
	return written, nil
}

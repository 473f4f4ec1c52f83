/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package geometry

import (
	"errors"
	"fmt"
)

// ErrDegenerateGeometry indicates a surface spec that cannot produce a
// renderable mesh (non-positive slice counts, radius, or source FOV).
var ErrDegenerateGeometry = errors.New("degenerate projection geometry")

// ProjectionSurfaceSpec describes the sphere section a media frame is
// projected onto. Source FOV is the angular extent the media itself covers;
// clip FOV is the window actually rendered. Clip ≤ source is the common
// case but not enforced: callers may request arbitrary cropping or padding.
type ProjectionSurfaceSpec struct {
	Radius                 float32 `json:"radius" yaml:"radius"`
	SourceHorizontalFovDeg float32 `json:"source_horizontal_fov_deg" yaml:"source_horizontal_fov_deg"`
	SourceVerticalFovDeg   float32 `json:"source_vertical_fov_deg" yaml:"source_vertical_fov_deg"`
	ClipHorizontalFovDeg   float32 `json:"clip_horizontal_fov_deg" yaml:"clip_horizontal_fov_deg"`
	ClipVerticalFovDeg     float32 `json:"clip_vertical_fov_deg" yaml:"clip_vertical_fov_deg"`
	VerticalSliceCount     int     `json:"vertical_slice_count" yaml:"vertical_slice_count"`
	HorizontalSliceCount   int     `json:"horizontal_slice_count" yaml:"horizontal_slice_count"`
}

// ProjectionMesh is the generated geometry: parallel position/normal/UV
// sequences plus a triangle index list with inward-facing winding.
// Immutable once built; callers own the buffers.
type ProjectionMesh struct {
	Positions []Vec3
	Normals   []Vec3
	UV        []Vec2
	Indices   []uint32
}

// MeshStats summarizes a mesh for logs and API responses.
type MeshStats struct {
	Vertices  int `json:"vertices"`
	Triangles int `json:"triangles"`
}

// Stats returns vertex and triangle counts.
func (m *ProjectionMesh) Stats() MeshStats {
	return MeshStats{
		Vertices:  len(m.Positions),
		Triangles: len(m.Indices) / 3,
	}
}

// Generate builds the projection mesh for spec. It lays out a
// (verticalSliceCount+1) × (horizontalSliceCount+1) grid of sample points
// over the clipped FOV window, computes inward normals and FOV-scaled UV
// per point, and emits two triangles per grid cell. Pure function: no side
// effects, deterministic for equal specs.
func Generate(spec ProjectionSurfaceSpec) (*ProjectionMesh, error) {
	if spec.VerticalSliceCount <= 0 || spec.HorizontalSliceCount <= 0 {
		return nil, fmt.Errorf("%w: slice counts %dx%d", ErrDegenerateGeometry, spec.VerticalSliceCount, spec.HorizontalSliceCount)
	}
	if spec.Radius <= 0 {
		return nil, fmt.Errorf("%w: radius %v", ErrDegenerateGeometry, spec.Radius)
	}
	if spec.SourceHorizontalFovDeg <= 0 || spec.SourceVerticalFovDeg <= 0 {
		return nil, fmt.Errorf("%w: source fov %vx%v", ErrDegenerateGeometry, spec.SourceHorizontalFovDeg, spec.SourceVerticalFovDeg)
	}

	cols := spec.VerticalSliceCount   // samples along the azimuth axis
	rows := spec.HorizontalSliceCount // samples along the polar axis

	vertexCount := (cols + 1) * (rows + 1)
	mesh := &ProjectionMesh{
		Positions: make([]Vec3, 0, vertexCount),
		Normals:   make([]Vec3, 0, vertexCount),
		UV:        make([]Vec2, 0, vertexCount),
		Indices:   make([]uint32, 0, cols*rows*6),
	}

	radius := float64(spec.Radius)
	clipH := float64(spec.ClipHorizontalFovDeg)
	clipV := float64(spec.ClipVerticalFovDeg)
	srcH := float64(spec.SourceHorizontalFovDeg)
	srcV := float64(spec.SourceVerticalFovDeg)

	for y := 0; y <= rows; y++ {
		lat := Latitude(y, rows, clipV)
		baseV := 1 - float64(y)/float64(rows)
		for x := 0; x <= cols; x++ {
			az := Azimuth(x, cols, clipH)
			baseU := float64(x) / float64(cols)

			pos := SpherePoint(lat, az, radius)
			mesh.Positions = append(mesh.Positions, pos)
			mesh.Normals = append(mesh.Normals, InwardNormal(pos))
			mesh.UV = append(mesh.UV, Vec2{
				U: float32(FovUV(baseU, clipH, srcH)),
				V: float32(FovUV(baseV, clipV, srcV)),
			})
		}
	}

	// Two triangles per cell, wound for inward visibility.
	stride := uint32(cols + 1)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			current := uint32(x) + uint32(y)*stride
			next := current + stride
			mesh.Indices = append(mesh.Indices,
				current+1, current, next+1,
				next+1, current, next,
			)
		}
	}

	return mesh, nil
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package geometry

// Default surface parameters shared by the presets. The radius is large
// enough that the sphere interior reads as "at infinity" for any seated
// viewer position, and 60 slices per axis keeps equirectangular distortion
// below perceptible levels at typical display resolutions.
const (
	DefaultSliceCount = 60
	DefaultRadius     = 10000
)

// Transform is the rigid placement the render surface applies to a mesh.
type Transform struct {
	Position    Vec3 `json:"position"`
	RotationDeg Vec3 `json:"rotation_deg"`
}

// IdentityTransform leaves the mesh at the scene origin.
func IdentityTransform() Transform {
	return Transform{}
}

// HalfSphere returns the spec and transform for 180° mono or stereoscopic
// video: a hemisphere covering the full source frame. The -90° yaw aligns
// the projection seam with the viewer's forward gaze.
func HalfSphere() (ProjectionSurfaceSpec, Transform) {
	spec := ProjectionSurfaceSpec{
		Radius:                 DefaultRadius,
		SourceHorizontalFovDeg: 180,
		SourceVerticalFovDeg:   180,
		ClipHorizontalFovDeg:   180,
		ClipVerticalFovDeg:     180,
		VerticalSliceCount:     DefaultSliceCount,
		HorizontalSliceCount:   DefaultSliceCount,
	}
	transform := Transform{RotationDeg: Vec3{Y: -90}}
	return spec, transform
}

// Sphere returns the spec and transform for full 360° equirectangular
// video: the complete inward sphere with nothing clipped.
func Sphere() (ProjectionSurfaceSpec, Transform) {
	spec := ProjectionSurfaceSpec{
		Radius:                 DefaultRadius,
		SourceHorizontalFovDeg: 360,
		SourceVerticalFovDeg:   180,
		ClipHorizontalFovDeg:   360,
		ClipVerticalFovDeg:     180,
		VerticalSliceCount:     DefaultSliceCount,
		HorizontalSliceCount:   DefaultSliceCount,
	}
	return spec, IdentityTransform()
}

// VariableFov returns the spec and transform for still-image content whose
// horizontal FOV is supplied externally and whose vertical FOV follows from
// the image aspect ratio, clamped to the physical [0, 180] range.
func VariableFov(horizontalFovDeg, aspectRatio float32) (ProjectionSurfaceSpec, Transform) {
	vertical := clampFov(float64(horizontalFovDeg)/float64(aspectRatio), 0, 180)
	spec := ProjectionSurfaceSpec{
		Radius:                 DefaultRadius,
		SourceHorizontalFovDeg: horizontalFovDeg,
		SourceVerticalFovDeg:   float32(vertical),
		ClipHorizontalFovDeg:   horizontalFovDeg,
		ClipVerticalFovDeg:     float32(vertical),
		VerticalSliceCount:     DefaultSliceCount,
		HorizontalSliceCount:   DefaultSliceCount,
	}
	return spec, IdentityTransform()
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package geometry

import "math"

// Vec3 is a 3D vector in the render surface's coordinate space.
type Vec3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// Vec2 is a 2D texture coordinate.
type Vec2 struct {
	U float32 `json:"u"`
	V float32 `json:"v"`
}

// Latitude returns the polar angle in radians for grid row y of rowCount.
// The clipped vertical FOV window is centered within the full [0, π] polar
// range, so a 180° clip spans the whole sphere and smaller clips shrink
// symmetrically toward the equator.
func Latitude(y, rowCount int, clipVerticalFovDeg float64) float64 {
	f := clipVerticalFovDeg / 180
	return math.Pi*(float64(y)/float64(rowCount))*f + (1-f)/2*math.Pi
}

// Azimuth returns the azimuthal angle in radians for grid column x of
// colCount, centering the clipped horizontal FOV window within [0, 2π].
func Azimuth(x, colCount int, clipHorizontalFovDeg float64) float64 {
	f := clipHorizontalFovDeg / 360
	return 2*math.Pi*(float64(x)/float64(colCount))*f + (1-f)/2*2*math.Pi
}

// SpherePoint converts spherical coordinates to a Cartesian position with
// latitude measured from the +Y pole.
func SpherePoint(latRad, azRad, radius float64) Vec3 {
	sinLat := math.Sin(latRad)
	return Vec3{
		X: float32(sinLat * math.Cos(azRad) * radius),
		Y: float32(math.Cos(latRad) * radius),
		Z: float32(sinLat * math.Sin(azRad) * radius),
	}
}

// InwardNormal returns the unit vector pointing from p toward the origin.
// The viewer stands at the sphere's center, so surfaces face inward.
func InwardNormal(p Vec3) Vec3 {
	length := math.Sqrt(float64(p.X)*float64(p.X) + float64(p.Y)*float64(p.Y) + float64(p.Z)*float64(p.Z))
	if length == 0 {
		return Vec3{}
	}
	inv := -1 / length
	return Vec3{
		X: float32(float64(p.X) * inv),
		Y: float32(float64(p.Y) * inv),
		Z: float32(float64(p.Z) * inv),
	}
}

// FovUV maps a base texture coordinate in [0,1] onto the sub-window the
// clipped FOV covers within the source FOV. When clip equals source the
// coordinate is unchanged; smaller clips shrink the window toward the
// texture center so partial frames crop without resampling.
func FovUV(base, clipFovDeg, sourceFovDeg float64) float64 {
	scale := clipFovDeg / sourceFovDeg
	return base*scale + (1-scale)/2
}

// clampFov bounds a field of view to a physical degree range.
func clampFov(deg, min, max float64) float64 {
	if deg < min {
		return min
	}
	if deg > max {
		return max
	}
	return deg
}

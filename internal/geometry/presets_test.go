/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package geometry

import (
	"math"
	"testing"
)

func TestHalfSpherePreset(t *testing.T) {
	spec, transform := HalfSphere()

	if spec.SourceHorizontalFovDeg != 180 || spec.SourceVerticalFovDeg != 180 {
		t.Errorf("source fov = %vx%v, want 180x180", spec.SourceHorizontalFovDeg, spec.SourceVerticalFovDeg)
	}
	if spec.ClipHorizontalFovDeg != 180 || spec.ClipVerticalFovDeg != 180 {
		t.Errorf("clip fov = %vx%v, want 180x180", spec.ClipHorizontalFovDeg, spec.ClipVerticalFovDeg)
	}
	if spec.VerticalSliceCount != 60 || spec.HorizontalSliceCount != 60 {
		t.Errorf("slice counts = %dx%d, want 60x60", spec.VerticalSliceCount, spec.HorizontalSliceCount)
	}
	if spec.Radius != 10000 {
		t.Errorf("radius = %v, want 10000", spec.Radius)
	}
	if transform.RotationDeg.Y != -90 {
		t.Errorf("yaw = %v, want -90", transform.RotationDeg.Y)
	}

	if _, err := Generate(spec); err != nil {
		t.Errorf("Generate(HalfSphere) error = %v", err)
	}
}

func TestSpherePreset(t *testing.T) {
	spec, transform := Sphere()

	if spec.SourceHorizontalFovDeg != 360 || spec.SourceVerticalFovDeg != 180 {
		t.Errorf("source fov = %vx%v, want 360x180", spec.SourceHorizontalFovDeg, spec.SourceVerticalFovDeg)
	}
	if spec.ClipHorizontalFovDeg != 360 || spec.ClipVerticalFovDeg != 180 {
		t.Errorf("clip fov = %vx%v, want 360x180", spec.ClipHorizontalFovDeg, spec.ClipVerticalFovDeg)
	}
	if transform != IdentityTransform() {
		t.Errorf("transform = %+v, want identity", transform)
	}

	mesh, err := Generate(spec)
	if err != nil {
		t.Fatalf("Generate(Sphere) error = %v", err)
	}
	// Full sphere: UVs span the whole unit square.
	var minU, maxU float32 = 1, 0
	for _, uv := range mesh.UV {
		if uv.U < minU {
			minU = uv.U
		}
		if uv.U > maxU {
			maxU = uv.U
		}
	}
	if minU != 0 || maxU != 1 {
		t.Errorf("U span = [%v, %v], want [0, 1]", minU, maxU)
	}
}

func TestVariableFovPreset(t *testing.T) {
	tests := []struct {
		name         string
		horizontal   float32
		aspect       float32
		wantVertical float64
	}{
		{name: "wide photo", horizontal: 90, aspect: 2, wantVertical: 45},
		{name: "square photo", horizontal: 120, aspect: 1, wantVertical: 120},
		{name: "tall photo clamps", horizontal: 100, aspect: 0.5, wantVertical: 180},
		{name: "zero aspect clamps", horizontal: 90, aspect: 0, wantVertical: 180},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, transform := VariableFov(tt.horizontal, tt.aspect)

			if math.Abs(float64(spec.SourceVerticalFovDeg)-tt.wantVertical) > 1e-4 {
				t.Errorf("vertical fov = %v, want %v", spec.SourceVerticalFovDeg, tt.wantVertical)
			}
			if spec.ClipVerticalFovDeg != spec.SourceVerticalFovDeg {
				t.Errorf("clip vertical %v != source vertical %v", spec.ClipVerticalFovDeg, spec.SourceVerticalFovDeg)
			}
			if spec.ClipHorizontalFovDeg != tt.horizontal {
				t.Errorf("clip horizontal = %v, want %v", spec.ClipHorizontalFovDeg, tt.horizontal)
			}
			if transform != IdentityTransform() {
				t.Errorf("transform = %+v, want identity", transform)
			}
		})
	}
}

func TestEncodeBinaryRoundTrip(t *testing.T) {
	spec := fullSphereSpec()
	spec.VerticalSliceCount = 8
	spec.HorizontalSliceCount = 4

	mesh, err := Generate(spec)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	data, err := mesh.EncodeBinary()
	if err != nil {
		t.Fatalf("EncodeBinary() error = %v", err)
	}

	decoded, err := DecodeBinary(data)
	if err != nil {
		t.Fatalf("DecodeBinary() error = %v", err)
	}

	if len(decoded.Positions) != len(mesh.Positions) || len(decoded.Indices) != len(mesh.Indices) {
		t.Fatalf("decoded sizes %d/%d, want %d/%d",
			len(decoded.Positions), len(decoded.Indices), len(mesh.Positions), len(mesh.Indices))
	}
	for i := range mesh.Positions {
		if decoded.Positions[i] != mesh.Positions[i] {
			t.Fatalf("position %d = %+v, want %+v", i, decoded.Positions[i], mesh.Positions[i])
		}
	}
	for i := range mesh.Indices {
		if decoded.Indices[i] != mesh.Indices[i] {
			t.Fatalf("index %d = %d, want %d", i, decoded.Indices[i], mesh.Indices[i])
		}
	}
}

func TestDecodeBinaryRejectsGarbage(t *testing.T) {
	if _, err := DecodeBinary([]byte("not a mesh")); err == nil {
		t.Error("DecodeBinary(garbage) error = nil, want error")
	}
}

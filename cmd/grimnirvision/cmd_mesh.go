/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_vision/internal/geometry"
)

var meshCmd = &cobra.Command{
	Use:   "mesh",
	Short: "Generate a projection mesh offline",
	Long:  "Generate a projection mesh for a preset and print its stats, optionally writing the wire-form binary for renderer debugging",
	RunE:  runMesh,
}

var (
	meshProjection string
	meshFov        float32
	meshAspect     float32
	meshVSlices    int
	meshHSlices    int
	meshOut        string
)

func init() {
	rootCmd.AddCommand(meshCmd)

	meshCmd.Flags().StringVar(&meshProjection, "projection", "half_sphere", "Projection preset: half_sphere, sphere, or fov")
	meshCmd.Flags().Float32Var(&meshFov, "fov", 120, "Horizontal FOV in degrees (projection=fov)")
	meshCmd.Flags().Float32Var(&meshAspect, "aspect", 16.0/9.0, "Source aspect ratio (projection=fov)")
	meshCmd.Flags().IntVar(&meshVSlices, "vslices", 0, "Vertical slice count override (0 = preset default)")
	meshCmd.Flags().IntVar(&meshHSlices, "hslices", 0, "Horizontal slice count override (0 = preset default)")
	meshCmd.Flags().StringVar(&meshOut, "out", "", "Write the wire-form binary mesh to this file")
}

func runMesh(cmd *cobra.Command, args []string) error {
	var (
		spec      geometry.ProjectionSurfaceSpec
		transform geometry.Transform
	)

	switch meshProjection {
	case "half_sphere":
		spec, transform = geometry.HalfSphere()
	case "sphere":
		spec, transform = geometry.Sphere()
	case "fov":
		spec, transform = geometry.VariableFov(meshFov, meshAspect)
	default:
		return fmt.Errorf("unknown projection %q: must be half_sphere, sphere, or fov", meshProjection)
	}

	if meshVSlices > 0 {
		spec.VerticalSliceCount = meshVSlices
	}
	if meshHSlices > 0 {
		spec.HorizontalSliceCount = meshHSlices
	}

	mesh, err := geometry.Generate(spec)
	if err != nil {
		return fmt.Errorf("generate mesh: %w", err)
	}

	stats := mesh.Stats()
	fmt.Printf("Projection: %s\n", meshProjection)
	fmt.Printf("  Source FOV: %.0fx%.0f deg\n", spec.SourceHorizontalFovDeg, spec.SourceVerticalFovDeg)
	fmt.Printf("  Clip FOV:   %.0fx%.0f deg\n", spec.ClipHorizontalFovDeg, spec.ClipVerticalFovDeg)
	fmt.Printf("  Grid:       %dx%d slices\n", spec.VerticalSliceCount, spec.HorizontalSliceCount)
	fmt.Printf("  Vertices:   %d\n", stats.Vertices)
	fmt.Printf("  Triangles:  %d\n", stats.Triangles)
	fmt.Printf("  Transform:  pos=%v rot=%v\n", transform.Position, transform.RotationDeg)

	if meshOut == "" {
		return nil
	}

	data, err := mesh.EncodeBinary()
	if err != nil {
		return fmt.Errorf("encode mesh: %w", err)
	}
	if err := os.WriteFile(meshOut, data, 0644); err != nil {
		return fmt.Errorf("write mesh: %w", err)
	}
	fmt.Printf("  Wire form:  %d bytes -> %s\n", len(data), meshOut)

	return nil
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package surface keeps the projection render surface in sync with the
// stream being played: it owns the current surface spec, regenerates the
// mesh when the projection changes, and never tears down a working surface
// for a broken replacement.
package surface

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_vision/internal/events"
	"github.com/friendsincode/grimnir_vision/internal/geometry"
	"github.com/friendsincode/grimnir_vision/internal/playback"
	"github.com/friendsincode/grimnir_vision/internal/telemetry"
)

// Projection kinds accepted in stream descriptors.
const (
	ProjectionHalfSphere = "half_sphere"
	ProjectionSphere     = "sphere"
	ProjectionFov        = "fov"
)

// RenderSurface receives generated meshes. Implementations deliver them to
// whatever does the actual drawing.
type RenderSurface interface {
	ApplyMesh(mesh *geometry.ProjectionMesh, transform geometry.Transform) error
}

// DescriptorFunc returns the authoritative stream descriptor. The
// coordinator re-reads it on every geometry notification instead of
// trusting event payloads, because bus delivery may drop under load.
type DescriptorFunc func() playback.StreamDescriptor

// Coordinator rebuilds the projection mesh on demand and on
// geometry.changed notifications. A failed rebuild keeps the previous mesh
// on the surface.
type Coordinator struct {
	logger  zerolog.Logger
	bus     *events.Bus
	surface RenderSurface
	source  DescriptorFunc

	mu        sync.Mutex
	spec      geometry.ProjectionSurfaceSpec
	transform geometry.Transform
	mesh      *geometry.ProjectionMesh

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator creates a coordinator seeded with the half-sphere
// projection. The initial mesh is generated eagerly so the surface is
// never empty.
func NewCoordinator(surface RenderSurface, source DescriptorFunc, bus *events.Bus, logger zerolog.Logger) (*Coordinator, error) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		logger:  logger.With().Str("component", "surface_coordinator").Logger(),
		bus:     bus,
		surface: surface,
		source:  source,
		ctx:     ctx,
		cancel:  cancel,
	}

	spec, transform := geometry.HalfSphere()
	if err := c.Configure(spec, transform); err != nil {
		cancel()
		return nil, fmt.Errorf("initial surface: %w", err)
	}
	return c, nil
}

// Start subscribes to geometry change notifications.
func (c *Coordinator) Start() {
	sub := c.bus.Subscribe(events.EventGeometryChanged)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.bus.Unsubscribe(events.EventGeometryChanged, sub)
		for {
			select {
			case <-c.ctx.Done():
				return
			case _, ok := <-sub:
				if !ok {
					return
				}
				c.reconfigureFromDescriptor()
			}
		}
	}()
}

// Stop halts the notification listener.
func (c *Coordinator) Stop() {
	c.cancel()
	c.wg.Wait()
}

// Configure regenerates the mesh for an explicit spec. On failure the
// previous spec and mesh stay live and the error is reported.
func (c *Coordinator) Configure(spec geometry.ProjectionSurfaceSpec, transform geometry.Transform) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	mesh, err := geometry.Generate(spec)
	if err != nil {
		telemetry.MeshRebuildsTotal.WithLabelValues("error").Inc()
		c.bus.Publish(events.EventMeshFailed, events.Payload{
			"error": err.Error(),
		})
		c.logger.Error().Err(err).Msg("mesh generation failed, keeping previous surface")
		return err
	}

	if err := c.surface.ApplyMesh(mesh, transform); err != nil {
		telemetry.MeshRebuildsTotal.WithLabelValues("apply_error").Inc()
		c.bus.Publish(events.EventMeshFailed, events.Payload{
			"error": err.Error(),
		})
		c.logger.Error().Err(err).Msg("mesh apply failed, keeping previous surface")
		return err
	}

	c.spec = spec
	c.transform = transform
	c.mesh = mesh

	stats := mesh.Stats()
	telemetry.MeshRebuildsTotal.WithLabelValues("ok").Inc()
	telemetry.MeshVertices.Set(float64(stats.Vertices))
	c.bus.Publish(events.EventMeshRegenerated, events.Payload{
		"vertices":  stats.Vertices,
		"triangles": stats.Triangles,
	})
	c.logger.Debug().
		Int("vertices", stats.Vertices).
		Int("triangles", stats.Triangles).
		Msg("surface mesh regenerated")
	return nil
}

// ConfigureForDescriptor maps a stream descriptor onto a projection preset
// and applies it.
func (c *Coordinator) ConfigureForDescriptor(desc playback.StreamDescriptor) error {
	spec, transform := specForDescriptor(desc)
	return c.Configure(spec, transform)
}

func (c *Coordinator) reconfigureFromDescriptor() {
	if c.source == nil {
		return
	}
	if err := c.ConfigureForDescriptor(c.source()); err != nil {
		// Already reported by Configure; the notification loop keeps going.
		return
	}
}

// CurrentMesh returns the last successfully generated mesh and its
// transform.
func (c *Coordinator) CurrentMesh() (*geometry.ProjectionMesh, geometry.Transform) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mesh, c.transform
}

// CurrentSpec returns the live surface spec.
func (c *Coordinator) CurrentSpec() geometry.ProjectionSurfaceSpec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spec
}

// specForDescriptor maps descriptor projection fields to a preset.
// Unknown or empty kinds fall back to the half sphere.
func specForDescriptor(desc playback.StreamDescriptor) (geometry.ProjectionSurfaceSpec, geometry.Transform) {
	switch desc.Projection {
	case ProjectionSphere:
		return geometry.Sphere()
	case ProjectionFov:
		return geometry.VariableFov(desc.FovDeg(), desc.AspectRatio)
	default:
		return geometry.HalfSphere()
	}
}

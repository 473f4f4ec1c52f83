/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package surface

import (
	"sync"

	"github.com/friendsincode/grimnir_vision/internal/geometry"
)

// Store is a RenderSurface that retains the latest mesh in wire form for
// render clients polling over HTTP. Encoding happens once per rebuild, not
// per download.
type Store struct {
	mu        sync.RWMutex
	encoded   []byte
	transform geometry.Transform
	stats     geometry.MeshStats
}

func NewStore() *Store {
	return &Store{}
}

// ApplyMesh encodes and retains the mesh.
func (s *Store) ApplyMesh(mesh *geometry.ProjectionMesh, transform geometry.Transform) error {
	encoded, err := mesh.EncodeBinary()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.encoded = encoded
	s.transform = transform
	s.stats = mesh.Stats()
	return nil
}

// Latest returns the wire-form mesh and its transform. ok is false until
// the first successful apply.
func (s *Store) Latest() (encoded []byte, transform geometry.Transform, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.encoded, s.transform, len(s.encoded) > 0
}

// Stats returns vertex and triangle counts for the retained mesh.
func (s *Store) Stats() geometry.MeshStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

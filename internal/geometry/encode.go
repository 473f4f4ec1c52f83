/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package geometry

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

// Wire framing for meshes crossing the render-surface or HTTP boundary:
// gzip over little-endian records. Header is two int32 counts (vertices,
// indices) followed by positions, normals, UVs, and indices in that order.

const maxWireVertices = 1 << 24 // sanity bound for decode

// EncodeBinary serializes the mesh in the compressed wire form.
func (m *ProjectionMesh) EncodeBinary() ([]byte, error) {
	var buf bytes.Buffer

	binary.Write(&buf, binary.LittleEndian, int32(len(m.Positions)))
	binary.Write(&buf, binary.LittleEndian, int32(len(m.Indices)))
	binary.Write(&buf, binary.LittleEndian, m.Positions)
	binary.Write(&buf, binary.LittleEndian, m.Normals)
	binary.Write(&buf, binary.LittleEndian, m.UV)
	binary.Write(&buf, binary.LittleEndian, m.Indices)

	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	if _, err := gz.Write(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("compress mesh: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("compress mesh: %w", err)
	}

	return compressed.Bytes(), nil
}

// DecodeBinary reverses EncodeBinary.
func DecodeBinary(data []byte) (*ProjectionMesh, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decompress mesh: %w", err)
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("decompress mesh: %w", err)
	}
	r := bytes.NewReader(raw)

	var vertexCount, indexCount int32
	if err := binary.Read(r, binary.LittleEndian, &vertexCount); err != nil {
		return nil, fmt.Errorf("read mesh header: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &indexCount); err != nil {
		return nil, fmt.Errorf("read mesh header: %w", err)
	}
	if vertexCount < 0 || vertexCount > maxWireVertices || indexCount < 0 || indexCount > maxWireVertices*6 {
		return nil, fmt.Errorf("mesh header out of range: %d vertices, %d indices", vertexCount, indexCount)
	}

	mesh := &ProjectionMesh{
		Positions: make([]Vec3, vertexCount),
		Normals:   make([]Vec3, vertexCount),
		UV:        make([]Vec2, vertexCount),
		Indices:   make([]uint32, indexCount),
	}
	if err := binary.Read(r, binary.LittleEndian, mesh.Positions); err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, mesh.Normals); err != nil {
		return nil, fmt.Errorf("read normals: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, mesh.UV); err != nil {
		return nil, fmt.Errorf("read uv: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, mesh.Indices); err != nil {
		return nil, fmt.Errorf("read indices: %w", err)
	}

	return mesh, nil
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/friendsincode/grimnir_vision/internal/media"
)

// handleMediaList returns the library catalog from the last scan.
func (a *API) handleMediaList(w http.ResponseWriter, r *http.Request) {
	entries := a.library.Entries()
	if entries == nil {
		entries = []media.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":      entries,
		"count":        len(entries),
		"last_scanned": a.library.LastScanned(),
	})
}

// handleMediaScan walks the media root and rebuilds the catalog.
func (a *API) handleMediaScan(w http.ResponseWriter, r *http.Request) {
	result, err := a.library.Scan(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("library scan failed")
		writeError(w, http.StatusInternalServerError, "scan_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"found":       result.Found,
		"skipped":     result.Skipped,
		"errors":      result.Errors,
		"duration_ms": result.Duration.Milliseconds(),
	})
}

func (a *API) handleMediaUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadBytes)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_multipart")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file_required")
		return
	}
	defer file.Close()

	kind := media.Kind(r.FormValue("kind"))
	if kind == "" {
		detected, ok := media.KindForPath(header.Filename)
		if !ok {
			writeError(w, http.StatusBadRequest, "unsupported_media_type")
			return
		}
		kind = detected
	}
	if kind != media.KindVideo && kind != media.KindPhoto {
		writeError(w, http.StatusBadRequest, "invalid_kind")
		return
	}

	// Photos are probed before storing so the client learns the source
	// aspect ratio without a second round trip. Videos are opaque here;
	// the playback engine reports their dimensions once decoding starts.
	var probe *media.ProbeResult
	if kind == media.KindPhoto {
		probe, err = media.Probe(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_image")
			return
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			a.logger.Error().Err(err).Msg("upload rewind failed")
			writeError(w, http.StatusInternalServerError, "media_store_failed")
			return
		}
	}

	mediaID := uuid.NewString()
	ext := strings.ToLower(filepath.Ext(header.Filename))

	storedPath, err := a.media.Store(r.Context(), string(kind), mediaID, ext, file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "media_store_failed")
		return
	}

	resp := map[string]any{
		"id":         mediaID,
		"kind":       kind,
		"path":       storedPath,
		"url":        a.media.URL(storedPath),
		"filename":   header.Filename,
		"size_bytes": header.Size,
	}
	if probe != nil {
		resp["width"] = probe.Width
		resp["height"] = probe.Height
		resp["aspect_ratio"] = probe.AspectRatio
	}

	writeJSON(w, http.StatusCreated, resp)
}

type probeRequest struct {
	Path string `json:"path"`
}

// handleMediaProbe reports the pixel dimensions of a library image so
// clients can pick projection defaults before opening it.
func (a *API) handleMediaProbe(w http.ResponseWriter, r *http.Request) {
	var req probeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path_required")
		return
	}

	abs, err := a.library.Resolve(req.Path)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}

	result, err := media.ProbeFile(abs)
	if err != nil {
		writeError(w, http.StatusBadRequest, "probe_failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

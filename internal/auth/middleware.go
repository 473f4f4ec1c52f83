/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"context"
	"net/http"
	"path"
	"strings"
)

// DeviceKeyValidator checks device keys presented via the X-API-Key header.
type DeviceKeyValidator interface {
	ValidateDeviceKey(ctx context.Context, key string) (*Claims, error)
}

// Middleware enforces authentication on every request. Device keys are
// checked before bearer tokens. Websocket endpoints may carry the token
// in a query parameter because browsers cannot set headers on upgrade
// requests.
func Middleware(secret []byte, keys DeviceKeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key := r.Header.Get("X-API-Key"); key != "" {
				if keys == nil {
					unauthorized(w)
					return
				}
				claims, err := keys.ValidateDeviceKey(r.Context(), key)
				if err != nil {
					unauthorized(w)
					return
				}
				next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
				return
			}

			token := bearerToken(r)
			if token == "" && isSessionSocketPath(r.URL.Path) {
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				unauthorized(w)
				return
			}

			claims, err := Parse(secret, token)
			if err != nil {
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// isSessionSocketPath matches /api/v1/sessions/{id}/ws and nothing else.
func isSessionSocketPath(p string) bool {
	cleaned := path.Clean(p)
	const prefix = "/api/v1/sessions/"
	if !strings.HasPrefix(cleaned, prefix) {
		return false
	}
	id, tail, found := strings.Cut(cleaned[len(prefix):], "/")
	return found && id != "" && tail == "ws"
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package version

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.2.0", "1.2.0", 0},
		{"1.2.0", "1.2.1", -1},
		{"1.10.0", "1.9.9", 1},
		{"v1.2.0", "1.2.0", 0},
		{"2.0.0-rc1", "2.0.0", 0},
		{"1.2", "1.2.0", 0},
		{"0.9.5", "1.0.0", -1},
	}
	for _, tc := range tests {
		if got := Compare(tc.a, tc.b); got != tc.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestCheckerFlagsNewerRelease(t *testing.T) {
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tag_name":"v99.0.0","html_url":"https://example.com/releases/99"}`))
	}))
	defer feed.Close()

	c := NewChecker(zerolog.Nop())
	c.url = feed.URL
	c.check(context.Background())

	info := c.Info()
	if !info.UpdateAvailable {
		t.Fatal("expected the newer release to be flagged")
	}
	if info.LatestVersion != "99.0.0" {
		t.Errorf("unexpected latest version: %q", info.LatestVersion)
	}
	if info.ReleaseURL != "https://example.com/releases/99" {
		t.Errorf("unexpected release url: %q", info.ReleaseURL)
	}
	if info.CheckedAt.IsZero() {
		t.Error("check time not recorded")
	}
}

func TestCheckerIgnoresFeedErrors(t *testing.T) {
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer feed.Close()

	c := NewChecker(zerolog.Nop())
	c.url = feed.URL
	c.check(context.Background())

	info := c.Info()
	if info.UpdateAvailable {
		t.Fatal("errored check must not flag an update")
	}
	if !info.CheckedAt.IsZero() {
		t.Error("errored check must not overwrite the last result")
	}
	if info.CurrentVersion != Version {
		t.Errorf("current version lost: %q", info.CurrentVersion)
	}
}

func TestCheckerSameVersionNotFlagged(t *testing.T) {
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tag_name":"v` + Version + `","html_url":"https://example.com/releases/current"}`))
	}))
	defer feed.Close()

	c := NewChecker(zerolog.Nop())
	c.url = feed.URL
	c.check(context.Background())

	if c.Info().UpdateAvailable {
		t.Fatal("running the latest release must not flag an update")
	}
}

package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func writeLibraryFixture(t *testing.T, root, rel string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte("x"), 0644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func TestLibraryScanClassifiesEntries(t *testing.T) {
	root := t.TempDir()
	writeLibraryFixture(t, root, "tours/lobby.mp4")
	writeLibraryFixture(t, root, "panos/atrium.jpg")
	writeLibraryFixture(t, root, "notes.txt")

	lib := NewLibrary(root, zerolog.Nop())
	result, err := lib.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if result.Found != 2 {
		t.Errorf("Found = %d, want 2", result.Found)
	}
	if result.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", result.Skipped)
	}

	entries := lib.Entries()
	if len(entries) != 2 {
		t.Fatalf("Entries() returned %d, want 2", len(entries))
	}
	// Sorted by path.
	if entries[0].Path != "panos/atrium.jpg" || entries[0].Kind != KindPhoto {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1].Path != "tours/lobby.mp4" || entries[1].Kind != KindVideo {
		t.Errorf("entries[1] = %+v", entries[1])
	}

	if lib.LastScanned().IsZero() {
		t.Error("LastScanned not set after scan")
	}
}

func TestLibraryResolve(t *testing.T) {
	root := t.TempDir()
	lib := NewLibrary(root, zerolog.Nop())

	abs, err := lib.Resolve("panos/atrium.jpg")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !filepath.IsAbs(abs) {
		t.Errorf("resolved path %q is not absolute", abs)
	}
	if !strings.HasPrefix(abs, root) {
		t.Errorf("resolved path %q escapes root %q", abs, root)
	}

	for _, bad := range []string{"../etc/passwd", "a/../../secrets", ".."} {
		if _, err := lib.Resolve(bad); err == nil {
			t.Errorf("Resolve(%q) should fail", bad)
		}
	}
}

func TestKindForPath(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		ok   bool
	}{
		{"clip.mp4", KindVideo, true},
		{"CLIP.MKV", KindVideo, true},
		{"pano.jpeg", KindPhoto, true},
		{"pano.PNG", KindPhoto, true},
		{"readme.md", "", false},
		{"noext", "", false},
	}

	for _, tt := range tests {
		kind, ok := KindForPath(tt.name)
		if kind != tt.kind || ok != tt.ok {
			t.Errorf("KindForPath(%q) = (%q, %v), want (%q, %v)", tt.name, kind, ok, tt.kind, tt.ok)
		}
	}
}

package media

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestProbePNG(t *testing.T) {
	res, err := Probe(bytes.NewReader(encodePNG(t, 128, 64)))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if res.Width != 128 || res.Height != 64 {
		t.Errorf("dimensions = %dx%d, want 128x64", res.Width, res.Height)
	}
	if res.Format != "png" {
		t.Errorf("format = %q, want png", res.Format)
	}
	if res.AspectRatio != 2.0 {
		t.Errorf("aspect = %v, want 2.0", res.AspectRatio)
	}
}

func TestProbeJPEG(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 96, 96)), nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}

	res, err := Probe(&buf)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if res.Width != 96 || res.Height != 96 {
		t.Errorf("dimensions = %dx%d, want 96x96", res.Width, res.Height)
	}
	if res.Format != "jpeg" {
		t.Errorf("format = %q, want jpeg", res.Format)
	}
	if res.AspectRatio != 1.0 {
		t.Errorf("aspect = %v, want 1.0", res.AspectRatio)
	}
}

func TestProbeRejectsGarbage(t *testing.T) {
	if _, err := Probe(bytes.NewReader([]byte("definitely not an image"))); err == nil {
		t.Fatal("expected error for non-image data")
	}
}

func TestProbeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pano.png")
	if err := os.WriteFile(path, encodePNG(t, 256, 128), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	res, err := ProbeFile(path)
	if err != nil {
		t.Fatalf("ProbeFile: %v", err)
	}
	if res.Width != 256 || res.Height != 128 {
		t.Errorf("dimensions = %dx%d, want 256x128", res.Width, res.Height)
	}

	if _, err := ProbeFile(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

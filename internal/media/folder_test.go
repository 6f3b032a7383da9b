package media

import (
	"testing"

	"github.com/angelmondragon/studioflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
)

func TestParseSourceFolder(t *testing.T) {
	got, err := ParseSourceFolder("acme/session-42/cam_a_916_1080p/raw/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Company != "acme" || got.Session != "session-42" {
		t.Fatalf("unexpected company/session: %+v", got)
	}
	if got.Device != "cam_a" {
		t.Fatalf("expected device with underscores preserved, got %q", got.Device)
	}
	if got.Aspect != enums.AspectCodePortrait || got.Resolution != "1080p" {
		t.Fatalf("unexpected aspect/resolution: %+v", got)
	}
	if got.Path() != "acme/session-42/cam_a_916_1080p/raw/" {
		t.Fatalf("unexpected canonical path %q", got.Path())
	}
}

func TestParseSourceFolderRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"too few segments": "acme/session/raw",
		"wrong suffix":     "acme/session/cam_169_4k/edited",
		"unknown aspect":   "acme/session/cam_43_4k/raw",
		"missing parts":    "acme/session/cam4k/raw",
		"empty":            "  ",
		"too many":         "acme/a/b/cam_11_720p/raw",
	}
	for name, input := range cases {
		_, err := ParseSourceFolder(input)
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestContentTypeFor(t *testing.T) {
	if ContentTypeFor("clip.MOV") != "video/quicktime" {
		t.Fatalf("expected quicktime for .MOV")
	}
	if !IsVideoFile("a/b/c.mp4") || IsVideoFile("notes.txt") {
		t.Fatalf("IsVideoFile misclassified")
	}
	if ImageFormat("thumb.jpg") != "jpeg" || ImageFormat("clip.mp4") != "" {
		t.Fatalf("ImageFormat misclassified")
	}
}

func TestCosineDistance(t *testing.T) {
	if d := CosineDistance([]float32{1, 0}, []float32{1, 0}); d > 1e-9 {
		t.Fatalf("identical vectors should have distance 0, got %f", d)
	}
	if d := CosineDistance([]float32{1, 0}, []float32{0, 1}); d < 0.999 || d > 1.001 {
		t.Fatalf("orthogonal vectors should have distance 1, got %f", d)
	}
	if d := CosineDistance([]float32{0, 0}, []float32{1, 1}); d != 1 {
		t.Fatalf("zero vector should be maximally distant, got %f", d)
	}
}

package video_test

import (
	"image"
	"path/filepath"
	"testing"

	"espresso-flow-vision/internal/frames"
	"espresso-flow-vision/internal/video"
)

func TestPreviewTimeFor(t *testing.T) {
	cases := []struct {
		duration float64
		want     float64
	}{
		{0, 0},
		{8, 2},
		{20, 5},
		{60, 5},
	}
	for _, tc := range cases {
		if got := video.PreviewTimeFor(tc.duration); got != tc.want {
			t.Fatalf("PreviewTimeFor(%v) = %v, want %v", tc.duration, got, tc.want)
		}
	}
}

func TestScaledSize(t *testing.T) {
	w, h := video.ScaledSize(1920, 1080, 0.6)
	if w != 1152 || h != 648 {
		t.Fatalf("ScaledSize = %dx%d, want 1152x648", w, h)
	}
}

func TestScaledROIClip(t *testing.T) {
	roi := frames.ROI{X: 100, Y: 50, W: 200, H: 100}
	got := roi.Scale(0.5).Clip(960, 540)
	if got != image.Rect(50, 25, 150, 75) {
		t.Fatalf("scaled clip = %v", got)
	}
}

func TestLastDecodable(t *testing.T) {
	cases := []struct {
		name     string
		last     int
		readable int
		want     int
	}{
		{"count exact", 99, 99, 99},
		{"count overestimated", 120, 87, 87},
		{"single frame", 3, 0, 0},
		{"nothing decodes", 10, -1, -1},
		{"empty", -1, 5, -1},
	}
	for _, tc := range cases {
		probes := 0
		got := video.LastDecodable(tc.last, func(i int) bool {
			probes++
			return i <= tc.readable
		})
		if got != tc.want {
			t.Fatalf("%s: LastDecodable = %d, want %d", tc.name, got, tc.want)
		}
		if probes > 10 {
			t.Fatalf("%s: %d probes, want a bounded search", tc.name, probes)
		}
	}
}

func TestOpenRejectsScale(t *testing.T) {
	if _, err := video.Open("missing.mp4", video.Options{Scale: 0.1}); err == nil {
		t.Fatal("expected scale error")
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, err := video.Open(filepath.Join(t.TempDir(), "missing.mp4"), video.Options{Scale: 0.6})
	if err == nil {
		t.Fatal("expected error for missing video")
	}
}

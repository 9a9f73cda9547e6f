package memory_test

import (
	"testing"

	"espresso-flow-vision/internal/opencv/memory"

	"gocv.io/x/gocv"
)

func TestScopeCloseReleasesEverything(t *testing.T) {
	mgr := memory.NewManager(nil)
	scope := mgr.NewScope("frame")

	if _, err := scope.NewMat(4, 4, gocv.MatTypeCV8UC1, "gray"); err != nil {
		t.Fatalf("NewMat: %v", err)
	}
	if _, err := scope.Empty("labels"); err != nil {
		t.Fatalf("Empty: %v", err)
	}

	leaks := mgr.Leaks()
	if len(leaks) != 2 {
		t.Fatalf("open mats = %v, want 2", leaks)
	}
	for _, tag := range leaks {
		if tag != "frame/gray" && tag != "frame/labels" {
			t.Fatalf("unexpected tag %q", tag)
		}
	}

	scope.Close()
	if leaks := mgr.Leaks(); len(leaks) != 0 {
		t.Fatalf("leaks after Close = %v", leaks)
	}
	stats := mgr.GetStats()
	if stats.ActiveMats != 0 || stats.PeakActiveMats != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

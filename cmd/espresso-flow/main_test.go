package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"espresso-flow-vision/internal/config"
	"espresso-flow-vision/internal/experiment"
	"espresso-flow-vision/internal/frames"
	"espresso-flow-vision/internal/flow"
	"espresso-flow-vision/internal/history"
	"espresso-flow-vision/internal/logger"
	"espresso-flow-vision/internal/opencv/memory"
	"espresso-flow-vision/internal/pipeline"
	"espresso-flow-vision/internal/score"
	"espresso-flow-vision/internal/timing"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(home)
	return home
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConfigInitAndShow(t *testing.T) {
	home := isolate(t)
	target := filepath.Join(home, "custom.toml")

	out, err := execute(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, target) {
		t.Fatalf("init output = %q", out)
	}
	if _, err := execute(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected error when config exists without --overwrite")
	}

	out, err = execute(t, "--config", target, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "sample_rate_hz") || !strings.Contains(out, "# source: "+target) {
		t.Fatalf("show output = %q", out)
	}
}

func TestHistoryCommands(t *testing.T) {
	home := isolate(t)

	out, err := execute(t, "history", "list")
	if err != nil {
		t.Fatalf("history list: %v", err)
	}
	if !strings.Contains(out, "No saved experiments") {
		t.Fatalf("empty list output = %q", out)
	}

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	store, err := history.Open(cfg.Paths.HistoryPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	exp := experiment.New("shot.mp4", &pipeline.ShotMetrics{Score: 88, Frames: 3, Series: frames.Series{frames.NewFrameSample(0, []int{50})}},
		experiment.BrewInputs{Dose: "18", Output: "36", TDS: "9", Balance: "balanced"}, time.UnixMilli(1_700_000_000_000))
	if err := store.Save(context.Background(), &exp); err != nil {
		t.Fatalf("save: %v", err)
	}
	_ = store.Close()

	out, err = execute(t, "history", "list")
	if err != nil {
		t.Fatalf("history list: %v", err)
	}
	if !strings.Contains(out, "1700000000000") || !strings.Contains(out, "Balanced") {
		t.Fatalf("list output = %q", out)
	}

	out, err = execute(t, "history", "show", "1700000000000")
	if err != nil {
		t.Fatalf("history show: %v", err)
	}
	if !strings.Contains(out, "18.00 %") || !strings.Contains(out, "1 frames") {
		t.Fatalf("show output = %q", out)
	}

	exportPath := filepath.Join(home, "history.csv")
	if _, err := execute(t, "history", "export", "--out", exportPath); err != nil {
		t.Fatalf("history export: %v", err)
	}
	data, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.HasPrefix(string(data), "timestamp,dose_g,output_g") {
		t.Fatalf("export = %q", data)
	}

	if _, err := execute(t, "history", "delete", "1700000000000"); err != nil {
		t.Fatalf("history delete: %v", err)
	}
	if _, err := execute(t, "history", "delete", "1700000000000"); err == nil {
		t.Fatal("expected not-found error on second delete")
	}
}

func TestParseExperimentID(t *testing.T) {
	if _, err := parseExperimentID("abc"); err == nil {
		t.Fatal("expected error for non-numeric id")
	}
	if _, err := parseExperimentID("0"); err == nil {
		t.Fatal("expected error for zero id")
	}
	if id, err := parseExperimentID(" 42 "); err != nil || id != 42 {
		t.Fatalf("parseExperimentID = %d, %v", id, err)
	}
}

func TestRenderMetricsShowsUnknownFlow(t *testing.T) {
	m := &pipeline.ShotMetrics{
		Score:           72,
		Frames:          40,
		SampledCount:    60,
		Window:          frames.ExtractionWindow{StartSec: 1.5, EndSec: 5.4},
		DurationSec:     3.9,
		Recommendations: []score.Recommendation{{Code: score.CodeStableFlow, Message: "steady"}},
	}
	table := renderMetrics(m)
	if !strings.Contains(table, "72 / 100") || !strings.Contains(table, "1.50s - 5.40s") {
		t.Fatalf("table = %s", table)
	}
	if !strings.Contains(table, "—") {
		t.Fatalf("expected placeholder for unknown flow: %s", table)
	}
	if recs := renderRecommendations(m); !strings.Contains(recs, "[stable_flow] steady") {
		t.Fatalf("recommendations = %q", recs)
	}
}

func TestResolveScale(t *testing.T) {
	cfg := config.Default()
	if got := resolveScale(0, &cfg); got != cfg.Analysis.Scale {
		t.Fatalf("resolveScale(0) = %v", got)
	}
	if got := resolveScale(0.8, &cfg); got != 0.8 {
		t.Fatalf("resolveScale(0.8) = %v", got)
	}
}

func TestAnalyzeRejectsBadROI(t *testing.T) {
	isolate(t)
	if _, err := execute(t, "analyze", "missing.mp4", "--roi", "1,2,3"); err == nil {
		t.Fatal("expected roi parse error")
	}
}

// barProvider serves the same light frame with one dark bar at every timestamp.
type barProvider struct{ duration float64 }

func (p barProvider) Duration() float64 { return p.duration }

func (p barProvider) Sample(ctx context.Context, t float64) (frames.PixelRegion, error) {
	const width, height = 48, 32
	pix := make([]byte, width*height*4)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := byte(200)
			if x >= 20 && x < 24 && y >= 4 && y < height-4 {
				v = 30
			}
			i := (y*width + x) * 4
			pix[i], pix[i+1], pix[i+2], pix[i+3] = v, v, v, 255
		}
	}
	return frames.PixelRegion{Width: width, Height: height, Pix: pix}, nil
}

func TestNewRunnerRecordsSegmentationSteps(t *testing.T) {
	cfg := config.Default()
	mem := memory.NewManager(nil)
	tracker := timing.NewTracker()
	runner, err := newRunner(&cfg, mem, logger.NoOpLogger{}, tracker)
	if err != nil {
		t.Fatalf("newRunner: %v", err)
	}

	result, err := runner.Run(context.Background(), barProvider{duration: 0.4}, flow.Input{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, step := range []string{"grayscale_converter", "gaussian_filter", "adaptive_threshold", "morphology_filter"} {
		if got := len(tracker.GetTimings("segment/" + step)); got != result.SampledCount {
			t.Fatalf("%s timings = %d, want %d", step, got, result.SampledCount)
		}
	}
	if _, ok := tracker.Fields()["segment/adaptive_threshold_ms"]; !ok {
		t.Fatalf("fields = %v, want per-step entries", tracker.Fields())
	}
	if leaks := mem.Leaks(); len(leaks) != 0 {
		t.Fatalf("leaked mats %v", leaks)
	}
}

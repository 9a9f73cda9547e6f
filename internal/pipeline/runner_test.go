package pipeline_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"espresso-flow-vision/internal/flow"
	"espresso-flow-vision/internal/frames"
	"espresso-flow-vision/internal/logger"
	"espresso-flow-vision/internal/pipeline"
	"espresso-flow-vision/internal/score"
	"espresso-flow-vision/internal/timing"
)

// scheduleProvider hands out regions whose OffsetX is the frame index so the
// fakes below can look up scripted component areas.
type scheduleProvider struct {
	duration float64
	rate     float64
	failAt   int
	block    chan struct{}
	started  chan struct{}

	mu       sync.Mutex
	inFlight int
	overlap  bool
	times    []float64
}

func (p *scheduleProvider) Duration() float64 { return p.duration }

func (p *scheduleProvider) Sample(ctx context.Context, t float64) (frames.PixelRegion, error) {
	p.mu.Lock()
	p.inFlight++
	if p.inFlight > 1 {
		p.overlap = true
	}
	p.times = append(p.times, t)
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()

	if p.block != nil {
		if p.started != nil {
			close(p.started)
			p.started = nil
		}
		<-p.block
	}

	idx := int(math.Round(t * p.rate))
	if p.failAt > 0 && idx == p.failAt {
		return frames.PixelRegion{}, errors.New("decode error")
	}
	return frames.PixelRegion{OffsetX: idx}, nil
}

type indexSegmenter struct{}

func (indexSegmenter) Segment(ctx context.Context, region frames.PixelRegion) (frames.BinaryMask, error) {
	return frames.BinaryMask{Width: region.OffsetX}, nil
}

type scheduleExtractor struct {
	schedule [][]int
}

func (e scheduleExtractor) Extract(mask frames.BinaryMask, minArea int) ([]int, error) {
	if mask.Width >= len(e.schedule) {
		return nil, nil
	}
	var out []int
	for _, a := range e.schedule[mask.Width] {
		if a >= minArea {
			out = append(out, a)
		}
	}
	return out, nil
}

func singleJet(areas ...int) [][]int {
	schedule := make([][]int, len(areas))
	for i, a := range areas {
		if a > 0 {
			schedule[i] = []int{a}
		}
	}
	return schedule
}

func newRunner(t *testing.T, schedule [][]int) *pipeline.Runner {
	t.Helper()
	settings := pipeline.DefaultSettings()
	settings.MinBlobArea = 1
	runner, err := pipeline.NewRunner(settings, indexSegmenter{}, scheduleExtractor{schedule: schedule}, nil, timing.NewTracker())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return runner
}

func mass(v float64) *float64 { return &v }

func TestFrameTimes(t *testing.T) {
	times := pipeline.FrameTimes(0.8, 10)
	if len(times) != 9 {
		t.Fatalf("len = %d, want 9", len(times))
	}
	if math.Abs(times[8]-0.8) > 1e-9 {
		t.Fatalf("last = %v, want 0.8", times[8])
	}
	if got := pipeline.FrameTimes(0, 10); len(got) != 1 || got[0] != 0 {
		t.Fatalf("zero duration times = %v", got)
	}
	if got := pipeline.FrameTimes(math.NaN(), 10); got != nil {
		t.Fatalf("NaN duration times = %v", got)
	}
}

func TestRunDetectsWindowAndScores(t *testing.T) {
	runner := newRunner(t, singleJet(0, 0, 0, 50, 52, 51, 49, 0, 0))
	provider := &scheduleProvider{duration: 0.8, rate: 10}

	result, err := runner.Run(context.Background(), provider, flow.Input{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if runner.State() != pipeline.StateScored {
		t.Fatalf("state = %v, want scored", runner.State())
	}
	if result.Window.StartIndex != 3 || result.Window.EndIndex != 6 {
		t.Fatalf("window = %+v, want [3,6]", result.Window)
	}
	if result.Frames != 4 || result.SampledCount != 9 {
		t.Fatalf("frames = %d sampled = %d", result.Frames, result.SampledCount)
	}
	if math.Abs(result.DurationSec-0.3) > 1e-9 {
		t.Fatalf("duration = %v, want 0.3", result.DurationSec)
	}
	if result.JetsMean != 1 || result.JetsCV != 0 || result.Score != 0 {
		t.Fatalf("metrics = mean %v cv %v score %d", result.JetsMean, result.JetsCV, result.Score)
	}
	if result.AvgFlowGPS != nil || result.GiniMed != nil || result.FlowKnown() {
		t.Fatal("flow should be unknown without output mass")
	}
	if len(result.Recommendations) != 1 || result.Recommendations[0].Code != score.CodeStableFlow {
		t.Fatalf("recommendations = %+v", result.Recommendations)
	}
	if result.RunID == "" {
		t.Fatal("missing run id")
	}
	if provider.overlap {
		t.Fatal("provider saw overlapping Sample calls")
	}
}

func TestRunWithOutputMassEstimatesFlow(t *testing.T) {
	runner := newRunner(t, singleJet(0, 0, 0, 50, 52, 51, 49, 0, 0))
	provider := &scheduleProvider{duration: 0.8, rate: 10}

	result, err := runner.Run(context.Background(), provider, flow.Input{OutputMassG: mass(9)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.AvgFlowGPS == nil || math.Abs(*result.AvgFlowGPS-30) > 1e-6 {
		t.Fatalf("avg flow = %v, want 30", result.AvgFlowGPS)
	}
	if result.GiniMed == nil || *result.GiniMed != 0 {
		t.Fatalf("gini = %v, want 0", result.GiniMed)
	}
	if result.MaxShareMed == nil || *result.MaxShareMed != 1 {
		t.Fatalf("max share = %v, want 1", result.MaxShareMed)
	}
	if !result.FlowKnown() {
		t.Fatal("expected flow decomposition")
	}
	found := false
	for _, rec := range result.Recommendations {
		if rec.Code == score.CodeDominantChannel {
			found = true
		}
		if rec.Code == score.CodeStableFlow {
			t.Fatal("stable_flow must not accompany other recommendations")
		}
	}
	if !found {
		t.Fatalf("recommendations = %+v, want dominant_channel", result.Recommendations)
	}
}

func TestRunZeroMassSkipsFlow(t *testing.T) {
	runner := newRunner(t, singleJet(0, 0, 0, 50, 52, 51, 49, 0, 0))
	result, err := runner.Run(context.Background(), &scheduleProvider{duration: 0.8, rate: 10}, flow.Input{OutputMassG: mass(0)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.AvgFlowGPS != nil {
		t.Fatalf("avg flow = %v, want nil", *result.AvgFlowGPS)
	}
}

func TestRunProviderFailure(t *testing.T) {
	runner := newRunner(t, singleJet(0, 10, 10, 10))
	provider := &scheduleProvider{duration: 0.3, rate: 10, failAt: 2}

	result, err := runner.Run(context.Background(), provider, flow.Input{})
	if !errors.Is(err, pipeline.ErrFrameUnavailable) {
		t.Fatalf("err = %v, want ErrFrameUnavailable", err)
	}
	if result != nil {
		t.Fatal("expected no metrics on failure")
	}
	if runner.State() != pipeline.StateFailed {
		t.Fatalf("state = %v, want failed", runner.State())
	}
	if len(provider.times) != 3 {
		t.Fatalf("provider sampled %d frames, want 3", len(provider.times))
	}
}

func TestRunCancelled(t *testing.T) {
	runner := newRunner(t, singleJet(10, 10))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Run(ctx, &scheduleProvider{duration: 0.1, rate: 10}, flow.Input{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if runner.State() != pipeline.StateFailed {
		t.Fatalf("state = %v, want failed", runner.State())
	}
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	runner := newRunner(t, singleJet(10, 10))
	block := make(chan struct{})
	started := make(chan struct{})
	provider := &scheduleProvider{duration: 0.1, rate: 10, block: block, started: started}

	errs := make(chan error, 1)
	go func() {
		_, err := runner.Run(context.Background(), provider, flow.Input{})
		errs <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first run never started sampling")
	}

	_, err := runner.Run(context.Background(), &scheduleProvider{duration: 0.1, rate: 10}, flow.Input{})
	if !errors.Is(err, pipeline.ErrRunInProgress) {
		t.Fatalf("err = %v, want ErrRunInProgress", err)
	}

	close(block)
	if err := <-errs; err != nil {
		t.Fatalf("first run: %v", err)
	}
	if runner.State() != pipeline.StateScored {
		t.Fatalf("state = %v, want scored", runner.State())
	}
}

func TestProgressReportsEveryFrame(t *testing.T) {
	runner := newRunner(t, singleJet(10, 10, 10))
	var calls []int
	runner.SetProgress(func(done, total int) {
		if total != 3 {
			t.Errorf("total = %d, want 3", total)
		}
		calls = append(calls, done)
	})
	if _, err := runner.Run(context.Background(), &scheduleProvider{duration: 0.2, rate: 10}, flow.Input{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(calls) != 3 || calls[2] != 3 {
		t.Fatalf("progress calls = %v", calls)
	}
}

func TestNewRunnerValidates(t *testing.T) {
	settings := pipeline.DefaultSettings()
	settings.SampleRateHz = 0
	if _, err := pipeline.NewRunner(settings, indexSegmenter{}, scheduleExtractor{}, nil, nil); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
	if _, err := pipeline.NewRunner(pipeline.DefaultSettings(), nil, scheduleExtractor{}, nil, nil); err == nil {
		t.Fatal("expected error for nil segmenter")
	}
}

func TestStateStrings(t *testing.T) {
	if pipeline.StateSamplingFrames.String() != "sampling_frames" || !pipeline.StateFailed.Terminal() || pipeline.StateAggregating.Terminal() {
		t.Fatal("unexpected state metadata")
	}
}

func TestRunStampsRunIDOnEveryLogEntry(t *testing.T) {
	var buf bytes.Buffer
	log, err := logger.New(logger.Options{Level: "debug", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	settings := pipeline.DefaultSettings()
	settings.MinBlobArea = 1
	runner, err := pipeline.NewRunner(settings, indexSegmenter{}, scheduleExtractor{schedule: singleJet(0, 40, 41, 42, 0)}, log, nil)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	ids := map[string]bool{}
	for run := 0; run < 2; run++ {
		buf.Reset()
		result, err := runner.Run(context.Background(), &scheduleProvider{duration: 0.4, rate: 10}, flow.Input{})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		ids[result.RunID] = true

		entries := 0
		scanner := bufio.NewScanner(&buf)
		for scanner.Scan() {
			var entry map[string]interface{}
			if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
				t.Fatalf("decode %q: %v", scanner.Text(), err)
			}
			if entry["run_id"] != result.RunID {
				t.Fatalf("entry %v, want run_id %s", entry, result.RunID)
			}
			entries++
		}
		if entries == 0 {
			t.Fatal("runner logged nothing")
		}
	}
	if len(ids) != 2 {
		t.Fatalf("run ids = %v, want two distinct", ids)
	}
}

func TestRunWithoutAnyJetsKeepsFlowMediansUnknown(t *testing.T) {
	runner := newRunner(t, singleJet(0, 0, 0, 0, 0))
	result, err := runner.Run(context.Background(), &scheduleProvider{duration: 0.4, rate: 10}, flow.Input{OutputMassG: mass(9)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Window.StartIndex != 0 || result.Window.EndIndex != 4 || result.Window.Fallback {
		t.Fatalf("window = %+v, want full series", result.Window)
	}
	if result.JetsMean != 0 || result.JetsCV != 0 || result.Score != 0 {
		t.Fatalf("metrics = mean %v cv %v score %d", result.JetsMean, result.JetsCV, result.Score)
	}
	if result.AvgFlowGPS == nil || math.Abs(*result.AvgFlowGPS-22.5) > 1e-6 {
		t.Fatalf("avg flow = %v, want 22.5", result.AvgFlowGPS)
	}
	if result.GiniMed != nil || result.MaxShareMed != nil {
		t.Fatalf("gini %v max share %v, want unknown", result.GiniMed, result.MaxShareMed)
	}
	if len(result.Recommendations) != 1 || result.Recommendations[0].Code != score.CodeStableFlow {
		t.Fatalf("recommendations = %+v", result.Recommendations)
	}
}

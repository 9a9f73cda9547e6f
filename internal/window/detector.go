// Package window locates the active-extraction interval in a per-frame area series.
package window

import "espresso-flow-vision/internal/frames"

const (
	DefaultThresholdRatio = 0.12
	DefaultDebounce       = 3
)

type Options struct {
	// ThresholdRatio is the fraction of the peak area a frame must reach to count as flowing.
	ThresholdRatio float64
	// Debounce is the number of consecutive flowing frames that open or close the window.
	Debounce int
}

func DefaultOptions() Options {
	return Options{ThresholdRatio: DefaultThresholdRatio, Debounce: DefaultDebounce}
}

// Detect returns the inclusive index range of active flow. When no qualifying
// run exists the whole series is returned with Fallback set.
func Detect(areas []int, opts Options) (start, end int, fallback bool) {
	n := len(areas)
	if n == 0 {
		return 0, -1, true
	}
	k := opts.Debounce
	if k <= 0 {
		k = DefaultDebounce
	}
	if n < k {
		return 0, n - 1, true
	}

	peak := 0
	for _, a := range areas {
		peak = max(peak, a)
	}
	threshold := opts.ThresholdRatio * float64(peak)

	above := func(i int) bool { return float64(areas[i]) >= threshold }
	run := func(from int) bool {
		for j := from; j < from+k; j++ {
			if !above(j) {
				return false
			}
		}
		return true
	}

	start = -1
	for i := 0; i+k <= n; i++ {
		if run(i) {
			start = i
			break
		}
	}
	end = -1
	for i := n - k; i >= 0; i-- {
		if run(i) {
			end = i + k - 1
			break
		}
	}

	if start < 0 || end < start {
		return 0, n - 1, true
	}
	return start, end, false
}

// DetectSeries applies Detect to a Series and resolves timestamps. If the
// detected range has no positive duration the full series is used instead.
func DetectSeries(series frames.Series, opts Options) frames.ExtractionWindow {
	if len(series) == 0 {
		return frames.ExtractionWindow{StartIndex: 0, EndIndex: -1, Fallback: true}
	}
	start, end, fallback := Detect(series.Areas(), opts)
	w := frames.ExtractionWindow{
		StartIndex: start,
		EndIndex:   end,
		StartSec:   series[start].T,
		EndSec:     series[end].T,
		Fallback:   fallback,
	}
	if w.Duration() <= 0 && !fallback {
		last := len(series) - 1
		w = frames.ExtractionWindow{
			StartIndex: 0,
			EndIndex:   last,
			StartSec:   series[0].T,
			EndSec:     series[last].T,
			Fallback:   true,
		}
	}
	return w
}

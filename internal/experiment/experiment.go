// Package experiment pairs a scored shot with the brew parameters the user
// recorded for it.
package experiment

import (
	"math"
	"strconv"
	"strings"
	"time"

	"espresso-flow-vision/internal/frames"
	"espresso-flow-vision/internal/pipeline"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// BrewInputs are the raw user-entered values. Any of them may be blank.
type BrewInputs struct {
	Dose    string
	Output  string
	TDS     string
	Balance string
	Notes   string
}

// Experiment is one persisted shot. ID is the creation time in Unix
// milliseconds, so newer experiments sort higher.
type Experiment struct {
	ID        int64
	RunID     string
	CreatedAt time.Time
	Video     string

	DoseG   *float64
	OutputG *float64
	TDSPct  *float64
	EYPct   *float64
	Balance string
	Notes   string

	Score           int
	JetsMean        float64
	JetsCV          float64
	SpikeRatePct    float64
	AreaJumpRatePct float64
	DurationSec     float64
	Frames          int
	AvgFlowGPS      *float64
	GiniMed         *float64
	MaxShareMed     *float64

	WindowStartSec float64
	WindowEndSec   float64
	Series         frames.Series
}

// ParseOptional reads a decimal number. Blank, malformed and non-finite input
// yield nil. A comma decimal separator is accepted.
func ParseOptional(value string) *float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if !strings.Contains(value, ".") {
		value = strings.Replace(value, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Yield is TDS% x output / dose, exactly as brewers record it. It is nil when
// any input is unknown or dose is not positive.
func Yield(tdsPct, outputG, doseG *float64) *float64 {
	if tdsPct == nil || outputG == nil || doseG == nil || *doseG <= 0 {
		return nil
	}
	ey := *tdsPct * *outputG / *doseG
	if math.IsNaN(ey) || math.IsInf(ey, 0) {
		return nil
	}
	return &ey
}

// New builds the record for metrics taken at now.
func New(video string, metrics *pipeline.ShotMetrics, in BrewInputs, now time.Time) Experiment {
	dose := ParseOptional(in.Dose)
	output := ParseOptional(in.Output)
	tds := ParseOptional(in.TDS)

	exp := Experiment{
		ID:        now.UnixMilli(),
		CreatedAt: now.UTC(),
		Video:     video,
		DoseG:     dose,
		OutputG:   output,
		TDSPct:    tds,
		EYPct:     Yield(tds, output, dose),
		Balance:   NormalizeBalance(in.Balance),
		Notes:     strings.TrimSpace(in.Notes),
	}
	if metrics == nil {
		return exp
	}

	exp.RunID = metrics.RunID
	exp.Score = metrics.Score
	exp.JetsMean = metrics.JetsMean
	exp.JetsCV = metrics.JetsCV
	exp.SpikeRatePct = metrics.SpikeRatePct()
	exp.AreaJumpRatePct = metrics.AreaJumpRatePct()
	exp.DurationSec = metrics.DurationSec
	exp.Frames = metrics.Frames
	exp.AvgFlowGPS = metrics.AvgFlowGPS
	exp.GiniMed = metrics.GiniMed
	exp.MaxShareMed = metrics.MaxShareMed
	exp.WindowStartSec = metrics.Window.StartSec
	exp.WindowEndSec = metrics.Window.EndSec
	exp.Series = metrics.Series
	return exp
}

// NormalizeBalance stores the sensory balance in lower case with single spaces.
func NormalizeBalance(value string) string {
	return strings.ToLower(strings.Join(strings.Fields(value), " "))
}

// BalanceLabel renders a stored balance for display, e.g. "slightly sour" as
// "Slightly Sour".
func BalanceLabel(value string) string {
	if value == "" {
		return ""
	}
	return cases.Title(language.Und).String(value)
}

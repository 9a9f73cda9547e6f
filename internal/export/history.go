package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"espresso-flow-vision/internal/experiment"
)

// HistoryHeader is the column order of history exports.
var HistoryHeader = []string{
	"timestamp", "dose_g", "output_g", "tds_pct", "ey_pct", "balance", "notes",
	"score", "jets_mean", "jets_cv", "spike_rate_pct", "area_jump_rate_pct",
	"duration_s", "frames", "avg_flow_gps", "gini_med", "max_share_med",
}

// WriteHistoryCSV writes experiments in the order given.
func WriteHistoryCSV(w io.Writer, experiments []experiment.Experiment) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(HistoryHeader); err != nil {
		return fmt.Errorf("write history csv header: %w", err)
	}
	for _, exp := range experiments {
		if err := cw.Write(HistoryRecord(exp)); err != nil {
			return fmt.Errorf("write history csv row %d: %w", exp.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// HistoryRecord formats one experiment in HistoryHeader order.
func HistoryRecord(exp experiment.Experiment) []string {
	return []string{
		exp.CreatedAt.UTC().Format(time.RFC3339),
		optional(exp.DoseG, 1),
		optional(exp.OutputG, 1),
		optional(exp.TDSPct, 2),
		optional(exp.EYPct, 2),
		text(exp.Balance),
		text(exp.Notes),
		strconv.Itoa(exp.Score),
		fixed(exp.JetsMean, 2),
		fixed(exp.JetsCV, 3),
		fixed(exp.SpikeRatePct, 1),
		fixed(exp.AreaJumpRatePct, 1),
		fixed(exp.DurationSec, 2),
		strconv.Itoa(exp.Frames),
		optional(exp.AvgFlowGPS, 2),
		optional(exp.GiniMed, 3),
		optional(exp.MaxShareMed, 3),
	}
}

// Optional formats v with prec decimals, or Missing when v is nil.
func Optional(v *float64, prec int) string {
	return optional(v, prec)
}

func optional(v *float64, prec int) string {
	if v == nil {
		return Missing
	}
	return fixed(*v, prec)
}

func fixed(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

func text(s string) string {
	if s == "" {
		return Missing
	}
	return s
}

package main

import (
	"fmt"
	"strings"

	"espresso-flow-vision/internal/experiment"
	"espresso-flow-vision/internal/export"
	"espresso-flow-vision/internal/pipeline"
)

func renderMetrics(m *pipeline.ShotMetrics) string {
	window := fmt.Sprintf("%.2fs - %.2fs", m.Window.StartSec, m.Window.EndSec)
	if m.Window.Fallback {
		window += " (full video)"
	}
	rows := [][]string{
		{"Score", fmt.Sprintf("%d / 100", m.Score)},
		{"Extraction window", window},
		{"Duration", fmt.Sprintf("%.2f s", m.DurationSec)},
		{"Frames", fmt.Sprintf("%d of %d sampled", m.Frames, m.SampledCount)},
		{"Jets (mean ± sd)", fmt.Sprintf("%.2f ± %.2f", m.JetsMean, m.JetsStd)},
		{"Jets CV", fmt.Sprintf("%.3f", m.JetsCV)},
		{"Spikes", fmt.Sprintf("%d (%.1f%%)", m.SpikeCount, m.SpikeRatePct())},
		{"Area jumps", fmt.Sprintf("%d (%.1f%%)", m.AreaJumpCount, m.AreaJumpRatePct())},
		{"Average flow", withUnit(export.Optional(m.AvgFlowGPS, 2), "g/s")},
		{"Gini (median)", export.Optional(m.GiniMed, 3)},
		{"Max share (median)", export.Optional(m.MaxShareMed, 3)},
	}
	return renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight})
}

func renderRecommendations(m *pipeline.ShotMetrics) string {
	var b strings.Builder
	b.WriteString("Recommendations:\n")
	for _, rec := range m.Recommendations {
		fmt.Fprintf(&b, "  - [%s] %s\n", rec.Code, rec.Message)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderHistoryList(experiments []experiment.Experiment) string {
	rows := make([][]string, 0, len(experiments))
	for _, exp := range experiments {
		rows = append(rows, []string{
			fmt.Sprintf("%d", exp.ID),
			exp.CreatedAt.Local().Format("2006-01-02 15:04"),
			fmt.Sprintf("%d", exp.Score),
			fmt.Sprintf("%.2f", exp.JetsMean),
			fmt.Sprintf("%.3f", exp.JetsCV),
			fmt.Sprintf("%.1f", exp.SpikeRatePct),
			export.Optional(exp.AvgFlowGPS, 2),
			export.Optional(exp.EYPct, 2),
			orMissing(experiment.BalanceLabel(exp.Balance)),
		})
	}
	return renderTable(
		[]string{"ID", "Created", "Score", "Jets", "CV", "Spike %", "Flow g/s", "EY %", "Balance"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft},
	)
}

func renderExperiment(exp *experiment.Experiment) string {
	rows := [][]string{
		{"ID", fmt.Sprintf("%d", exp.ID)},
		{"Created", exp.CreatedAt.Local().Format("2006-01-02 15:04:05")},
		{"Video", orMissing(exp.Video)},
		{"Run", orMissing(exp.RunID)},
		{"Dose", withUnit(export.Optional(exp.DoseG, 1), "g")},
		{"Output", withUnit(export.Optional(exp.OutputG, 1), "g")},
		{"TDS", withUnit(export.Optional(exp.TDSPct, 2), "%")},
		{"EY", withUnit(export.Optional(exp.EYPct, 2), "%")},
		{"Balance", orMissing(experiment.BalanceLabel(exp.Balance))},
		{"Notes", orMissing(exp.Notes)},
		{"Score", fmt.Sprintf("%d / 100", exp.Score)},
		{"Window", fmt.Sprintf("%.2fs - %.2fs", exp.WindowStartSec, exp.WindowEndSec)},
		{"Duration", fmt.Sprintf("%.2f s", exp.DurationSec)},
		{"Frames", fmt.Sprintf("%d", exp.Frames)},
		{"Jets mean", fmt.Sprintf("%.2f", exp.JetsMean)},
		{"Jets CV", fmt.Sprintf("%.3f", exp.JetsCV)},
		{"Spike rate", fmt.Sprintf("%.1f%%", exp.SpikeRatePct)},
		{"Area jump rate", fmt.Sprintf("%.1f%%", exp.AreaJumpRatePct)},
		{"Average flow", withUnit(export.Optional(exp.AvgFlowGPS, 2), "g/s")},
		{"Gini (median)", export.Optional(exp.GiniMed, 3)},
		{"Max share (median)", export.Optional(exp.MaxShareMed, 3)},
	}
	if n := len(exp.Series); n > 0 {
		peak := 0
		for _, s := range exp.Series {
			peak = max(peak, s.Jets)
		}
		rows = append(rows, []string{"Stored series", fmt.Sprintf("%d frames, peak %d jets", n, peak)})
	}
	return renderTable([]string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignLeft})
}

func withUnit(value, unit string) string {
	if value == export.Missing {
		return value
	}
	return value + " " + unit
}

func orMissing(value string) string {
	if strings.TrimSpace(value) == "" {
		return export.Missing
	}
	return value
}

// Package export writes shot and history CSV files.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"espresso-flow-vision/internal/pipeline"
)

// Missing is written for unknown optional values in history exports.
const Missing = "—"

var (
	shotHeader     = []string{"t_sec", "jets", "area", "spike", "areaJump"}
	shotFlowHeader = []string{"gini", "maxShare"}
)

// ShotRow is one parsed line of a shot CSV. Gini and MaxShare are nil when the
// column is absent or the cell is empty.
type ShotRow struct {
	T        float64
	Jets     int
	Area     int
	Spike    bool
	AreaJump bool
	Gini     *float64
	MaxShare *float64
}

// WriteShotCSV writes one row per windowed frame. Times are relative to the
// window start. Flow columns appear only when flow was estimated.
func WriteShotCSV(w io.Writer, m *pipeline.ShotMetrics) error {
	if m == nil {
		return errors.New("write shot csv: nil metrics")
	}
	withFlow := m.FlowKnown()

	cw := csv.NewWriter(w)
	header := append([]string{}, shotHeader...)
	if withFlow {
		header = append(header, shotFlowHeader...)
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write shot csv header: %w", err)
	}

	for i, sample := range m.Series {
		var spike, jump bool
		if i < len(m.Flags) {
			spike, jump = m.Flags[i].Spike, m.Flags[i].AreaJump
		}
		record := []string{
			strconv.FormatFloat(sample.T-m.Window.StartSec, 'f', 3, 64),
			strconv.Itoa(sample.Jets),
			strconv.Itoa(sample.Area),
			boolCell(spike),
			boolCell(jump),
		}
		if withFlow {
			ff := m.Flow[i]
			if ff.Known {
				record = append(record,
					strconv.FormatFloat(ff.Gini, 'f', 4, 64),
					strconv.FormatFloat(ff.MaxShare, 'f', 4, 64))
			} else {
				record = append(record, "", "")
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write shot csv row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ParseShotCSV reads a file produced by WriteShotCSV.
func ParseShotCSV(r io.Reader) ([]ShotRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read shot csv header: %w", err)
	}
	if len(header) != len(shotHeader) && len(header) != len(shotHeader)+len(shotFlowHeader) {
		return nil, fmt.Errorf("shot csv header has %d columns", len(header))
	}
	for i, name := range shotHeader {
		if strings.TrimSpace(header[i]) != name {
			return nil, fmt.Errorf("shot csv column %d is %q, want %q", i, header[i], name)
		}
	}
	withFlow := len(header) > len(shotHeader)

	var rows []ShotRow
	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read shot csv line %d: %w", line, err)
		}
		if len(record) != len(header) {
			return nil, fmt.Errorf("shot csv line %d has %d fields, want %d", line, len(record), len(header))
		}

		row, err := parseShotRecord(record, withFlow)
		if err != nil {
			return nil, fmt.Errorf("shot csv line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseShotRecord(record []string, withFlow bool) (ShotRow, error) {
	var row ShotRow
	var err error
	if row.T, err = strconv.ParseFloat(record[0], 64); err != nil {
		return row, fmt.Errorf("t_sec: %w", err)
	}
	if row.Jets, err = strconv.Atoi(record[1]); err != nil {
		return row, fmt.Errorf("jets: %w", err)
	}
	if row.Area, err = strconv.Atoi(record[2]); err != nil {
		return row, fmt.Errorf("area: %w", err)
	}
	if row.Spike, err = parseBoolCell(record[3]); err != nil {
		return row, fmt.Errorf("spike: %w", err)
	}
	if row.AreaJump, err = parseBoolCell(record[4]); err != nil {
		return row, fmt.Errorf("areaJump: %w", err)
	}
	if withFlow {
		if row.Gini, err = parseOptionalCell(record[5]); err != nil {
			return row, fmt.Errorf("gini: %w", err)
		}
		if row.MaxShare, err = parseOptionalCell(record[6]); err != nil {
			return row, fmt.Errorf("maxShare: %w", err)
		}
	}
	return row, nil
}

func boolCell(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func parseBoolCell(s string) (bool, error) {
	switch strings.TrimSpace(s) {
	case "1":
		return true, nil
	case "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid flag %q", s)
}

func parseOptionalCell(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == Missing {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

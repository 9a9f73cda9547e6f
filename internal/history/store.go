// Package history persists analyzed experiments in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	_ "modernc.org/sqlite"

	"espresso-flow-vision/internal/experiment"
	"espresso-flow-vision/internal/frames"
)

var ErrNotFound = errors.New("experiment not found")

// maxIDProbes bounds the search for a free id when two saves share a millisecond.
const maxIDProbes = 1000

// Store manages experiment persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates the database file and its directory when missing and applies
// pending migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("history path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure history dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Shutdown lets the store be registered with the shutdown manager.
func (s *Store) Shutdown() {
	_ = s.Close()
}

// Save inserts exp. If another experiment already holds exp.ID the id is
// advanced to the next free millisecond and written back to exp.
func (s *Store) Save(ctx context.Context, exp *experiment.Experiment) error {
	if exp == nil {
		return fmt.Errorf("save experiment: nil")
	}
	if exp.ID <= 0 {
		exp.ID = time.Now().UnixMilli()
	}
	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = time.UnixMilli(exp.ID).UTC()
	}

	blob, err := encodeSeries(exp.Series)
	if err != nil {
		return err
	}

	for probe := 0; probe < maxIDProbes; probe++ {
		_, err = s.db.ExecContext(ctx, `INSERT INTO experiments (
            id, run_id, created_at, video, dose_g, output_g, tds_pct, ey_pct, balance, notes,
            score, jets_mean, jets_cv, spike_rate_pct, area_jump_rate_pct, duration_s, frames,
            avg_flow_gps, gini_med, max_share_med, window_start_s, window_end_s, series_cbor
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			exp.ID,
			exp.RunID,
			exp.CreatedAt.UTC().Format(time.RFC3339Nano),
			exp.Video,
			nullableFloat(exp.DoseG),
			nullableFloat(exp.OutputG),
			nullableFloat(exp.TDSPct),
			nullableFloat(exp.EYPct),
			exp.Balance,
			exp.Notes,
			exp.Score,
			exp.JetsMean,
			exp.JetsCV,
			exp.SpikeRatePct,
			exp.AreaJumpRatePct,
			exp.DurationSec,
			exp.Frames,
			nullableFloat(exp.AvgFlowGPS),
			nullableFloat(exp.GiniMed),
			nullableFloat(exp.MaxShareMed),
			exp.WindowStartSec,
			exp.WindowEndSec,
			blob,
		)
		if err == nil {
			return nil
		}
		if !isUniqueViolation(err) {
			return fmt.Errorf("insert experiment: %w", err)
		}
		exp.ID++
	}
	return fmt.Errorf("insert experiment: no free id near %d: %w", exp.ID, err)
}

const selectColumns = `id, run_id, created_at, video, dose_g, output_g, tds_pct, ey_pct, balance, notes,
    score, jets_mean, jets_cv, spike_rate_pct, area_jump_rate_pct, duration_s, frames,
    avg_flow_gps, gini_med, max_share_med, window_start_s, window_end_s, series_cbor`

// List returns every experiment, newest first. Series are not decoded.
func (s *Store) List(ctx context.Context) ([]experiment.Experiment, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+selectColumns+" FROM experiments ORDER BY id DESC")
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	defer rows.Close()

	var out []experiment.Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows, false)
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate experiments: %w", err)
	}
	return out, nil
}

// Get returns one experiment including its frame series.
func (s *Store) Get(ctx context.Context, id int64) (*experiment.Experiment, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM experiments WHERE id = ?", id)
	exp, err := scanExperiment(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &exp, nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM experiments WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete experiment %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete experiment %d: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM experiments").Scan(&count); err != nil {
		return 0, fmt.Errorf("count experiments: %w", err)
	}
	return count, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row scanner, withSeries bool) (experiment.Experiment, error) {
	var (
		exp                           experiment.Experiment
		createdAt                     string
		dose, output, tds, ey         sql.NullFloat64
		avgFlow, giniMed, maxShareMed sql.NullFloat64
		blob                          []byte
	)
	err := row.Scan(
		&exp.ID, &exp.RunID, &createdAt, &exp.Video,
		&dose, &output, &tds, &ey, &exp.Balance, &exp.Notes,
		&exp.Score, &exp.JetsMean, &exp.JetsCV, &exp.SpikeRatePct, &exp.AreaJumpRatePct,
		&exp.DurationSec, &exp.Frames,
		&avgFlow, &giniMed, &maxShareMed,
		&exp.WindowStartSec, &exp.WindowEndSec, &blob,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return exp, err
		}
		return exp, fmt.Errorf("scan experiment: %w", err)
	}

	if exp.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return exp, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	exp.DoseG = floatPtr(dose)
	exp.OutputG = floatPtr(output)
	exp.TDSPct = floatPtr(tds)
	exp.EYPct = floatPtr(ey)
	exp.AvgFlowGPS = floatPtr(avgFlow)
	exp.GiniMed = floatPtr(giniMed)
	exp.MaxShareMed = floatPtr(maxShareMed)

	if withSeries {
		if exp.Series, err = decodeSeries(blob); err != nil {
			return exp, fmt.Errorf("experiment %d: %w", exp.ID, err)
		}
	}
	return exp, nil
}

func encodeSeries(series frames.Series) ([]byte, error) {
	if len(series) == 0 {
		return nil, nil
	}
	data, err := cbor.Marshal(series)
	if err != nil {
		return nil, fmt.Errorf("encode series: %w", err)
	}
	return data, nil
}

func decodeSeries(data []byte) (frames.Series, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var series frames.Series
	if err := cbor.Unmarshal(data, &series); err != nil {
		return nil, fmt.Errorf("decode series: %w", err)
	}
	return series, nil
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

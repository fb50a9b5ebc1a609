// Package regdb persists registration run records to SQLite, so repeated
// alignment attempts over the same scene can be compared and the best
// recovered later.
package regdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/cloudalign/geom"
	"github.com/banshee-data/cloudalign/register"
)

// Run is one persisted registration attempt: the parameters it was invoked
// with and the result it produced.
type Run struct {
	RunID            string
	CreatedUnixNanos int64

	// Inputs
	SourcePoints        int
	TargetPoints        int
	CorrespondenceCount int
	MaxDistance         float64
	MaxIterations       int
	Confidence          float64
	Seed                int64
	Workers             int

	// Outcome
	Transform   geom.Transform
	InlierCount int
	Fitness     float64
	InlierRMSE  float64
	Iterations  int
}

// NewRun builds a Run record from estimation inputs and a Result,
// assigning a fresh run ID and timestamp.
func NewRun(sourcePoints, targetPoints, correspondences int, maxDistance float64, criteria register.Criteria, seed int64, workers int, result register.Result) *Run {
	return &Run{
		RunID:               uuid.NewString(),
		CreatedUnixNanos:    time.Now().UnixNano(),
		SourcePoints:        sourcePoints,
		TargetPoints:        targetPoints,
		CorrespondenceCount: correspondences,
		MaxDistance:         maxDistance,
		MaxIterations:       criteria.MaxIterations,
		Confidence:          criteria.Confidence,
		Seed:                seed,
		Workers:             workers,
		Transform:           result.Transform,
		InlierCount:         result.InlierCount,
		Fitness:             result.Fitness,
		InlierRMSE:          result.InlierRMSE,
		Iterations:          result.Iterations,
	}
}

// RunStore provides registration run persistence.
type RunStore struct {
	db *sql.DB
}

// NewRunStore opens (creating if needed) a run store at path. Use
// ":memory:" for an ephemeral store.
func NewRunStore(path string) (*RunStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS registration_runs (
			run_id TEXT PRIMARY KEY,
			created_unix_nanos BIGINT NOT NULL,
			source_points INTEGER NOT NULL,
			target_points INTEGER NOT NULL,
			correspondence_count INTEGER NOT NULL,
			max_distance DOUBLE NOT NULL,
			max_iterations INTEGER NOT NULL,
			confidence DOUBLE NOT NULL,
			seed BIGINT NOT NULL,
			workers INTEGER NOT NULL,
			transform_json TEXT NOT NULL,
			inlier_count INTEGER NOT NULL,
			fitness DOUBLE NOT NULL,
			inlier_rmse DOUBLE NOT NULL,
			iterations INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_created ON registration_runs(created_unix_nanos);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create run schema: %w", err)
	}

	return &RunStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *RunStore) Close() error {
	return s.db.Close()
}

// InsertRun writes a run record. A missing RunID or timestamp is filled in.
func (s *RunStore) InsertRun(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	if run.CreatedUnixNanos == 0 {
		run.CreatedUnixNanos = time.Now().UnixNano()
	}

	transformJSON, err := json.Marshal(run.Transform)
	if err != nil {
		return fmt.Errorf("marshal transform: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO registration_runs (
			run_id, created_unix_nanos,
			source_points, target_points, correspondence_count,
			max_distance, max_iterations, confidence, seed, workers,
			transform_json, inlier_count, fitness, inlier_rmse, iterations
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.CreatedUnixNanos,
		run.SourcePoints, run.TargetPoints, run.CorrespondenceCount,
		run.MaxDistance, run.MaxIterations, run.Confidence, run.Seed, run.Workers,
		string(transformJSON), run.InlierCount, run.Fitness, run.InlierRMSE, run.Iterations,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

const runColumns = `
	run_id, created_unix_nanos,
	source_points, target_points, correspondence_count,
	max_distance, max_iterations, confidence, seed, workers,
	transform_json, inlier_count, fitness, inlier_rmse, iterations`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var run Run
	var transformJSON string
	err := row.Scan(
		&run.RunID, &run.CreatedUnixNanos,
		&run.SourcePoints, &run.TargetPoints, &run.CorrespondenceCount,
		&run.MaxDistance, &run.MaxIterations, &run.Confidence, &run.Seed, &run.Workers,
		&transformJSON, &run.InlierCount, &run.Fitness, &run.InlierRMSE, &run.Iterations,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(transformJSON), &run.Transform); err != nil {
		return nil, fmt.Errorf("unmarshal transform for run %s: %w", run.RunID, err)
	}
	return &run, nil
}

// GetRun fetches a run by ID. Returns sql.ErrNoRows when absent.
func (s *RunStore) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`SELECT`+runColumns+` FROM registration_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return run, nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *RunStore) RecentRuns(limit int) ([]*Run, error) {
	rows, err := s.db.Query(`SELECT`+runColumns+` FROM registration_runs ORDER BY created_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// BestRun returns the run with the highest fitness, ties broken by lowest
// inlier RMSE. Returns sql.ErrNoRows when the store is empty.
func (s *RunStore) BestRun() (*Run, error) {
	row := s.db.QueryRow(`SELECT` + runColumns + ` FROM registration_runs ORDER BY fitness DESC, inlier_rmse ASC LIMIT 1`)
	run, err := scanRun(row)
	if err != nil {
		return nil, fmt.Errorf("get best run: %w", err)
	}
	return run, nil
}

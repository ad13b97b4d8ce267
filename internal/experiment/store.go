package experiment

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ResultStore persists job results keyed by the job triple plus the cell's
// configuration hash. A later run over unchanged configuration finds its
// results here and skips the model calls entirely; editing a scenario,
// profile, or the rubric changes the hash and re-runs only the affected
// cells.
type ResultStore struct {
	db *sql.DB
}

// OpenResultStore opens (creating if needed) the sqlite-backed store.
func OpenResultStore(path string) (*ResultStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create result store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open result store: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS results (
			scenario_id TEXT NOT NULL,
			profile_id  TEXT NOT NULL,
			run_index   INTEGER NOT NULL,
			cell_hash   TEXT NOT NULL,
			run_id      TEXT NOT NULL,
			outcome     TEXT NOT NULL,
			payload     TEXT NOT NULL,
			created_at  INTEGER NOT NULL,
			PRIMARY KEY (scenario_id, profile_id, run_index, cell_hash)
		);
		CREATE INDEX IF NOT EXISTS idx_results_run ON results(run_id);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate result store: %w", err)
	}
	return &ResultStore{db: db}, nil
}

// Close releases the underlying database.
func (s *ResultStore) Close() error { return s.db.Close() }

// Lookup returns the cached result for a job under the given configuration
// hash, if one exists.
func (s *ResultStore) Lookup(job Job, cellHash string) (*JobResult, bool, error) {
	var payload string
	err := s.db.QueryRow(
		`SELECT payload FROM results
		 WHERE scenario_id = ? AND profile_id = ? AND run_index = ? AND cell_hash = ?`,
		job.ScenarioID, job.ProfileID, job.RunIndex, cellHash,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up result: %w", err)
	}
	var res JobResult
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached result: %w", err)
	}
	return &res, true, nil
}

// Save upserts one job result.
func (s *ResultStore) Save(runID string, res JobResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO results
		 (scenario_id, profile_id, run_index, cell_hash, run_id, outcome, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		res.Job.ScenarioID, res.Job.ProfileID, res.Job.RunIndex, res.CellHash,
		runID, string(res.Outcome), string(payload), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

// ResultsForRun returns every result saved under a run id, in job order.
func (s *ResultStore) ResultsForRun(runID string) ([]JobResult, error) {
	rows, err := s.db.Query(
		`SELECT payload FROM results WHERE run_id = ?
		 ORDER BY scenario_id, profile_id, run_index`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query run results: %w", err)
	}
	defer rows.Close()

	var out []JobResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		var res JobResult
		if err := json.Unmarshal([]byte(payload), &res); err != nil {
			return nil, fmt.Errorf("failed to decode result: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// ExportJSONL writes one result per line for the external reporting stage.
func ExportJSONL(path string, results []JobResult) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create export directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, res := range results {
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("failed to write export line: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush export: %w", err)
	}
	return nil
}

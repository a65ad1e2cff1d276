// Package history persists sweep outcomes to a local SQLite database so
// past runs can be listed and inspected after the fact.
package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/branchbot/prsweep/internal/sweep"
)

// Outcome states recorded per PR.
const (
	OutcomeMerged     = "merged"
	OutcomeConflicted = "conflicted"
	OutcomeFailed     = "failed"
)

// ErrNotFound is returned when a run id does not exist.
var ErrNotFound = errors.New("run not found")

// Store persists runs and per-PR outcomes to SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the SQLite database at the given path,
// creating parent directories as needed.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	// Set pragmas via DSN so every pooled connection gets them.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite supports only one writer at a time.
	db.SetMaxOpenConns(4)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			repo         TEXT NOT NULL,
			started_at   TEXT NOT NULL,
			finished_at  TEXT NOT NULL,
			total        INTEGER NOT NULL DEFAULT 0,
			merged       INTEGER NOT NULL DEFAULT 0,
			conflicted   INTEGER NOT NULL DEFAULT 0,
			summary_json TEXT NOT NULL DEFAULT '{}'
		);

		CREATE TABLE IF NOT EXISTS pr_outcomes (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id           INTEGER NOT NULL,
			number           INTEGER NOT NULL,
			title            TEXT NOT NULL DEFAULT '',
			outcome          TEXT NOT NULL,
			branch           TEXT NOT NULL DEFAULT '',
			conflicts_branch TEXT NOT NULL DEFAULT '',
			branch_deleted   INTEGER NOT NULL DEFAULT 0,
			files_json       TEXT NOT NULL DEFAULT '[]',
			note             TEXT NOT NULL DEFAULT '',
			FOREIGN KEY (run_id) REFERENCES runs(id)
		);

		CREATE INDEX IF NOT EXISTS idx_pr_outcomes_run_id ON pr_outcomes(run_id);
	`)
	return err
}

// Run is one stored sweep.
type Run struct {
	ID         int64     `json:"id"`
	Repo       string    `json:"repo"`
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished"`
	Total      int       `json:"total"`
	Merged     int       `json:"merged"`
	Conflicted int       `json:"conflicted"`
}

// Outcome is one PR's terminal state within a stored run.
type Outcome struct {
	RunID           int64    `json:"runId"`
	Number          int      `json:"number"`
	Title           string   `json:"title"`
	Outcome         string   `json:"outcome"`
	Branch          string   `json:"branch"`
	ConflictsBranch string   `json:"conflictsBranch,omitempty"`
	BranchDeleted   bool     `json:"branchDeleted"`
	Files           []string `json:"files,omitempty"`
	Note            string   `json:"note,omitempty"`
}

// RecordRun stores the summary and its per-PR outcomes, returning the new
// run id.
func (s *Store) RecordRun(sum *sweep.Summary) (int64, error) {
	summaryJSON, err := json.Marshal(sum)
	if err != nil {
		return 0, fmt.Errorf("encoding summary: %w", err)
	}

	res, err := s.db.Exec(`
		INSERT INTO runs (repo, started_at, finished_at, total, merged, conflicted, summary_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sum.Repo,
		sum.Started.Format(time.RFC3339),
		sum.Finished.Format(time.RFC3339),
		sum.Total, len(sum.Merged), len(sum.Conflicted),
		string(summaryJSON),
	)
	if err != nil {
		return 0, err
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, m := range sum.Merged {
		if err := s.insertOutcome(runID, Outcome{
			Number:        m.Number,
			Title:         m.Title,
			Outcome:       OutcomeMerged,
			Branch:        m.Branch,
			BranchDeleted: m.BranchDeleted,
			Note:          m.Note,
		}); err != nil {
			return 0, err
		}
	}
	for _, c := range sum.Conflicted {
		outcome := OutcomeConflicted
		if c.ConflictsBranch == "" {
			outcome = OutcomeFailed
		}
		if err := s.insertOutcome(runID, Outcome{
			Number:          c.Number,
			Title:           c.Title,
			Outcome:         outcome,
			Branch:          c.Branch,
			ConflictsBranch: c.ConflictsBranch,
			Files:           c.Files,
			Note:            c.Note,
		}); err != nil {
			return 0, err
		}
	}
	return runID, nil
}

func (s *Store) insertOutcome(runID int64, o Outcome) error {
	filesJSON, _ := json.Marshal(o.Files)
	if o.Files == nil {
		filesJSON = []byte("[]")
	}
	_, err := s.db.Exec(`
		INSERT INTO pr_outcomes (run_id, number, title, outcome, branch, conflicts_branch, branch_deleted, files_json, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, o.Number, o.Title, o.Outcome, o.Branch, o.ConflictsBranch,
		boolToInt(o.BranchDeleted), string(filesJSON), o.Note,
	)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ListRuns returns up to limit runs, most recent first. A non-positive
// limit returns everything.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	q := `SELECT id, repo, started_at, finished_at, total, merged, conflicted FROM runs ORDER BY id DESC`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.Query(q+` LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(q)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun retrieves a single run by id.
func (s *Store) GetRun(id int64) (*Run, error) {
	row := s.db.QueryRow(`SELECT id, repo, started_at, finished_at, total, merged, conflicted FROM runs WHERE id=?`, id)

	var run Run
	var started, finished string
	err := row.Scan(&run.ID, &run.Repo, &started, &finished, &run.Total, &run.Merged, &run.Conflicted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	run.Started, _ = time.Parse(time.RFC3339, started)
	run.Finished, _ = time.Parse(time.RFC3339, finished)
	return &run, nil
}

// GetSummary reconstructs the full summary stored for a run.
func (s *Store) GetSummary(id int64) (*sweep.Summary, error) {
	var raw string
	err := s.db.QueryRow(`SELECT summary_json FROM runs WHERE id=?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var sum sweep.Summary
	if err := json.Unmarshal([]byte(raw), &sum); err != nil {
		return nil, fmt.Errorf("decoding summary for run %d: %w", id, err)
	}
	return &sum, nil
}

// Outcomes returns the per-PR outcomes of a run in insertion order.
func (s *Store) Outcomes(runID int64) ([]Outcome, error) {
	rows, err := s.db.Query(`
		SELECT run_id, number, title, outcome, branch, conflicts_branch, branch_deleted, files_json, note
		FROM pr_outcomes WHERE run_id=? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []Outcome
	for rows.Next() {
		var o Outcome
		var deleted int
		var filesJSON string
		if err := rows.Scan(&o.RunID, &o.Number, &o.Title, &o.Outcome, &o.Branch,
			&o.ConflictsBranch, &deleted, &filesJSON, &o.Note); err != nil {
			return nil, err
		}
		o.BranchDeleted = deleted != 0
		if filesJSON != "[]" {
			json.Unmarshal([]byte(filesJSON), &o.Files)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

func scanRun(rows *sql.Rows) (Run, error) {
	var run Run
	var started, finished string
	if err := rows.Scan(&run.ID, &run.Repo, &started, &finished, &run.Total, &run.Merged, &run.Conflicted); err != nil {
		return Run{}, err
	}
	run.Started, _ = time.Parse(time.RFC3339, started)
	run.Finished, _ = time.Parse(time.RFC3339, finished)
	return run, nil
}

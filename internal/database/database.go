// Package database stores counting runs and their crossing events in SQLite.
package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"crosscount/internal/logging"
	"crosscount/internal/pipeline"
)

// Database handles SQLite database operations
type Database struct {
	db     *sql.DB
	logger *logrus.Entry
}

// RunRecord represents one counting run
type RunRecord struct {
	ID              string        `json:"id"`
	Source          string        `json:"source"`
	Tracker         string        `json:"tracker"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      *time.Time    `json:"finished_at,omitempty"`
	Frames          uint64        `json:"frames"`
	TrackerFailures uint64        `json:"tracker_failures"`
	Interrupted     bool          `json:"interrupted"`
	Counts          []CountRecord `json:"counts,omitempty"`
}

// CountRecord is the final count of one region in a run
type CountRecord struct {
	Counter string `json:"counter"`
	Region  string `json:"region,omitempty"`
	In      int    `json:"in"`
	Out     int    `json:"out"`
}

// CrossingRecord represents a stored crossing event
type CrossingRecord struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Counter   string    `json:"counter"`
	FrameSeq  uint64    `json:"frame_seq"`
	Timestamp time.Time `json:"timestamp"`
	TrackID   int       `json:"track_id"`
	ClassID   int       `json:"class_id"`
	Class     string    `json:"class"`
	Direction string    `json:"direction"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	In        int       `json:"in"`
	Out       int       `json:"out"`
}

// New creates a new database connection
func New(dbPath string, logger logrus.FieldLogger) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Pragmas are per connection
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &Database{db: db, logger: logging.Component(logger, "Database")}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			tracker TEXT,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			frames INTEGER DEFAULT 0,
			tracker_failures INTEGER DEFAULT 0,
			interrupted INTEGER DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS run_counts (
			run_id TEXT NOT NULL,
			counter TEXT NOT NULL,
			region TEXT,
			count_in INTEGER NOT NULL DEFAULT 0,
			count_out INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (run_id, counter),
			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS crossings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			counter TEXT NOT NULL,
			frame_seq INTEGER NOT NULL,
			timestamp DATETIME NOT NULL,
			track_id INTEGER NOT NULL,
			class_id INTEGER,
			class TEXT,
			direction TEXT NOT NULL,
			x REAL,
			y REAL,
			count_in INTEGER,
			count_out INTEGER,
			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_crossings_run_counter ON crossings(run_id, counter, id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	d.logger.Debug("Database migrations completed successfully")
	return nil
}

// CreateRun stores a new run. An empty ID is filled with a fresh UUID and a
// zero StartedAt with the current time.
func (d *Database) CreateRun(run *RunRecord) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	_, err := d.db.Exec(`INSERT INTO runs (id, source, tracker, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Source, run.Tracker, run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// FinishRun stores the final statistics and counts of a run. regions maps
// counter names to their region description and may be nil.
func (d *Database) FinishRun(summary *pipeline.Summary, regions map[string]string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`UPDATE runs SET finished_at = ?, frames = ?, tracker_failures = ?, interrupted = ? WHERE id = ?`,
		time.Now(), summary.Frames, summary.TrackerFailures, boolToInt(summary.Interrupted), summary.RunID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to finish run: run %s not found", summary.RunID)
	}

	for _, c := range summary.Counters {
		_, err := tx.Exec(`INSERT INTO run_counts (run_id, counter, region, count_in, count_out)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(run_id, counter) DO UPDATE SET
				region = excluded.region,
				count_in = excluded.count_in,
				count_out = excluded.count_out`,
			summary.RunID, c.Name, regions[c.Name], c.In, c.Out)
		if err != nil {
			return fmt.Errorf("failed to save counts for %s: %w", c.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// GetRun retrieves a run and its counts by ID. Returns nil when not found.
func (d *Database) GetRun(id string) (*RunRecord, error) {
	query := `SELECT id, source, tracker, started_at, finished_at, frames, tracker_failures, interrupted
		FROM runs WHERE id = ?`

	run, err := scanRun(d.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	counts, err := d.runCounts(id)
	if err != nil {
		return nil, err
	}
	run.Counts = counts
	return run, nil
}

// ListRuns returns runs, newest first, without their counts
func (d *Database) ListRuns(limit int) ([]*RunRecord, error) {
	query := `SELECT id, source, tracker, started_at, finished_at, frames, tracker_failures, interrupted
		FROM runs ORDER BY started_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRunsBefore deletes runs started before the given time together with
// their counts and crossings.
func (d *Database) DeleteRunsBefore(before time.Time) (int64, error) {
	result, err := d.db.Exec("DELETE FROM runs WHERE started_at < ?", before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old runs: %w", err)
	}
	return result.RowsAffected()
}

func (d *Database) runCounts(runID string) ([]CountRecord, error) {
	rows, err := d.db.Query(`SELECT counter, region, count_in, count_out FROM run_counts
		WHERE run_id = ? ORDER BY counter`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run counts: %w", err)
	}
	defer rows.Close()

	var counts []CountRecord
	for rows.Next() {
		var c CountRecord
		var region sql.NullString
		if err := rows.Scan(&c.Counter, &region, &c.In, &c.Out); err != nil {
			return nil, fmt.Errorf("failed to scan run count: %w", err)
		}
		c.Region = region.String
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// SaveCrossing stores one crossing event
func (d *Database) SaveCrossing(event *pipeline.CrossingEvent) error {
	query := `INSERT INTO crossings
		(run_id, counter, frame_seq, timestamp, track_id, class_id, class, direction, x, y, count_in, count_out)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := d.db.Exec(query, event.RunID, event.Counter, event.FrameSeq, event.Timestamp,
		event.TrackID, event.ClassID, event.Class, string(event.Direction), event.X, event.Y, event.In, event.Out)
	if err != nil {
		return fmt.Errorf("failed to save crossing: %w", err)
	}
	return nil
}

// OnCrossing saves events published on the pipeline event bus. Storage
// errors are logged; they never stop counting.
func (d *Database) OnCrossing(event *pipeline.CrossingEvent) {
	if err := d.SaveCrossing(event); err != nil {
		d.logger.Errorf("Run %s, counter %s, track %d: %v", event.RunID, event.Counter, event.TrackID, err)
	}
}

// ListCrossings returns the crossings of a run in the order they happened.
// An empty counter returns the crossings of every counter.
func (d *Database) ListCrossings(runID, counter string, limit int) ([]*CrossingRecord, error) {
	query := `SELECT id, run_id, counter, frame_seq, timestamp, track_id, class_id, class, direction,
		x, y, count_in, count_out
		FROM crossings WHERE run_id = ?`
	args := []interface{}{runID}

	if counter != "" {
		query += " AND counter = ?"
		args = append(args, counter)
	}

	query += " ORDER BY id ASC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list crossings: %w", err)
	}
	defer rows.Close()

	var crossings []*CrossingRecord
	for rows.Next() {
		var c CrossingRecord
		if err := rows.Scan(&c.ID, &c.RunID, &c.Counter, &c.FrameSeq, &c.Timestamp, &c.TrackID,
			&c.ClassID, &c.Class, &c.Direction, &c.X, &c.Y, &c.In, &c.Out); err != nil {
			return nil, fmt.Errorf("failed to scan crossing: %w", err)
		}
		crossings = append(crossings, &c)
	}
	return crossings, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var run RunRecord
	var tracker sql.NullString
	var finished sql.NullTime
	var interrupted int

	if err := row.Scan(&run.ID, &run.Source, &tracker, &run.StartedAt, &finished,
		&run.Frames, &run.TrackerFailures, &interrupted); err != nil {
		return nil, err
	}
	run.Tracker = tracker.String
	run.Interrupted = interrupted == 1
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

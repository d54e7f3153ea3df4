package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// Open opens or creates a SQLite database and initializes the schema
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode so the dashboard server can read while a run writes
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// If database is locked, retry for up to 5 seconds before failing
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	// Run migrations for existing databases
	db := &DB{conn: conn}
	if err := db.runMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

const runColumns = `id, run_key, run_id, run_number, started_at, completed_at, status, sources, snapshot, notes`

// CreateRun creates a new run record. An empty RunKey gets a fresh uuid.
func (db *DB) CreateRun(run *Run) error {
	if run.RunKey == "" {
		run.RunKey = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = "running"
	}

	result, err := db.conn.Exec(`
		INSERT INTO runs (run_key, run_id, run_number, started_at, completed_at, status, sources, snapshot, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunKey, run.RunID, run.RunNumber, run.StartedAt.Format(time.RFC3339),
		formatOptionalTime(run.CompletedAt), run.Status, run.Sources, run.Snapshot, run.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	run.ID = id
	return nil
}

// UpdateRun updates an existing run
func (db *DB) UpdateRun(run *Run) error {
	_, err := db.conn.Exec(`
		UPDATE runs
		SET completed_at = ?, status = ?, sources = ?, snapshot = ?, notes = ?
		WHERE id = ?`,
		formatOptionalTime(run.CompletedAt), run.Status, run.Sources, run.Snapshot, run.Notes, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID
func (db *DB) GetRun(id int64) (*Run, error) {
	row := db.conn.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// GetRunByKey retrieves a run by its uuid key
func (db *DB) GetRunByKey(key string) (*Run, error) {
	row := db.conn.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_key = ?`, key)
	run, err := scanRun(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", key, err)
	}
	return run, nil
}

// LatestRun returns the most recent completed run, or sql.ErrNoRows wrapped
func (db *DB) LatestRun() (*Run, error) {
	row := db.conn.QueryRow(`SELECT ` + runColumns + ` FROM runs
		WHERE status = 'completed' ORDER BY started_at DESC, id DESC LIMIT 1`)
	run, err := scanRun(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return run, nil
}

// ListRuns lists runs newest first. A positive limit caps the result.
func (db *DB) ListRuns(limit ...int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id DESC`
	var args []interface{}
	if len(limit) > 0 && limit[0] > 0 {
		query += ` LIMIT ?`
		args = append(args, limit[0])
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var startedAt string
	var completedAt, snapshot, notes *string

	err := s.Scan(
		&run.ID, &run.RunKey, &run.RunID, &run.RunNumber,
		&startedAt, &completedAt, &run.Status, &run.Sources, &snapshot, &notes,
	)
	if err != nil {
		return nil, err
	}

	run.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	if completedAt != nil {
		t, _ := time.Parse(time.RFC3339, *completedAt)
		run.CompletedAt = &t
	}
	if snapshot != nil {
		run.Snapshot = *snapshot
	}
	if notes != nil {
		run.Notes = *notes
	}
	return &run, nil
}

// CreateToolchain records the versions captured for one channel
func (db *DB) CreateToolchain(tc *Toolchain) error {
	result, err := db.conn.Exec(`
		INSERT INTO toolchains (run_id, label, moon_version, moonc_version)
		VALUES (?, ?, ?, ?)`,
		tc.RunID, tc.Label, tc.MoonVersion, tc.MooncVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to create toolchain: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	tc.ID = id
	return nil
}

// ListToolchains lists the channels recorded for a run
func (db *DB) ListToolchains(runID int64) ([]*Toolchain, error) {
	rows, err := db.conn.Query(`
		SELECT id, run_id, label, moon_version, moonc_version
		FROM toolchains WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list toolchains: %w", err)
	}
	defer rows.Close()

	var tcs []*Toolchain
	for rows.Next() {
		var tc Toolchain
		if err := rows.Scan(&tc.ID, &tc.RunID, &tc.Label, &tc.MoonVersion, &tc.MooncVersion); err != nil {
			return nil, fmt.Errorf("failed to scan toolchain: %w", err)
		}
		tcs = append(tcs, &tc)
	}

	return tcs, rows.Err()
}

// CreateCell creates a new matrix cell record
func (db *DB) CreateCell(c *Cell) error {
	result, err := db.conn.Exec(`
		INSERT INTO cells (run_id, channel, source_index, source_label, target_index, target,
			operation, backend, status, start_time, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.RunID, c.Channel, c.SourceIndex, c.SourceLabel, c.TargetIndex, c.Target,
		c.Operation, c.Backend, c.Status, c.StartTime, c.ElapsedMs,
	)
	if err != nil {
		return fmt.Errorf("failed to create cell: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	c.ID = id
	return nil
}

// ListCells lists the cells of a run in matrix order, optionally for one channel
func (db *DB) ListCells(runID int64, channel ...string) ([]*Cell, error) {
	query := `SELECT id, run_id, channel, source_index, source_label, target_index, target,
			operation, backend, status, start_time, elapsed_ms
		FROM cells WHERE run_id = ?`
	args := []interface{}{runID}
	if len(channel) > 0 && channel[0] != "" {
		query += ` AND channel = ?`
		args = append(args, channel[0])
	}
	query += ` ORDER BY id`

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cells: %w", err)
	}
	defer rows.Close()

	var cells []*Cell
	for rows.Next() {
		var c Cell
		err := rows.Scan(
			&c.ID, &c.RunID, &c.Channel, &c.SourceIndex, &c.SourceLabel, &c.TargetIndex, &c.Target,
			&c.Operation, &c.Backend, &c.Status, &c.StartTime, &c.ElapsedMs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cell: %w", err)
		}
		cells = append(cells, &c)
	}

	return cells, rows.Err()
}

// CellStats aggregates the cells of a run
func (db *DB) CellStats(runID int64) ([]*CellStat, error) {
	rows, err := db.conn.Query(`
		SELECT channel, operation, backend, COUNT(*),
			SUM(CASE WHEN status = 'Success' THEN 1 ELSE 0 END),
			AVG(elapsed_ms)
		FROM cells WHERE run_id = ?
		GROUP BY channel, operation, backend
		ORDER BY channel DESC, MIN(id)`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query cell stats: %w", err)
	}
	defer rows.Close()

	var stats []*CellStat
	for rows.Next() {
		var s CellStat
		if err := rows.Scan(&s.Channel, &s.Operation, &s.Backend, &s.Total, &s.Succeeded, &s.AvgElapsed); err != nil {
			return nil, fmt.Errorf("failed to scan cell stat: %w", err)
		}
		stats = append(stats, &s)
	}

	return stats, rows.Err()
}

// CompareChannels pairs every stable cell of a run with its bleeding counterpart
func (db *DB) CompareChannels(runID int64) ([]*CellDiff, error) {
	rows, err := db.conn.Query(`
		SELECT s.source_index, s.source_label, s.target, s.operation, s.backend,
			s.status, b.status, s.elapsed_ms, b.elapsed_ms
		FROM cells s
		JOIN cells b ON b.run_id = s.run_id
			AND b.source_index = s.source_index
			AND b.target_index = s.target_index
			AND b.operation = s.operation
			AND b.backend = s.backend
		WHERE s.run_id = ? AND s.channel = 'Stable' AND b.channel = 'Bleeding'
		ORDER BY s.id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compare channels: %w", err)
	}
	defer rows.Close()

	var diffs []*CellDiff
	for rows.Next() {
		var d CellDiff
		err := rows.Scan(
			&d.SourceIndex, &d.SourceLabel, &d.Target, &d.Operation, &d.Backend,
			&d.StableStatus, &d.BleedingStatus, &d.StableElapsed, &d.BleedingElapsed,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cell diff: %w", err)
		}
		diffs = append(diffs, &d)
	}

	return diffs, rows.Err()
}

// CreateCheckout creates a new checkout record
func (db *DB) CreateCheckout(co *Checkout) error {
	result, err := db.conn.Exec(`
		INSERT INTO checkouts (run_id, source_index, target, kind, started_at, duration_ms,
			status, error, commit_hash, branch, crc32, size_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		co.RunID, co.SourceIndex, co.Target, co.Kind,
		co.StartedAt.Format(time.RFC3339), co.DurationMs,
		co.Status, co.Error, co.CommitHash, co.Branch, co.CRC32, co.SizeBytes,
	)
	if err != nil {
		return fmt.Errorf("failed to create checkout: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	co.ID = id
	return nil
}

// ListCheckouts lists all checkouts for a run
func (db *DB) ListCheckouts(runID int64) ([]*Checkout, error) {
	rows, err := db.conn.Query(`
		SELECT id, run_id, source_index, target, kind, started_at, duration_ms,
			status, error, commit_hash, branch, crc32, size_bytes
		FROM checkouts WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkouts: %w", err)
	}
	defer rows.Close()

	var cos []*Checkout
	for rows.Next() {
		var co Checkout
		var startedAt string
		var errText, hash, branch, crc *string

		err := rows.Scan(
			&co.ID, &co.RunID, &co.SourceIndex, &co.Target, &co.Kind, &startedAt, &co.DurationMs,
			&co.Status, &errText, &hash, &branch, &crc, &co.SizeBytes,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkout: %w", err)
		}

		co.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		co.Error = deref(errText)
		co.CommitHash = deref(hash)
		co.Branch = deref(branch)
		co.CRC32 = deref(crc)
		cos = append(cos, &co)
	}

	return cos, rows.Err()
}

// Rows wraps sql.Rows for use in query commands
type Rows = sql.Rows

// QueryRaw executes a raw SQL query and returns rows
func (db *DB) QueryRaw(query string, args ...interface{}) (*sql.Rows, error) {
	return db.conn.Query(query, args...)
}

// QueryRowRaw executes a raw SQL query and returns a single row
func (db *DB) QueryRowRaw(query string, args ...interface{}) *sql.Row {
	return db.conn.QueryRow(query, args...)
}

// runMigrations applies database schema migrations for existing databases
func (db *DB) runMigrations() error {
	// snapshot arrived after the first release of the runs table
	var snapshotExists bool
	err := db.conn.QueryRow(`
		SELECT COUNT(*) > 0
		FROM pragma_table_info('runs')
		WHERE name = 'snapshot'
	`).Scan(&snapshotExists)

	if err != nil {
		return fmt.Errorf("failed to check for snapshot column: %w", err)
	}

	if !snapshotExists {
		_, err := db.conn.Exec(`ALTER TABLE runs ADD COLUMN snapshot TEXT`)
		if err != nil {
			return fmt.Errorf("failed to add snapshot column: %w", err)
		}
	}

	return nil
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

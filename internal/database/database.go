package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vincentbai/focustrace/internal/models"
	_ "modernc.org/sqlite" // CGO-free SQLite
)

// ErrInvalidEvent is wrapped by every event validation failure.
var ErrInvalidEvent = errors.New("invalid event")

// ErrNotFound is returned when a run or report does not exist.
var ErrNotFound = errors.New("not found")

type Database struct {
	db         *sql.DB
	validKinds map[models.Kind]bool
}

func NewDatabase(databasePath string) (*Database, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", databasePath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	validKinds := make(map[models.Kind]bool, len(models.Kinds))
	for _, kind := range models.Kinds {
		validKinds[kind] = true
	}
	return &Database{db: db, validKinds: validKinds}, nil
}

func createTables(db *sql.DB) error {
	kinds := make([]string, len(models.Kinds))
	for i, kind := range models.Kinds {
		kinds[i] = "'" + string(kind) + "'"
	}

	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS runs(
	  id          TEXT    PRIMARY KEY,
	  preset      TEXT    NOT NULL,
	  started_at  INTEGER NOT NULL,
	  config_json TEXT    NOT NULL CHECK (json_valid(config_json))
	);
	CREATE TABLE IF NOT EXISTS events(
	  id           INTEGER PRIMARY KEY,
	  run_id       TEXT    NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	  seq          INTEGER NOT NULL,
	  ts_utc       INTEGER NOT NULL,
	  ts_iso       TEXT    NOT NULL,
	  kind         TEXT    NOT NULL CHECK (kind IN (` + strings.Join(kinds, ",") + `)),
	  element_id   TEXT    NOT NULL,
	  degraded     INTEGER NOT NULL DEFAULT 0,
	  payload_json TEXT    NOT NULL CHECK (json_valid(payload_json)),
	  UNIQUE(run_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_events_run_ts   ON events(run_id, ts_utc);
	CREATE INDEX IF NOT EXISTS idx_events_run_kind ON events(run_id, kind);
	CREATE TABLE IF NOT EXISTS reports(
	  run_id                TEXT    PRIMARY KEY REFERENCES runs(id) ON DELETE CASCADE,
	  finished_at           INTEGER NOT NULL,
	  possible_reproduction INTEGER NOT NULL,
	  report_json           TEXT    NOT NULL CHECK (json_valid(report_json))
	);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) ValidateEvent(event models.Event) error {
	if event.Kind == "" {
		return fmt.Errorf("%w: kind cannot be empty", ErrInvalidEvent)
	}
	if !d.validKinds[event.Kind] {
		return fmt.Errorf("%w: unknown kind %s", ErrInvalidEvent, event.Kind)
	}
	if event.Seq <= 0 {
		return fmt.Errorf("%w: sequence must be positive", ErrInvalidEvent)
	}
	if event.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp cannot be zero", ErrInvalidEvent)
	}
	return nil
}

// CreateRun registers a run and the configuration it was started with.
func (d *Database) CreateRun(ctx context.Context, runID, preset string, startedAt time.Time, config any) error {
	if runID == "" {
		return fmt.Errorf("run id cannot be empty")
	}
	configJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal run config: %w", err)
	}
	if _, err := d.db.ExecContext(ctx,
		`INSERT INTO runs(id, preset, started_at, config_json) VALUES(?,?,?,json(?))`,
		runID, preset, startedAt.UnixNano(), string(configJSON),
	); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// InsertEvents stores a batch of timeline events for a run. The batch is
// written in one transaction; one invalid event rejects all of it.
func (d *Database) InsertEvents(ctx context.Context, runID string, events []models.Event) error {
	transaction, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	statement, err := transaction.PrepareContext(ctx,
		`INSERT INTO events(run_id, seq, ts_utc, ts_iso, kind, element_id, degraded, payload_json) VALUES(?,?,?,?,?,?,?,json(?))`)
	if err != nil {
		_ = transaction.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer statement.Close()

	for _, event := range events {
		if err := d.ValidateEvent(event); err != nil {
			_ = transaction.Rollback()
			return err
		}

		payloadJSON, err := json.Marshal(event.Payload)
		if err != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}
		if _, err := statement.ExecContext(ctx,
			runID,
			event.Seq,
			event.Timestamp.UnixNano(),
			event.Timestamp.UTC().Format(time.RFC3339Nano),
			string(event.Kind),
			event.ID,
			event.Degraded,
			string(payloadJSON),
		); err != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("failed to execute statement: %w", err)
		}
	}
	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Events returns the stored events of a run in sequence order. An empty
// kind returns every kind.
func (d *Database) Events(ctx context.Context, runID string, kind models.Kind) ([]models.Event, error) {
	query := `SELECT seq, ts_utc, kind, element_id, degraded, payload_json FROM events WHERE run_id = ?`
	args := []any{runID}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY seq`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var (
			event       models.Event
			tsUnixNano  int64
			kindText    string
			payloadJSON string
		)
		if err := rows.Scan(&event.Seq, &tsUnixNano, &kindText, &event.ID, &event.Degraded, &payloadJSON); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Timestamp = time.Unix(0, tsUnixNano).UTC()
		event.Kind = models.Kind(kindText)
		if err := json.Unmarshal([]byte(payloadJSON), &event.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode event payload: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return events, nil
}

// Emit stores the final report of a run, replacing any earlier one. It
// makes the database usable as a report sink.
func (d *Database) Emit(ctx context.Context, report models.Report) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if _, err := d.db.ExecContext(ctx,
		`INSERT INTO reports(run_id, finished_at, possible_reproduction, report_json) VALUES(?,?,?,json(?))
		 ON CONFLICT(run_id) DO UPDATE SET
		   finished_at = excluded.finished_at,
		   possible_reproduction = excluded.possible_reproduction,
		   report_json = excluded.report_json`,
		report.RunID, report.FinishedAt.UnixNano(), report.PossibleReproduction, string(reportJSON),
	); err != nil {
		return fmt.Errorf("failed to store report: %w", err)
	}
	return nil
}

// Report loads the stored report of a run.
func (d *Database) Report(ctx context.Context, runID string) (models.Report, error) {
	var reportJSON string
	err := d.db.QueryRowContext(ctx, `SELECT report_json FROM reports WHERE run_id = ?`, runID).Scan(&reportJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Report{}, fmt.Errorf("report for run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return models.Report{}, fmt.Errorf("failed to query report: %w", err)
	}
	var report models.Report
	if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
		return models.Report{}, fmt.Errorf("failed to decode report: %w", err)
	}
	return report, nil
}

// Reproductions returns the ids of runs whose report flagged a possible
// reproduction, newest first.
func (d *Database) Reproductions(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT run_id FROM reports WHERE possible_reproduction = 1 ORDER BY finished_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

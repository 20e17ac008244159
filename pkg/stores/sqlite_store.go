package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/fsiopt/fsiopt/pkg/design"
	"github.com/fsiopt/fsiopt/pkg/telemetry"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	cfg  Config
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// every connection to :memory: is a separate database
	if isMemory(cfg.Path) {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		cfg:  cfg,
		path: cfg.Path,
	}, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	if !isMemory(s.path) {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CreateRun records the start of an orchestrator run
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, root_config, folder, started_at, resumed)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.RootConfig,
		run.Folder,
		run.StartedAt,
		run.Resumed,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// ListRuns lists runs, oldest first
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]*Run, error) {
	query := `
		SELECT id, root_config, folder, started_at, resumed
		FROM runs
		ORDER BY started_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		if err := rows.Scan(&run.ID, &run.RootConfig, &run.Folder, &run.StartedAt, &run.Resumed); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// SaveDesign inserts a design or updates its flags. Flags already set in
// the database are never cleared.
func (s *SQLiteStore) SaveDesign(ctx context.Context, rec *design.Record) error {
	vector, err := json.Marshal(rec.X)
	if err != nil {
		return fmt.Errorf("failed to encode design vector: %w", err)
	}
	previous, err := json.Marshal(rec.Previous)
	if err != nil {
		return fmt.Errorf("failed to encode previous vector: %w", err)
	}

	query := `
		INSERT INTO designs (idx, vector, previous, dir, deformed, primal_complete, adjoint_complete, geo_complete, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(idx) DO UPDATE SET
			deformed = MAX(deformed, excluded.deformed),
			primal_complete = MAX(primal_complete, excluded.primal_complete),
			adjoint_complete = MAX(adjoint_complete, excluded.adjoint_complete),
			geo_complete = MAX(geo_complete, excluded.geo_complete),
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, query,
		rec.Index,
		string(vector),
		string(previous),
		rec.Dir,
		rec.Deformed,
		rec.PrimalComplete,
		rec.AdjointComplete,
		rec.GeoComplete,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to save design %d: %w", rec.Index, err)
	}

	return nil
}

const designColumns = `idx, vector, previous, dir, deformed, primal_complete, adjoint_complete, geo_complete`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDesign(row rowScanner) (*design.Record, error) {
	rec := &design.Record{}
	var vector, previous string
	if err := row.Scan(
		&rec.Index,
		&vector,
		&previous,
		&rec.Dir,
		&rec.Deformed,
		&rec.PrimalComplete,
		&rec.AdjointComplete,
		&rec.GeoComplete,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(vector), &rec.X); err != nil {
		return nil, fmt.Errorf("failed to decode design %d vector: %w", rec.Index, err)
	}
	if err := json.Unmarshal([]byte(previous), &rec.Previous); err != nil {
		return nil, fmt.Errorf("failed to decode design %d previous vector: %w", rec.Index, err)
	}
	return rec, nil
}

// GetDesign retrieves a design by index
func (s *SQLiteStore) GetDesign(ctx context.Context, index int) (*design.Record, error) {
	query := `SELECT ` + designColumns + ` FROM designs WHERE idx = ?`

	rec, err := scanDesign(s.db.QueryRowContext(ctx, query, index))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("design %d: %w", index, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get design: %w", err)
	}

	return rec, nil
}

// ListDesigns lists all designs in index order
func (s *SQLiteStore) ListDesigns(ctx context.Context) ([]*design.Record, error) {
	query := `SELECT ` + designColumns + ` FROM designs ORDER BY idx ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list designs: %w", err)
	}
	defer rows.Close()

	var records []*design.Record
	for rows.Next() {
		rec, err := scanDesign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan design: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// RecordStageRun inserts a stage run or updates its outcome
func (s *SQLiteStore) RecordStageRun(ctx context.Context, run *design.StageRun) error {
	query := `
		INSERT INTO stage_runs (id, design_idx, stage, status, started_at, completed_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at,
			error = excluded.error
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Design,
		string(run.Stage),
		string(run.Status),
		run.StartedAt,
		run.CompletedAt,
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record stage run: %w", err)
	}

	return nil
}

// ListStageRuns lists stage runs, optionally for one design, in start order
func (s *SQLiteStore) ListStageRuns(ctx context.Context, index *int) ([]*design.StageRun, error) {
	query := `
		SELECT id, design_idx, stage, status, started_at, completed_at, error
		FROM stage_runs
	`
	args := []interface{}{}
	if index != nil {
		query += " WHERE design_idx = ?"
		args = append(args, *index)
	}
	query += " ORDER BY started_at ASC, design_idx ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage runs: %w", err)
	}
	defer rows.Close()

	var runs []*design.StageRun
	for rows.Next() {
		run := &design.StageRun{}
		var stage, status string
		if err := rows.Scan(
			&run.ID,
			&run.Design,
			&stage,
			&status,
			&run.StartedAt,
			&run.CompletedAt,
			&run.Error,
		); err != nil {
			return nil, fmt.Errorf("failed to scan stage run: %w", err)
		}
		run.Stage = design.Stage(stage)
		run.Status = design.StageStatus(status)
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// AppendEvent appends an event to the event log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (event_id, run_id, design_idx, stage, type, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.EventID,
		event.RunID,
		event.Design,
		event.Stage,
		event.Type,
		string(event.Level),
		event.Message,
		event.Details,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}
	event.ID = id

	return nil
}

// RecordEvent appends a published telemetry event
func (s *SQLiteStore) RecordEvent(ctx context.Context, e telemetry.Event) error {
	event := &Event{
		EventID:   e.ID,
		Type:      e.Type,
		Level:     EventLevel(e.Level),
		Message:   e.Message,
		Timestamp: e.Timestamp,
	}
	if e.RunID != "" {
		event.RunID = &e.RunID
	}
	if e.Design != telemetry.NoDesign {
		index := e.Design
		event.Design = &index
	}
	if e.Stage != "" {
		event.Stage = &e.Stage
	}
	if len(e.Data) > 0 {
		details, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("failed to encode event details: %w", err)
		}
		d := string(details)
		event.Details = &d
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return s.AppendEvent(ctx, event)
}

// GetEvents retrieves events in insertion order
func (s *SQLiteStore) GetEvents(ctx context.Context, q EventQuery) ([]*Event, error) {
	query := `
		SELECT id, event_id, run_id, design_idx, stage, type, level, message, details, timestamp
		FROM events
		WHERE 1=1
	`
	args := []interface{}{}

	if q.Design != nil {
		query += " AND design_idx = ?"
		args = append(args, *q.Design)
	}
	if q.Level != nil {
		query += " AND level = ?"
		args = append(args, string(*q.Level))
	}

	query += " ORDER BY id ASC"
	if q.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, q.Limit, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event := &Event{}
		var level string
		if err := rows.Scan(
			&event.ID,
			&event.EventID,
			&event.RunID,
			&event.Design,
			&event.Stage,
			&event.Type,
			&level,
			&event.Message,
			&event.Details,
			&event.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Level = EventLevel(level)
		events = append(events, event)
	}

	return events, rows.Err()
}

// Reset deletes every run, design, stage run and event
func (s *SQLiteStore) Reset(ctx context.Context) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"events", "stage_runs", "designs", "runs"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	return tx.Commit()
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

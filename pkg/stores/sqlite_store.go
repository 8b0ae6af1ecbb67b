package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	"github.com/provisio/provisio/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultListLimit bounds ListRuns when no limit is given.
const DefaultListLimit = 20

// SQLiteStore is the run journal. It implements engine.RunRecorder.
type SQLiteStore struct {
	db     *sql.DB
	cfg    Config
	logger zerolog.Logger
}

var _ engine.RunRecorder = (*SQLiteStore)(nil)

// Config holds SQLite store configuration.
type Config struct {
	// Path is the database file. Parent directories are created.
	Path string

	// Target and Project label recorded runs.
	Target  string
	Project string

	// Now stamps recorded runs; defaults to time.Now.
	Now func() time.Time
}

// NewSQLiteStore creates a store. Call Init and Migrate before use, or use
// Open.
func NewSQLiteStore(cfg Config, logger zerolog.Logger) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SQLiteStore{
		cfg:    cfg,
		logger: logger.With().Str("component", "journal").Logger(),
	}, nil
}

// Open creates, initializes and migrates a store.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init opens the database in WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if dir := filepath.Dir(s.cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate", s.cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// One writer per process; also keeps a single connection for :memory:.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate brings the schema up to date.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// RecordRun stores a finished run with its entries in one transaction.
func (s *SQLiteStore) RecordRun(ctx context.Context, report *engine.Report) error {
	if report == nil || report.RunID == "" {
		return fmt.Errorf("report has no run id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	c := report.Counts
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, plan_id, status, target, project, started_at, finished_at,
			created, updated, restarted, noop, failed, skipped_dependency, skipped_cancelled, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.RunID, report.PlanID, string(report.Status), s.cfg.Target, s.cfg.Project,
		nullTime(report.StartedAt), nullTime(report.FinishedAt),
		c.Created, c.Updated, c.Restarted, c.NoOp, c.Failed, c.SkippedDependency, c.SkippedCancelled,
		s.cfg.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_entries (run_id, position, resource_id, kind, action, status, attempts, error, root_cause, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare entry insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range report.Entries {
		if _, err := stmt.ExecContext(ctx, report.RunID, i, e.ResourceID, string(e.Kind), string(e.Action),
			string(e.Status), e.Attempts, e.Error, e.RootCause, int64(e.Duration)); err != nil {
			return fmt.Errorf("failed to insert entry %s: %w", e.ResourceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	s.logger.Debug().Str("run_id", report.RunID).Int("entries", len(report.Entries)).Msg("Run recorded")
	return nil
}

const runColumns = `id, plan_id, status, target, project, started_at, finished_at,
	created, updated, restarted, noop, failed, skipped_dependency, skipped_cancelled, recorded_at`

// ListRuns returns the most recent runs first, without entries.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY recorded_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// GetRun returns a run with its entries in report order.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT resource_id, kind, action, status, attempts, error, root_cause, duration_ns
		FROM run_entries WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load run entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e        engine.ReportEntry
			kind     string
			action   string
			status   string
			duration int64
		)
		if err := rows.Scan(&e.ResourceID, &kind, &action, &status, &e.Attempts, &e.Error, &e.RootCause, &duration); err != nil {
			return nil, fmt.Errorf("failed to scan run entry: %w", err)
		}
		e.Kind = engine.Kind(kind)
		e.Action = engine.Action(action)
		e.Status = engine.OperationStatus(status)
		e.Duration = time.Duration(duration)
		run.Entries = append(run.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run entries: %w", err)
	}
	return run, nil
}

// HealthCheck pings the database.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run      Run
		status   string
		started  sql.NullTime
		finished sql.NullTime
	)
	err := row.Scan(&run.ID, &run.PlanID, &status, &run.Target, &run.Project, &started, &finished,
		&run.Counts.Created, &run.Counts.Updated, &run.Counts.Restarted, &run.Counts.NoOp,
		&run.Counts.Failed, &run.Counts.SkippedDependency, &run.Counts.SkippedCancelled, &run.RecordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	run.Status = engine.RunStatus(status)
	run.StartedAt = started.Time
	run.FinishedAt = finished.Time
	return &run, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

package record

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Query is a statement with one text per SQL dialect.
type Query struct {
	ID       string
	Postgres string
	SQLite   string
}

// For returns the statement text for driver.
func (q Query) For(driver string) string {
	if driver == "postgres" {
		return q.Postgres
	}
	return q.SQLite
}

var (
	QueryCreateTable = Query{
		ID: "create_runs",
		Postgres: `CREATE TABLE IF NOT EXISTS scenario_runs (
	id TEXT PRIMARY KEY,
	instance TEXT NOT NULL,
	target TEXT NOT NULL,
	scenario TEXT NOT NULL,
	status TEXT NOT NULL,
	warnings INTEGER NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL,
	error TEXT NOT NULL
)`,
		SQLite: `CREATE TABLE IF NOT EXISTS scenario_runs (
	id TEXT PRIMARY KEY,
	instance TEXT NOT NULL,
	target TEXT NOT NULL,
	scenario TEXT NOT NULL,
	status TEXT NOT NULL,
	warnings INTEGER NOT NULL,
	started_at TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	error TEXT NOT NULL
)`,
	}

	QueryInsertRun = Query{
		ID: "insert_run",
		Postgres: "INSERT INTO scenario_runs (id, instance, target, scenario, status, warnings, started_at, duration_ms, error) " +
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		SQLite: "INSERT INTO scenario_runs (id, instance, target, scenario, status, warnings, started_at, duration_ms, error) " +
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
	}

	QueryRecentRuns = Query{
		ID: "recent_runs",
		Postgres: "SELECT id, instance, target, scenario, status, warnings, started_at, duration_ms, error " +
			"FROM scenario_runs ORDER BY started_at DESC LIMIT $1",
		SQLite: "SELECT id, instance, target, scenario, status, warnings, started_at, duration_ms, error " +
			"FROM scenario_runs ORDER BY started_at DESC LIMIT ?",
	}
)

// SQLSink appends runs to the scenario_runs table.
type SQLSink struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
}

// Open connects to dsn with driver ("sqlite" or "postgres") and prepares
// the table.
func Open(ctx context.Context, driver, dsn string, logger *zap.Logger) (*SQLSink, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s records: %w", driver, err)
	}
	if driver == "sqlite" {
		// :memory: databases live per connection.
		db.SetMaxOpenConns(1)
	}
	sink, err := NewSQLSink(ctx, db, driver, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return sink, nil
}

// NewSQLSink wraps an open database and creates the table if needed.
func NewSQLSink(ctx context.Context, db *sql.DB, driver string, logger *zap.Logger) (*SQLSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SQLSink{db: db, driver: driver, logger: logger.Named("records")}
	if _, err := db.ExecContext(ctx, QueryCreateTable.For(driver)); err != nil {
		return nil, fmt.Errorf("create scenario_runs: %w", err)
	}
	return s, nil
}

// Record implements Sink.
func (s *SQLSink) Record(ctx context.Context, run Run) error {
	s.logger.Debug("Executing query", zap.String("queryID", QueryInsertRun.ID), zap.String("run_id", run.ID))
	_, err := s.db.ExecContext(ctx, QueryInsertRun.For(s.driver),
		run.ID, run.Instance, run.Target, run.Scenario, run.Status, run.Warnings,
		s.timestamp(run.StartedAt), run.Duration.Milliseconds(), run.Error)
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

func (s *SQLSink) timestamp(t time.Time) any {
	if s.driver == "postgres" {
		return t.UTC()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// Recent returns up to limit runs, newest first.
func (s *SQLSink) Recent(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, QueryRecentRuns.For(s.driver), limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Error("Error closing rows", zap.Error(closeErr))
		}
	}()

	var runs []Run
	for rows.Next() {
		var (
			r       Run
			started any
			ms      int64
		)
		if err := rows.Scan(&r.ID, &r.Instance, &r.Target, &r.Scenario, &r.Status, &r.Warnings, &started, &ms, &r.Error); err != nil {
			return nil, err
		}
		if r.StartedAt, err = parseTimestamp(started); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func parseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return time.Parse(time.RFC3339Nano, t)
	case []byte:
		return time.Parse(time.RFC3339Nano, string(t))
	}
	return time.Time{}, fmt.Errorf("unexpected timestamp %T", v)
}

// Close implements Sink.
func (s *SQLSink) Close() error {
	return s.db.Close()
}

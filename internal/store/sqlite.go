package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

// migrations are applied in order; PRAGMA user_version records how many
// have run.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id           TEXT PRIMARY KEY,
		strategy     TEXT NOT NULL,
		symbol       TEXT NOT NULL,
		timeframe    TEXT NOT NULL,
		params       TEXT NOT NULL DEFAULT '{}',
		success      INTEGER NOT NULL,
		error        TEXT NOT NULL DEFAULT '',
		net_profit   REAL NOT NULL DEFAULT 0,
		total_trades INTEGER NOT NULL DEFAULT 0,
		created_at   INTEGER NOT NULL,
		report       TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS runs_created_at ON runs (created_at DESC)`,
}

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, brings its
// schema up to date and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// ":memory:" databases exist per connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return err
	}
	for i := version; i < len(migrations); i++ {
		if _, err := s.db.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, i+1)); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts or replaces a run.
func (s *SQLiteStore) SaveRun(ctx context.Context, r *RunRecord) error {
	params := string(r.Params)
	if params == "" {
		params = "{}"
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(id, strategy, symbol, timeframe, params, success, error, net_profit, total_trades, created_at, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Strategy, r.Symbol, r.Timeframe, params, r.Success, r.Error,
		r.NetProfit, r.TotalTrades, created.UnixMilli(), string(r.Report),
	)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", r.ID, err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, strategy, symbol, timeframe, params, success, error, net_profit, total_trades, created_at, report
		FROM runs WHERE id = ?`, id)

	var (
		r       RunRecord
		params  string
		report  string
		created int64
	)
	err := row.Scan(&r.ID, &r.Strategy, &r.Symbol, &r.Timeframe, &params, &r.Success,
		&r.Error, &r.NetProfit, &r.TotalTrades, &created, &report)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading run %s: %w", id, err)
	}
	r.Params = []byte(params)
	r.Report = []byte(report)
	r.CreatedAt = time.UnixMilli(created).UTC()
	return &r, nil
}

// ListRuns returns the most recent runs, up to limit.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strategy, symbol, timeframe, params, success, error, net_profit, total_trades, created_at
		FROM runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		var (
			r       RunRecord
			params  string
			created int64
		)
		if err := rows.Scan(&r.ID, &r.Strategy, &r.Symbol, &r.Timeframe, &params, &r.Success,
			&r.Error, &r.NetProfit, &r.TotalTrades, &created); err != nil {
			return nil, err
		}
		r.Params = []byte(params)
		r.CreatedAt = time.UnixMilli(created).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

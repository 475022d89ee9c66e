// Package sqlite implements the domain stores on an embedded SQLite
// database (modernc.org/sqlite, no cgo). Times are stored as unix
// milliseconds and JSON documents as TEXT.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// Store bundles every SQLite-backed store over one connection.
type Store struct {
	db        *sql.DB
	markets   *MarketStore
	trades    *TradeStore
	baselines *BaselineStore
	anomalies *AnomalyStore
	traders   *TraderProfileStore
	audit     *AuditStore
}

// Open opens or creates the database at path and applies the schema. The
// special path ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL lets readers proceed

	pragmas := []string{`PRAGMA busy_timeout=5000`}
	if path != ":memory:" {
		pragmas = append(pragmas, `PRAGMA journal_mode=WAL`)
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		db:        db,
		markets:   &MarketStore{db: db, now: time.Now},
		trades:    &TradeStore{db: db},
		baselines: &BaselineStore{db: db},
		anomalies: &AnomalyStore{db: db},
		traders:   &TraderProfileStore{db: db},
		audit:     &AuditStore{db: db, now: time.Now},
	}, nil
}

func (s *Store) Markets() domain.MarketStore { return s.markets }
func (s *Store) Trades() domain.TradeStore { return s.trades }
func (s *Store) Baselines() domain.BaselineStore { return s.baselines }
func (s *Store) Anomalies() domain.AnomalyStore { return s.anomalies }
func (s *Store) Traders() domain.TraderProfileStore { return s.traders }
func (s *Store) Audit() domain.AuditStore { return s.audit }
func (s *Store) Close() error { return s.db.Close() }

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS markets (
			ticker       TEXT PRIMARY KEY,
			event_ticker TEXT NOT NULL DEFAULT '',
			title        TEXT NOT NULL DEFAULT '',
			category     TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL,
			close_time   INTEGER,
			created_at   INTEGER NOT NULL,
			updated_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_markets_status ON markets(status)`,
		`CREATE INDEX IF NOT EXISTS idx_markets_ticker_status ON markets(ticker, status)`,
		`CREATE TABLE IF NOT EXISTS trades (
			trade_id  TEXT PRIMARY KEY,
			ticker    TEXT NOT NULL,
			price     INTEGER NOT NULL CHECK (price BETWEEN 0 AND 100),
			volume    INTEGER NOT NULL CHECK (volume >= 1),
			side      TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			trader_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_ticker_ts ON trades(ticker, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(timestamp)`,
		`CREATE TABLE IF NOT EXISTS baselines (
			ticker              TEXT PRIMARY KEY,
			avg_volume          REAL NOT NULL,
			std_volume          REAL NOT NULL,
			avg_price           REAL NOT NULL,
			std_price           REAL NOT NULL,
			avg_trades_per_hour REAL NOT NULL,
			sample_size         INTEGER NOT NULL,
			window_days         INTEGER NOT NULL,
			calculated_at       INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS anomalies (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			ticker      TEXT NOT NULL,
			type        TEXT NOT NULL,
			score       REAL NOT NULL,
			severity    TEXT NOT NULL,
			details     TEXT NOT NULL DEFAULT '{}',
			detected_at INTEGER NOT NULL,
			resolved    INTEGER NOT NULL DEFAULT 0,
			resolved_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_anomalies_severity ON anomalies(severity)`,
		`CREATE INDEX IF NOT EXISTS idx_anomalies_detected ON anomalies(detected_at)`,
		`CREATE INDEX IF NOT EXISTS idx_anomalies_severity_detected ON anomalies(severity, detected_at)`,
		`CREATE INDEX IF NOT EXISTS idx_anomalies_open ON anomalies(ticker, type, resolved, detected_at)`,
		`CREATE TABLE IF NOT EXISTS trader_profiles (
			trader_id      TEXT PRIMARY KEY,
			first_seen     INTEGER NOT NULL,
			trade_count    INTEGER NOT NULL,
			total_volume   REAL NOT NULL,
			avg_trade_size REAL NOT NULL,
			is_whale       INTEGER NOT NULL DEFAULT 0,
			updated_at     INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			event      TEXT NOT NULL,
			detail     TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_event_created ON audit_log(event, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w", err)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func ms(t time.Time) int64 { return t.UnixMilli() }

func fromMs(v int64) time.Time { return time.UnixMilli(v).UTC() }

func nullMs(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMs(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMs(v.Int64)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// where accumulates optional SQL predicates and their arguments.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, args ...any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// page appends LIMIT/OFFSET. SQLite requires a LIMIT before OFFSET.
func page(query string, args []any, limit, offset int) (string, []any) {
	if limit <= 0 && offset <= 0 {
		return query, args
	}
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ?"
	args = append(args, limit)
	if offset > 0 {
		query += " OFFSET ?"
		args = append(args, offset)
	}
	return query, args
}

var _ domain.Store = (*Store)(nil)

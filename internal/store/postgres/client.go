// Package postgres implements the domain stores on PostgreSQL via pgx.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ApplicationName tags every connection in pg_stat_activity.
const ApplicationName = "insiderwatch"

// ErrSchemaAhead is returned when the database has migrations this binary
// does not ship, i.e. it was migrated by a newer release.
var ErrSchemaAhead = errors.New("postgres: database schema is newer than this binary")

// ClientConfig holds connection parameters. DSN wins over the discrete
// fields when set.
type ClientConfig struct {
	DSN      string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN builds a connection string from cfg.
func DSN(cfg ClientConfig) string {
	if dsn := strings.TrimSpace(cfg.DSN); dsn != "" {
		return dsn
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslMode := cmpOr(cfg.SSLMode, "disable")
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, port, cfg.Database, sslMode)
}

func cmpOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Client owns the pgx pool shared by every store.
type Client struct {
	pool *pgxpool.Pool
}

// New opens the pool and pings the server.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if _, ok := poolCfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping %s: %w", poolCfg.ConnConfig.Host, err)
	}
	return &Client{pool: pool}, nil
}

func (c *Client) Pool() *pgxpool.Pool { return c.pool }

func (c *Client) Close() { c.pool.Close() }

// Migrations lists the embedded migration files in apply order.
func Migrations() ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("postgres: read migrations dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// RunMigrations applies pending embedded migrations, one transaction each,
// and records them in schema_migrations. It refuses to run against a
// database that has applied a migration the binary does not know.
func (c *Client) RunMigrations(ctx context.Context) error {
	const tracker = `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`
	if _, err := c.pool.Exec(ctx, tracker); err != nil {
		return fmt.Errorf("postgres: create schema_migrations: %w", err)
	}

	known, err := Migrations()
	if err != nil {
		return err
	}
	applied, err := c.appliedMigrations(ctx)
	if err != nil {
		return err
	}
	if unknown := unknownMigrations(applied, known); len(unknown) > 0 {
		return fmt.Errorf("%w: %s", ErrSchemaAhead, strings.Join(unknown, ", "))
	}

	for _, name := range known {
		if slices.Contains(applied, name) {
			continue
		}
		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("postgres: read migration %s: %w", name, err)
		}
		err = pgx.BeginFunc(ctx, c.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(data)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, name)
			return err
		})
		if err != nil {
			return fmt.Errorf("postgres: apply migration %s: %w", name, err)
		}
	}
	return nil
}

func (c *Client) appliedMigrations(ctx context.Context) ([]string, error) {
	rows, err := c.pool.Query(ctx, `SELECT filename FROM schema_migrations ORDER BY filename`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list applied migrations: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan applied migrations: %w", err)
	}
	return names, nil
}

// unknownMigrations returns applied names missing from known.
func unknownMigrations(applied, known []string) []string {
	var out []string
	for _, name := range applied {
		if !slices.Contains(known, name) {
			out = append(out, name)
		}
	}
	return out
}

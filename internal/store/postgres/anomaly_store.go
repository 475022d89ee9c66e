package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// AnomalyStore implements domain.AnomalyStore using PostgreSQL. Details are
// stored as JSONB.
type AnomalyStore struct {
	pool *pgxpool.Pool
}

// NewAnomalyStore creates a new AnomalyStore backed by the given connection pool.
func NewAnomalyStore(pool *pgxpool.Pool) *AnomalyStore {
	return &AnomalyStore{pool: pool}
}

const anomalySelectCols = `id, ticker, type, score, severity, details, detected_at, resolved, resolved_at`

func marshalDetails(d map[string]any) ([]byte, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d)
}

func scanAnomaly(row pgx.Row) (domain.Anomaly, error) {
	var (
		a        domain.Anomaly
		severity string
		details  []byte
	)
	if err := row.Scan(&a.ID, &a.Ticker, &a.Type, &a.Score, &severity, &details,
		&a.DetectedAt, &a.Resolved, &a.ResolvedAt); err != nil {
		return domain.Anomaly{}, err
	}
	a.Severity = domain.Severity(severity)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &a.Details); err != nil {
			return domain.Anomaly{}, fmt.Errorf("unmarshal details: %w", err)
		}
	}
	return a, nil
}

func (s *AnomalyStore) list(ctx context.Context, query string, args ...any) ([]domain.Anomaly, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Anomaly
	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Insert stores a new anomaly and returns its id.
func (s *AnomalyStore) Insert(ctx context.Context, a domain.Anomaly) (int64, error) {
	details, err := marshalDetails(a.Details)
	if err != nil {
		return 0, fmt.Errorf("postgres: marshal anomaly details: %w", err)
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO anomalies (ticker, type, score, severity, details, detected_at, resolved, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		a.Ticker, a.Type, a.Score, string(a.Severity), details, a.DetectedAt, a.Resolved, a.ResolvedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert anomaly %s/%s: %w", a.Ticker, a.Type, err)
	}
	return id, nil
}

// FindOpen returns the latest unresolved anomaly of the given type for
// ticker detected at or after since.
func (s *AnomalyStore) FindOpen(ctx context.Context, ticker, anomalyType string, since time.Time) (domain.Anomaly, error) {
	a, err := scanAnomaly(s.pool.QueryRow(ctx, `
		SELECT `+anomalySelectCols+` FROM anomalies
		WHERE ticker = $1 AND type = $2 AND NOT resolved AND detected_at >= $3
		ORDER BY detected_at DESC, id DESC LIMIT 1`,
		ticker, anomalyType, since))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Anomaly{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Anomaly{}, fmt.Errorf("postgres: find open anomaly %s/%s: %w", ticker, anomalyType, err)
	}
	return a, nil
}

// UpdateScore overwrites score, severity and details.
func (s *AnomalyStore) UpdateScore(ctx context.Context, id int64, score float64, severity domain.Severity, details map[string]any) error {
	d, err := marshalDetails(details)
	if err != nil {
		return fmt.Errorf("postgres: marshal anomaly details: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE anomalies SET score = $2, severity = $3, details = $4 WHERE id = $1`,
		id, score, string(severity), d)
	if err != nil {
		return fmt.Errorf("postgres: update anomaly %d: %w", id, err)
	}
	return requireRow(tag, id)
}

// Resolve marks an anomaly resolved.
func (s *AnomalyStore) Resolve(ctx context.Context, id int64, resolvedAt time.Time, details map[string]any) error {
	d, err := marshalDetails(details)
	if err != nil {
		return fmt.Errorf("postgres: marshal anomaly details: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE anomalies SET resolved = TRUE, resolved_at = $2, details = $3 WHERE id = $1`,
		id, resolvedAt, d)
	if err != nil {
		return fmt.Errorf("postgres: resolve anomaly %d: %w", id, err)
	}
	return requireRow(tag, id)
}

func requireRow(tag pgconn.CommandTag, id int64) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: anomaly %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Get returns one anomaly by id.
func (s *AnomalyStore) Get(ctx context.Context, id int64) (domain.Anomaly, error) {
	a, err := scanAnomaly(s.pool.QueryRow(ctx,
		`SELECT `+anomalySelectCols+` FROM anomalies WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Anomaly{}, fmt.Errorf("postgres: anomaly %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Anomaly{}, fmt.Errorf("postgres: get anomaly %d: %w", id, err)
	}
	return a, nil
}

// List returns anomalies matching f, newest first.
func (s *AnomalyStore) List(ctx context.Context, f domain.AnomalyFilter) ([]domain.Anomaly, error) {
	q := newQuery(`SELECT `+anomalySelectCols+` FROM anomalies`, "", nil)
	if f.Ticker != "" {
		q.where("ticker = ?", f.Ticker)
	}
	if f.Severity != "" {
		q.where("severity = ?", string(f.Severity))
	}
	if f.Since != nil {
		q.where("detected_at >= ?", *f.Since)
	}
	if f.Resolved != nil {
		q.where("resolved = ?", *f.Resolved)
	}
	query, args := q.build("ORDER BY detected_at DESC, id DESC", f.Limit, f.Offset)

	out, err := s.list(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list anomalies: %w", err)
	}
	return out, nil
}

// ListResolvedBefore returns resolved anomalies detected before the cutoff.
func (s *AnomalyStore) ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.Anomaly, error) {
	out, err := s.list(ctx, `SELECT `+anomalySelectCols+` FROM anomalies
		WHERE resolved AND detected_at < $1 ORDER BY detected_at, id`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolved anomalies: %w", err)
	}
	return out, nil
}

// CountBySeverity returns the number of anomalies per severity.
func (s *AnomalyStore) CountBySeverity(ctx context.Context) (map[domain.Severity]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT severity, COUNT(*) FROM anomalies GROUP BY severity`)
	if err != nil {
		return nil, fmt.Errorf("postgres: count anomalies: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.Severity]int64)
	for rows.Next() {
		var (
			sev string
			n   int64
		)
		if err := rows.Scan(&sev, &n); err != nil {
			return nil, fmt.Errorf("postgres: scan anomaly count: %w", err)
		}
		out[domain.Severity(sev)] = n
	}
	return out, rows.Err()
}

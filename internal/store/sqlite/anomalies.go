package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// AnomalyStore implements domain.AnomalyStore. Details are a JSON document.
type AnomalyStore struct {
	db *sql.DB
}

const anomalyCols = `id, ticker, type, score, severity, details, detected_at, resolved, resolved_at`

func marshalDetails(d map[string]any) (string, error) {
	if d == nil {
		return "{}", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *AnomalyStore) Insert(ctx context.Context, a domain.Anomaly) (int64, error) {
	details, err := marshalDetails(a.Details)
	if err != nil {
		return 0, fmt.Errorf("sqlite: marshal anomaly details: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO anomalies (ticker, type, score, severity, details, detected_at, resolved, resolved_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		a.Ticker, a.Type, a.Score, string(a.Severity), details, ms(a.DetectedAt),
		boolInt(a.Resolved), nullMs(a.ResolvedAt))
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert anomaly %s/%s: %w", a.Ticker, a.Type, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite: anomaly id: %w", err)
	}
	return id, nil
}

func scanAnomaly(scan func(...any) error) (domain.Anomaly, error) {
	var (
		a          domain.Anomaly
		severity   string
		details    string
		detectedAt int64
		resolved   int
		resolvedAt sql.NullInt64
	)
	if err := scan(&a.ID, &a.Ticker, &a.Type, &a.Score, &severity, &details, &detectedAt, &resolved, &resolvedAt); err != nil {
		return domain.Anomaly{}, err
	}
	a.Severity = domain.Severity(severity)
	a.DetectedAt = fromMs(detectedAt)
	a.Resolved = resolved != 0
	a.ResolvedAt = fromNullMs(resolvedAt)
	if details != "" {
		if err := json.Unmarshal([]byte(details), &a.Details); err != nil {
			return domain.Anomaly{}, fmt.Errorf("unmarshal details: %w", err)
		}
	}
	return a, nil
}

func (s *AnomalyStore) query(ctx context.Context, query string, args ...any) ([]domain.Anomaly, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Anomaly
	for rows.Next() {
		a, err := scanAnomaly(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *AnomalyStore) FindOpen(ctx context.Context, ticker, anomalyType string, since time.Time) (domain.Anomaly, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+anomalyCols+` FROM anomalies
		WHERE ticker = ? AND type = ? AND resolved = 0 AND detected_at >= ?
		ORDER BY detected_at DESC, id DESC LIMIT 1`,
		ticker, anomalyType, ms(since))
	a, err := scanAnomaly(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Anomaly{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Anomaly{}, fmt.Errorf("sqlite: find open anomaly %s/%s: %w", ticker, anomalyType, err)
	}
	return a, nil
}

func (s *AnomalyStore) UpdateScore(ctx context.Context, id int64, score float64, severity domain.Severity, details map[string]any) error {
	d, err := marshalDetails(details)
	if err != nil {
		return fmt.Errorf("sqlite: marshal anomaly details: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE anomalies SET score = ?, severity = ?, details = ? WHERE id = ?`,
		score, string(severity), d, id)
	if err != nil {
		return fmt.Errorf("sqlite: update anomaly %d: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *AnomalyStore) Resolve(ctx context.Context, id int64, resolvedAt time.Time, details map[string]any) error {
	d, err := marshalDetails(details)
	if err != nil {
		return fmt.Errorf("sqlite: marshal anomaly details: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE anomalies SET resolved = 1, resolved_at = ?, details = ? WHERE id = ?`,
		ms(resolvedAt), d, id)
	if err != nil {
		return fmt.Errorf("sqlite: resolve anomaly %d: %w", id, err)
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite: anomaly %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *AnomalyStore) Get(ctx context.Context, id int64) (domain.Anomaly, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+anomalyCols+` FROM anomalies WHERE id = ?`, id)
	a, err := scanAnomaly(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Anomaly{}, fmt.Errorf("sqlite: anomaly %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Anomaly{}, fmt.Errorf("sqlite: get anomaly %d: %w", id, err)
	}
	return a, nil
}

// List returns anomalies matching f, newest first.
func (s *AnomalyStore) List(ctx context.Context, f domain.AnomalyFilter) ([]domain.Anomaly, error) {
	w := &where{}
	if f.Ticker != "" {
		w.add("ticker = ?", f.Ticker)
	}
	if f.Severity != "" {
		w.add("severity = ?", string(f.Severity))
	}
	if f.Since != nil {
		w.add("detected_at >= ?", ms(*f.Since))
	}
	if f.Resolved != nil {
		w.add("resolved = ?", boolInt(*f.Resolved))
	}
	query, args := page(`SELECT `+anomalyCols+` FROM anomalies`+w.String()+` ORDER BY detected_at DESC, id DESC`,
		w.args, f.Limit, f.Offset)

	out, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list anomalies: %w", err)
	}
	return out, nil
}

func (s *AnomalyStore) ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.Anomaly, error) {
	out, err := s.query(ctx, `SELECT `+anomalyCols+` FROM anomalies
		WHERE resolved = 1 AND detected_at < ? ORDER BY detected_at, id`, ms(before))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list resolved anomalies: %w", err)
	}
	return out, nil
}

func (s *AnomalyStore) CountBySeverity(ctx context.Context) (map[domain.Severity]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT severity, COUNT(*) FROM anomalies GROUP BY severity`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: count anomalies: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.Severity]int64)
	for rows.Next() {
		var (
			sev string
			n   int64
		)
		if err := rows.Scan(&sev, &n); err != nil {
			return nil, fmt.Errorf("sqlite: scan anomaly count: %w", err)
		}
		out[domain.Severity(sev)] = n
	}
	return out, rows.Err()
}

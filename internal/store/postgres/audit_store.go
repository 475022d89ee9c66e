package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// AuditStore implements domain.AuditStore. Details are JSONB; the archive
// job reads its own rows back to skip unchanged uploads.
type AuditStore struct {
	pool *pgxpool.Pool
}

func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	d, err := marshalDetails(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `INSERT INTO audit_log (event, detail) VALUES ($1, $2)`, event, d); err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

func (s *AuditStore) List(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	q := newQuery(`SELECT id, event, detail, created_at FROM audit_log`, "", nil)
	if f.EventPrefix != "" {
		q.where("starts_with(event, ?)", f.EventPrefix)
	}
	if f.Since != nil {
		q.where("created_at >= ?", *f.Since)
	}
	if f.Until != nil {
		q.where("created_at <= ?", *f.Until)
	}
	sql, args := q.build("ORDER BY created_at DESC, id DESC", f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e      domain.AuditEntry
			detail []byte
		)
		if err := rows.Scan(&e.ID, &e.Event, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal audit detail: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ domain.AuditStore = (*AuditStore)(nil)

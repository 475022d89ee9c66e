package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// AuditStore implements domain.AuditStore as an append-only table.
type AuditStore struct {
	db  *sql.DB
	now func() time.Time
}

func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	d, err := marshalDetails(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (event, detail, created_at) VALUES (?,?,?)`,
		event, d, ms(s.now())); err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", event, err)
	}
	return nil
}

func (s *AuditStore) List(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	w := &where{}
	if f.EventPrefix != "" {
		w.add("substr(event, 1, ?) = ?", len(f.EventPrefix), f.EventPrefix)
	}
	if f.Since != nil {
		w.add("created_at >= ?", ms(*f.Since))
	}
	if f.Until != nil {
		w.add("created_at <= ?", ms(*f.Until))
	}
	query, args := page(`SELECT id, event, detail, created_at FROM audit_log`+w.String()+` ORDER BY created_at DESC, id DESC`,
		w.args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e      domain.AuditEntry
			detail string
			at     int64
		)
		if err := rows.Scan(&e.ID, &e.Event, &detail, &at); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal audit detail: %w", err)
		}
		e.CreatedAt = fromMs(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

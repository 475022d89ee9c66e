package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// ArchiveImpl implements domain.Archiver. Each run writes every row older
// than the cutoff to archive/<kind>/YYYY-MM.jsonl, keyed by the cutoff's
// month, and records the upload in the audit log. A run whose object path
// and row count match the latest audit row for that kind uploads nothing.
// Rows stay in the primary store.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	trades    domain.TradeStore
	anomalies domain.AnomalyStore
	audit     domain.AuditStore
}

// NewArchiver creates an ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, trades domain.TradeStore, anomalies domain.AnomalyStore, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{writer: writer, trades: trades, anomalies: anomalies, audit: audit}
}

// ArchiveTrades uploads trades strictly before the cutoff.
func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	return upload(ctx, a, domain.AuditArchiveTrades, "trades", before, trades)
}

// ArchiveAnomalies uploads resolved anomalies detected before the cutoff.
func (a *ArchiveImpl) ArchiveAnomalies(ctx context.Context, before time.Time) (int64, error) {
	anomalies, err := a.anomalies.ListResolvedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive anomalies query: %w", err)
	}
	return upload(ctx, a, domain.AuditArchiveAnomalies, "anomalies", before, anomalies)
}

func upload[T any](ctx context.Context, a *ArchiveImpl, event, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	path := archivePath(kind, before)
	count := int64(len(records))

	unchanged, err := a.alreadyUploaded(ctx, event, path, count)
	if err != nil {
		return 0, err
	}
	if unchanged {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	if err := a.audit.Log(ctx, event, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

// alreadyUploaded reports whether the latest audit row for event recorded
// the same object with the same number of rows.
func (a *ArchiveImpl) alreadyUploaded(ctx context.Context, event, path string, count int64) (bool, error) {
	last, err := a.audit.List(ctx, domain.AuditFilter{EventPrefix: event, ListOpts: domain.ListOpts{Limit: 1}})
	if err != nil {
		return false, fmt.Errorf("s3blob: archive audit lookup: %w", err)
	}
	if len(last) == 0 || last[0].Event != event {
		return false, nil
	}
	p, _ := last[0].Detail["path"].(string)
	n, _ := last[0].Detail["count"].(float64)
	return p == path && int64(n) == count, nil
}

// archivePath builds the object key, e.g. archive/trades/2025-01.jsonl.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

// marshalJSONL encodes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

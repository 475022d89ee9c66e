package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists market metadata.
type MarketStore interface {
	UpsertBatch(ctx context.Context, markets []Market) error
	Get(ctx context.Context, ticker string) (Market, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Market, error)
	// CloseExpired marks active markets whose close time is at or before
	// now as closed and reports how many changed.
	CloseExpired(ctx context.Context, now time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// TradeStore persists trade prints. Inserts are idempotent on TradeID.
type TradeStore interface {
	// InsertBatch stores trades, ignoring any whose TradeID already exists,
	// and reports how many rows were new.
	InsertBatch(ctx context.Context, trades []Trade) (int64, error)
	// ListByTicker returns trades newest first.
	ListByTicker(ctx context.Context, ticker string, opts ListOpts) ([]Trade, error)
	// ListSince returns trades across all markets at or after since.
	ListSince(ctx context.Context, since time.Time) ([]Trade, error)
	// ListBefore returns trades strictly before the cutoff, oldest first.
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
	// VolumeSince sums contract volume for a ticker at or after since.
	VolumeSince(ctx context.Context, ticker string, since time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// BaselineStore persists one Baseline per ticker.
type BaselineStore interface {
	Upsert(ctx context.Context, b Baseline) error
	Get(ctx context.Context, ticker string) (Baseline, error)
}

// AnomalyStore persists anomalies. Rows are never deleted.
type AnomalyStore interface {
	Insert(ctx context.Context, a Anomaly) (int64, error)
	// FindOpen returns the most recent unresolved anomaly for ticker and
	// type detected at or after since, or ErrNotFound.
	FindOpen(ctx context.Context, ticker, anomalyType string, since time.Time) (Anomaly, error)
	UpdateScore(ctx context.Context, id int64, score float64, severity Severity, details map[string]any) error
	Resolve(ctx context.Context, id int64, resolvedAt time.Time, details map[string]any) error
	Get(ctx context.Context, id int64) (Anomaly, error)
	List(ctx context.Context, f AnomalyFilter) ([]Anomaly, error)
	// ListResolvedBefore returns resolved anomalies detected before the cutoff.
	ListResolvedBefore(ctx context.Context, before time.Time) ([]Anomaly, error)
	CountBySeverity(ctx context.Context) (map[Severity]int64, error)
}

// TraderProfileStore persists trader rollups.
type TraderProfileStore interface {
	UpsertBatch(ctx context.Context, profiles []TraderProfile) error
	Get(ctx context.Context, traderID string) (TraderProfile, error)
	ListWhales(ctx context.Context, opts ListOpts) ([]TraderProfile, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// Audit events. The archive job writes one row per uploaded object with the
// object path and row count in the detail.
const (
	AuditArchiveTrades    = "archive.trades"
	AuditArchiveAnomalies = "archive.anomalies"
)

// AuditFilter narrows an audit query. EventPrefix matches the start of the
// event name, so "archive." selects every archive upload.
type AuditFilter struct {
	EventPrefix string
	ListOpts
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	// List returns matching entries newest first.
	List(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// Store bundles every persistence interface a backend provides.
type Store interface {
	Markets() MarketStore
	Trades() TradeStore
	Baselines() BaselineStore
	Anomalies() AnomalyStore
	Traders() TraderProfileStore
	Audit() AuditStore
	Close() error
}

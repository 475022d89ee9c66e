package detector

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// LogResult reports what AnomalyLogger.Log did.
type LogResult struct {
	Anomaly domain.Anomaly
	// Created is true when a new row was inserted, false when an open row
	// was merged.
	Created bool
	// Escalated is true when a merge raised the severity band.
	Escalated bool
}

// AnomalyLogger persists anomalies, merging repeat detections into the open
// row for the same ticker and type within the dedup window.
type AnomalyLogger struct {
	store    domain.AnomalyStore
	severity SeverityTable
	window   time.Duration

	Now func() time.Time
}

// NewAnomalyLogger creates an AnomalyLogger.
func NewAnomalyLogger(store domain.AnomalyStore, severity SeverityTable, window time.Duration) *AnomalyLogger {
	if window <= 0 {
		window = time.Hour
	}
	return &AnomalyLogger{store: store, severity: severity, window: window, Now: time.Now}
}

// Log records a detection. An unresolved anomaly for (ticker, type) found
// within the window keeps the larger score and takes the new details;
// otherwise a new row is inserted. Severity always follows the stored score.
func (l *AnomalyLogger) Log(ctx context.Context, ticker, anomalyType string, score float64, details map[string]any) (LogResult, error) {
	now := l.Now().UTC()

	existing, err := l.store.FindOpen(ctx, ticker, anomalyType, now.Add(-l.window))
	switch {
	case err == nil:
		merged := max(existing.Score, score)
		sev := l.severity.Classify(merged)
		if err := l.store.UpdateScore(ctx, existing.ID, merged, sev, details); err != nil {
			return LogResult{}, fmt.Errorf("detector: merge anomaly %d: %w", existing.ID, err)
		}
		escalated := sev.Rank() > existing.Severity.Rank()
		existing.Score, existing.Severity, existing.Details = merged, sev, details
		return LogResult{Anomaly: existing, Escalated: escalated}, nil

	case errors.Is(err, domain.ErrNotFound):
		a := domain.Anomaly{
			Ticker:     ticker,
			Type:       anomalyType,
			Score:      score,
			Severity:   l.severity.Classify(score),
			Details:    details,
			DetectedAt: now,
		}
		id, err := l.store.Insert(ctx, a)
		if err != nil {
			return LogResult{}, fmt.Errorf("detector: insert anomaly %s/%s: %w", ticker, anomalyType, err)
		}
		a.ID = id
		return LogResult{Anomaly: a, Created: true}, nil

	default:
		return LogResult{}, fmt.Errorf("detector: find open anomaly %s/%s: %w", ticker, anomalyType, err)
	}
}

// Resolve marks an anomaly resolved. A non-empty note is stored in the
// details under "resolution_note".
func (l *AnomalyLogger) Resolve(ctx context.Context, id int64, note string) (domain.Anomaly, error) {
	a, err := l.store.Get(ctx, id)
	if err != nil {
		return domain.Anomaly{}, err
	}

	details := maps.Clone(a.Details)
	if details == nil {
		details = map[string]any{}
	}
	if note != "" {
		details["resolution_note"] = note
	}
	now := l.Now().UTC()
	if err := l.store.Resolve(ctx, id, now, details); err != nil {
		return domain.Anomaly{}, fmt.Errorf("detector: resolve anomaly %d: %w", id, err)
	}

	a.Resolved, a.ResolvedAt, a.Details = true, &now, details
	return a, nil
}

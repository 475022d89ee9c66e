// Package pipeline holds the periodic jobs (ingestion, detection, trader
// profile refresh, archival) and the scheduler that runs them.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/insiderwatch/internal/detector"
	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// Job names.
const (
	JobIngest   = "ingest"
	JobDetect   = "detect"
	JobProfiles = "profiles"
	JobArchive  = "archive"
)

// Jobs exposes each job as a plain callable. Archiver may be nil when
// archival is disabled.
type Jobs struct {
	ingester      *Ingester
	detector      *detector.Detector
	markets       domain.MarketStore
	profiles      *detector.ProfileAggregator
	archiver      domain.Archiver
	retentionDays int
	logger        *slog.Logger

	Now func() time.Time
}

// JobsDeps bundles the collaborators of Jobs.
type JobsDeps struct {
	Ingester      *Ingester
	Detector      *detector.Detector
	Markets       domain.MarketStore
	Profiles      *detector.ProfileAggregator
	Archiver      domain.Archiver
	RetentionDays int
	Logger        *slog.Logger
}

// NewJobs creates Jobs.
func NewJobs(d JobsDeps) *Jobs {
	return &Jobs{
		ingester:      d.Ingester,
		detector:      d.Detector,
		markets:       d.Markets,
		profiles:      d.Profiles,
		archiver:      d.Archiver,
		retentionDays: d.RetentionDays,
		logger:        d.Logger.With(slog.String("component", "jobs")),
		Now:           time.Now,
	}
}

// RunIngestion fetches markets and their recent trades.
func (j *Jobs) RunIngestion(ctx context.Context) error {
	_, err := j.ingester.Run(ctx)
	return err
}

// RunDetection evaluates every active market.
func (j *Jobs) RunDetection(ctx context.Context) error {
	markets, err := j.markets.ListActive(ctx, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("pipeline: list active markets: %w", err)
	}
	sum, err := j.detector.Run(ctx, markets)
	if err != nil {
		return fmt.Errorf("pipeline: detection: %w", err)
	}
	j.logger.InfoContext(ctx, "detection complete",
		slog.Int("markets", sum.Markets),
		slog.Int("evaluated", sum.Evaluated),
		slog.Int("skipped", sum.Skipped),
		slog.Int("failed", sum.Failed),
		slog.Int("anomalies", sum.Anomalies),
	)
	return nil
}

// RunTraderProfileRefresh recomputes trader profiles.
func (j *Jobs) RunTraderProfileRefresh(ctx context.Context) error {
	profiles, err := j.profiles.Refresh(ctx)
	if err != nil {
		return err
	}
	whales := 0
	for _, p := range profiles {
		if p.IsWhale {
			whales++
		}
	}
	j.logger.InfoContext(ctx, "trader profiles refreshed",
		slog.Int("profiles", len(profiles)),
		slog.Int("whales", whales),
	)
	return nil
}

// RunArchive copies trades older than the retention window and resolved
// anomalies to cold storage.
func (j *Jobs) RunArchive(ctx context.Context) error {
	if j.archiver == nil {
		j.logger.InfoContext(ctx, "archive disabled, skipping")
		return nil
	}
	cutoff := j.Now().UTC().Add(-time.Duration(j.retentionDays) * 24 * time.Hour)
	j.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", j.retentionDays),
	)

	trades, err := j.archiver.ArchiveTrades(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive trades before %v: %w", cutoff, err)
	}
	anomalies, err := j.archiver.ArchiveAnomalies(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive anomalies before %v: %w", cutoff, err)
	}

	j.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("trades_archived", trades),
		slog.Int64("anomalies_archived", anomalies),
	)
	return nil
}

// Func returns the entry point for a job name.
func (j *Jobs) Func(name string) (func(context.Context) error, bool) {
	switch name {
	case JobIngest:
		return j.RunIngestion, true
	case JobDetect:
		return j.RunDetection, true
	case JobProfiles:
		return j.RunTraderProfileRefresh, true
	case JobArchive:
		return j.RunArchive, true
	default:
		return nil, false
	}
}

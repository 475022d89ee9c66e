package ratelimit

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// Fallback consults a shared gate first. When the shared gate errors for any
// reason other than the caller's context ending, the failure is logged and
// the local gate decides instead, so a Redis outage degrades to per-process
// limiting rather than stopping ingestion.
type Fallback struct {
	primary  domain.RateGate
	fallback domain.RateGate
	logger   *slog.Logger
}

// NewFallback composes primary with a local fallback.
func NewFallback(primary, fallback domain.RateGate, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{primary: primary, fallback: fallback, logger: logger}
}

func (f *Fallback) Wait(ctx context.Context) error {
	err := f.primary.Wait(ctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	f.logger.WarnContext(ctx, "shared rate gate unavailable, using local gate",
		slog.String("error", err.Error()),
	)
	return f.fallback.Wait(ctx)
}

var _ domain.RateGate = (*Fallback)(nil)

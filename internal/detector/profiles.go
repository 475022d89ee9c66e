package detector

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// AggregateProfiles groups trades by trader id into profiles. Trades with no
// trader id are skipped. A trader is a whale when total USD volume is at
// least whaleThresholdUSD. The result is sorted by trader id.
func AggregateProfiles(trades []domain.Trade, whaleThresholdUSD float64, now time.Time) []domain.TraderProfile {
	byTrader := make(map[string]*domain.TraderProfile)
	for _, t := range trades {
		if t.TraderID == "" {
			continue
		}
		p, ok := byTrader[t.TraderID]
		if !ok {
			p = &domain.TraderProfile{TraderID: t.TraderID, FirstSeen: t.Timestamp}
			byTrader[t.TraderID] = p
		}
		p.TradeCount++
		p.TotalVolume += t.USDValue()
		if t.Timestamp.Before(p.FirstSeen) {
			p.FirstSeen = t.Timestamp
		}
	}

	out := make([]domain.TraderProfile, 0, len(byTrader))
	for _, p := range byTrader {
		p.AvgTradeSize = p.TotalVolume / float64(p.TradeCount)
		p.IsWhale = p.TotalVolume >= whaleThresholdUSD
		p.UpdatedAt = now
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b domain.TraderProfile) int { return strings.Compare(a.TraderID, b.TraderID) })
	return out
}

// ProfileAggregator recomputes trader profiles over a trailing window.
type ProfileAggregator struct {
	trades            domain.TradeStore
	profiles          domain.TraderProfileStore
	lookback          time.Duration
	whaleThresholdUSD float64

	Now func() time.Time
}

// NewProfileAggregator creates a ProfileAggregator.
func NewProfileAggregator(trades domain.TradeStore, profiles domain.TraderProfileStore, lookbackDays int, whaleThresholdUSD float64) *ProfileAggregator {
	return &ProfileAggregator{
		trades:            trades,
		profiles:          profiles,
		lookback:          time.Duration(lookbackDays) * 24 * time.Hour,
		whaleThresholdUSD: whaleThresholdUSD,
		Now:               time.Now,
	}
}

// Refresh recomputes and stores every profile seen in the window, returning
// the profiles written.
func (a *ProfileAggregator) Refresh(ctx context.Context) ([]domain.TraderProfile, error) {
	now := a.Now().UTC()
	trades, err := a.trades.ListSince(ctx, now.Add(-a.lookback))
	if err != nil {
		return nil, fmt.Errorf("detector: profile trades: %w", err)
	}

	profiles := AggregateProfiles(trades, a.whaleThresholdUSD, now)
	if err := a.profiles.UpsertBatch(ctx, profiles); err != nil {
		return nil, fmt.Errorf("detector: save profiles: %w", err)
	}
	return profiles, nil
}

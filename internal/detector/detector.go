package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// Alerter delivers notable anomalies to humans.
type Alerter interface {
	Alert(ctx context.Context, a domain.Anomaly) error
}

// AnomalyEvent is published on domain.ChannelAnomalies.
type AnomalyEvent struct {
	Event   string         `json:"event"` // "anomaly.created" | "anomaly.updated"
	Anomaly domain.Anomaly `json:"anomaly"`
}

// Evaluation is the signal readout for one market.
type Evaluation struct {
	Ticker        string
	Baseline      domain.Baseline
	CurrentVolume int64
	Signals       Signals
	Whales        []WhaleTrade
	Score         float64
	Anomalies     []LogResult
}

// Detector evaluates markets one at a time. Bus and Alerter are optional.
type Detector struct {
	trades    domain.TradeStore
	engine    *BaselineEngine
	anomalies *AnomalyLogger
	cfg       Config
	bus       domain.SignalBus
	alerter   Alerter
	logger    *slog.Logger

	Now func() time.Time
}

// Deps bundles what a Detector needs.
type Deps struct {
	Store   domain.Store
	Cache   domain.BaselineCache
	Bus     domain.SignalBus
	Alerter Alerter
	Logger  *slog.Logger
}

// New creates a Detector over the given stores.
func New(cfg Config, deps Deps) *Detector {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "detector"))
	return &Detector{
		trades:    deps.Store.Trades(),
		engine:    NewBaselineEngine(deps.Store.Trades(), deps.Store.Baselines(), deps.Cache, cfg, logger),
		anomalies: NewAnomalyLogger(deps.Store.Anomalies(), cfg.Severity, cfg.DedupWindow),
		cfg:       cfg,
		bus:       deps.Bus,
		alerter:   deps.Alerter,
		logger:    logger,
		Now:       time.Now,
	}
}

// Anomalies exposes the anomaly logger, e.g. for resolve requests.
func (d *Detector) Anomalies() *AnomalyLogger { return d.anomalies }

// SetClock overrides the clock of the detector and its parts.
func (d *Detector) SetClock(now func() time.Time) {
	d.Now = now
	d.engine.Now = now
	d.anomalies.Now = now
}

// Evaluate recomputes the market's baseline, reads every signal and logs
// the anomalies that fire. It returns (nil, nil) when the market has too
// little history or no trades in the current window.
func (d *Detector) Evaluate(ctx context.Context, m domain.Market) (*Evaluation, error) {
	baseline, ok, err := d.engine.Calculate(ctx, m.Ticker)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	now := d.Now().UTC()
	windowStart := now.Add(-d.cfg.CurrentWindow)
	volume, err := d.trades.VolumeSince(ctx, m.Ticker, windowStart)
	if err != nil {
		return nil, fmt.Errorf("detector: current volume %s: %w", m.Ticker, err)
	}
	if volume == 0 {
		return nil, nil
	}

	recent, err := d.trades.ListByTicker(ctx, m.Ticker, domain.ListOpts{Limit: d.cfg.VPINWindowTrades})
	if err != nil {
		return nil, fmt.Errorf("detector: vpin trades %s: %w", m.Ticker, err)
	}
	whaleSince := now.Add(-d.cfg.WhaleLookback)
	whaleWindow, err := d.trades.ListByTicker(ctx, m.Ticker, domain.ListOpts{Since: &whaleSince})
	if err != nil {
		return nil, fmt.Errorf("detector: whale trades %s: %w", m.Ticker, err)
	}
	corrSince := now.Add(-d.cfg.CorrelationLookback)
	corrWindow, err := d.trades.ListByTicker(ctx, m.Ticker, domain.ListOpts{Since: &corrSince})
	if err != nil {
		return nil, fmt.Errorf("detector: correlation trades %s: %w", m.Ticker, err)
	}

	corr, _ := PriceVolumeCorrelation(corrWindow, d.cfg.CorrelationMinTrades)
	whales := WhaleTrades(whaleWindow, d.cfg.WhaleThresholdUSD)
	sig := Signals{
		ZScore:      ZScore(float64(volume), baseline),
		VPIN:        VPIN(recent, d.cfg.VPINMinTrades),
		DaysToClose: m.DaysToClose(now),
		Correlation: corr,
		WhaleCount:  len(whales),
	}
	ev := &Evaluation{
		Ticker:        m.Ticker,
		Baseline:      baseline,
		CurrentVolume: volume,
		Signals:       sig,
		Whales:        whales,
		Score:         Score(sig),
	}

	details := map[string]any{
		"z_score":         sig.ZScore,
		"volume":          volume,
		"baseline_avg":    baseline.AvgVolume,
		"baseline_std":    baseline.StdVolume,
		"vpin":            sig.VPIN,
		"whale_count":     sig.WhaleCount,
		"correlation":     sig.Correlation,
		"days_to_close":   sig.DaysToClose,
		"urgency":         Urgency(sig.DaysToClose),
		"window_start":    windowStart.Format(time.RFC3339),
		"whale_threshold": d.cfg.WhaleThresholdUSD,
	}
	if len(whales) > 0 {
		details["whales"] = whales
	}
	// Round-trip so the stored details and the in-memory copy agree on
	// JSON number types.
	details, err = normalizeDetails(details)
	if err != nil {
		return nil, fmt.Errorf("detector: details %s: %w", m.Ticker, err)
	}

	var fired []string
	if sig.ZScore >= d.cfg.VolumeZScoreThreshold {
		fired = append(fired, domain.AnomalyVolume)
	}
	if sig.WhaleCount > 0 {
		fired = append(fired, domain.AnomalyWhale)
	}
	if math.Abs(sig.Correlation) >= d.cfg.CorrelationThreshold {
		fired = append(fired, domain.AnomalyCorrelation)
	}

	for _, typ := range fired {
		res, err := d.anomalies.Log(ctx, m.Ticker, typ, ev.Score, details)
		if err != nil {
			return ev, err
		}
		ev.Anomalies = append(ev.Anomalies, res)
		d.announce(ctx, res)
	}
	return ev, nil
}

func (d *Detector) announce(ctx context.Context, res LogResult) {
	a := res.Anomaly
	d.logger.InfoContext(ctx, "anomaly logged",
		slog.String("ticker", a.Ticker),
		slog.String("type", a.Type),
		slog.Float64("score", a.Score),
		slog.String("severity", string(a.Severity)),
		slog.Bool("created", res.Created),
	)

	if d.bus != nil {
		event := "anomaly.updated"
		if res.Created {
			event = "anomaly.created"
		}
		payload, err := json.Marshal(AnomalyEvent{Event: event, Anomaly: a})
		if err == nil {
			err = d.bus.Publish(ctx, domain.ChannelAnomalies, payload)
		}
		if err != nil {
			d.logger.WarnContext(ctx, "publish anomaly failed",
				slog.Int64("id", a.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if d.alerter != nil && (res.Created || res.Escalated) {
		if err := d.alerter.Alert(ctx, a); err != nil {
			d.logger.WarnContext(ctx, "anomaly alert failed",
				slog.Int64("id", a.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// RunSummary counts the outcome of a detection pass.
type RunSummary struct {
	Markets   int `json:"markets"`
	Evaluated int `json:"evaluated"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Anomalies int `json:"anomalies"`
}

// Run evaluates markets sequentially. A failing market is logged and
// counted; the pass continues.
func (d *Detector) Run(ctx context.Context, markets []domain.Market) (RunSummary, error) {
	sum := RunSummary{Markets: len(markets)}
	for _, m := range markets {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		ev, err := d.Evaluate(ctx, m)
		if err != nil {
			sum.Failed++
			d.logger.ErrorContext(ctx, "evaluate market failed",
				slog.String("ticker", m.Ticker),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ev == nil {
			sum.Skipped++
			continue
		}
		sum.Evaluated++
		sum.Anomalies += len(ev.Anomalies)
	}
	return sum, nil
}

func normalizeDetails(in map[string]any) (map[string]any, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

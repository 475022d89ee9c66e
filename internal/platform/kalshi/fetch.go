package kalshi

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
)

// Page size ceilings enforced by the API.
const (
	maxEventsPageLimit  = 200
	maxMarketsPageLimit = 1000
	maxTradesPageLimit  = 1000
)

// MarketsQuery filters GET /markets.
type MarketsQuery struct {
	Status      string
	EventTicker string
	Limit       int
	Cursor      string
}

// TradesQuery filters GET /markets/trades. Zero times are omitted.
type TradesQuery struct {
	Ticker string
	MinTS  time.Time
	MaxTS  time.Time
	Limit  int
	Cursor string
}

// collectPages follows continuation cursors until a page is empty, the
// cursor is absent, or maxItems (when > 0) is reached.
func collectPages[T any](ctx context.Context, maxItems int, fetch func(ctx context.Context, cursor string) ([]T, string, error)) ([]T, error) {
	var (
		all    []T
		cursor string
	)
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		items, next, err := fetch(ctx, cursor)
		if err != nil {
			return all, fmt.Errorf("page %d: %w", page, err)
		}
		if len(items) == 0 {
			break
		}
		all = append(all, items...)
		if maxItems > 0 && len(all) >= maxItems {
			return all[:maxItems], nil
		}
		if next == "" || next == cursor {
			break
		}
		cursor = next
	}
	return all, nil
}

func clampLimit(limit, ceiling int) int {
	if limit <= 0 || limit > ceiling {
		return ceiling
	}
	return limit
}

// GetEvents returns one page of events and the next cursor.
func (c *Client) GetEvents(ctx context.Context, status string, limit int, cursor string) ([]Event, string, error) {
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}
	params.Set("limit", strconv.Itoa(clampLimit(limit, maxEventsPageLimit)))
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	var resp eventsPage
	if _, err := c.get(ctx, "/events", params, &resp); err != nil {
		return nil, "", fmt.Errorf("kalshi: get events: %w", err)
	}
	return resp.Events, resp.Cursor, nil
}

// GetAllEvents pages through every event with the given status.
func (c *Client) GetAllEvents(ctx context.Context, status string, pageLimit, maxEvents int) ([]Event, error) {
	events, err := collectPages(ctx, maxEvents, func(ctx context.Context, cursor string) ([]Event, string, error) {
		return c.GetEvents(ctx, status, pageLimit, cursor)
	})
	if err != nil {
		return events, fmt.Errorf("kalshi: get all events: %w", err)
	}
	c.logger.InfoContext(ctx, "fetched events", slog.Int("count", len(events)))
	return events, nil
}

// GetMarkets returns one page of markets and the next cursor.
func (c *Client) GetMarkets(ctx context.Context, q MarketsQuery) ([]Market, string, error) {
	params := url.Values{}
	if q.Status != "" {
		params.Set("status", q.Status)
	}
	params.Set("limit", strconv.Itoa(clampLimit(q.Limit, maxMarketsPageLimit)))
	if q.Cursor != "" {
		params.Set("cursor", q.Cursor)
	}
	if q.EventTicker != "" {
		params.Set("event_ticker", q.EventTicker)
	}

	var resp marketsPage
	if _, err := c.get(ctx, "/markets", params, &resp); err != nil {
		return nil, "", fmt.Errorf("kalshi: get markets: %w", err)
	}
	return resp.Markets, resp.Cursor, nil
}

// GetAllMarkets pages through every market with the given status.
func (c *Client) GetAllMarkets(ctx context.Context, status string, pageLimit, maxMarkets int) ([]Market, error) {
	markets, err := collectPages(ctx, maxMarkets, func(ctx context.Context, cursor string) ([]Market, string, error) {
		return c.GetMarkets(ctx, MarketsQuery{Status: status, Limit: pageLimit, Cursor: cursor})
	})
	if err != nil {
		return markets, fmt.Errorf("kalshi: get all markets: %w", err)
	}
	c.logger.InfoContext(ctx, "fetched markets", slog.Int("count", len(markets)))
	return markets, nil
}

// GetMarketsForEvent returns every market belonging to one event.
func (c *Client) GetMarketsForEvent(ctx context.Context, eventTicker, status string) ([]Market, error) {
	return collectPages(ctx, 0, func(ctx context.Context, cursor string) ([]Market, string, error) {
		return c.GetMarkets(ctx, MarketsQuery{Status: status, EventTicker: eventTicker, Cursor: cursor})
	})
}

// GetAllMarketsFromEvents fetches open events, keeps those in categories
// (all when empty), and fetches each event's markets with at most
// MaxConcurrent requests in flight. Markets inherit the event's category and
// title. A failing event is logged and contributes no markets.
func (c *Client) GetAllMarketsFromEvents(ctx context.Context, categories []string, maxEvents int) ([]Market, error) {
	events, err := c.GetAllEvents(ctx, "open", maxEventsPageLimit, maxEvents)
	if err != nil {
		return nil, err
	}

	if len(categories) > 0 {
		events = slices.DeleteFunc(events, func(e Event) bool {
			return !slices.Contains(categories, e.Category)
		})
		c.logger.InfoContext(ctx, "filtered events by category",
			slog.Int("count", len(events)),
			slog.Any("categories", categories),
		)
	}
	if len(events) == 0 {
		c.logger.WarnContext(ctx, "no events found matching criteria")
		return nil, nil
	}

	results := make([][]Market, len(events))
	var g errgroup.Group
	g.SetLimit(c.maxConcurrent)

	for i, ev := range events {
		g.Go(func() error {
			markets, err := c.GetMarketsForEvent(ctx, ev.EventTicker, "open")
			if err != nil {
				c.logger.ErrorContext(ctx, "fetch markets for event failed",
					slog.String("event_ticker", ev.EventTicker),
					slog.String("error", err.Error()),
				)
				return nil
			}
			for j := range markets {
				markets[j].Category = ev.Category
				markets[j].EventTitle = ev.Title
			}
			results[i] = markets
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("kalshi: markets from events: %w", err)
	}

	var all []Market
	for _, r := range results {
		all = append(all, r...)
	}
	c.logger.InfoContext(ctx, "fetched markets from events",
		slog.Int("events", len(events)),
		slog.Int("markets", len(all)),
	)
	return all, nil
}

// GetTrades returns one page of raw trades and the next cursor.
func (c *Client) GetTrades(ctx context.Context, q TradesQuery) ([]RawTrade, string, error) {
	params := url.Values{}
	if q.Ticker != "" {
		params.Set("ticker", q.Ticker)
	}
	params.Set("limit", strconv.Itoa(clampLimit(q.Limit, maxTradesPageLimit)))
	if !q.MinTS.IsZero() {
		params.Set("min_ts", strconv.FormatInt(q.MinTS.Unix(), 10))
	}
	if !q.MaxTS.IsZero() {
		params.Set("max_ts", strconv.FormatInt(q.MaxTS.Unix(), 10))
	}
	if q.Cursor != "" {
		params.Set("cursor", q.Cursor)
	}

	var resp tradesPage
	if _, err := c.get(ctx, "/markets/trades", params, &resp); err != nil {
		return nil, "", fmt.Errorf("kalshi: get trades %s: %w", q.Ticker, err)
	}
	return resp.Trades, resp.Cursor, nil
}

// GetAllTrades pages through trades matching q, up to maxTrades when > 0.
func (c *Client) GetAllTrades(ctx context.Context, q TradesQuery, maxTrades int) ([]RawTrade, error) {
	return collectPages(ctx, maxTrades, func(ctx context.Context, cursor string) ([]RawTrade, string, error) {
		page := q
		page.Cursor = cursor
		return c.GetTrades(ctx, page)
	})
}

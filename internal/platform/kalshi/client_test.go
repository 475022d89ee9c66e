package kalshi

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

type countingGate struct{ n atomic.Int64 }

func (g *countingGate) Wait(ctx context.Context) error {
	g.n.Add(1)
	return ctx.Err()
}

func newTestClient(t *testing.T, h http.Handler) (*Client, *rsa.PrivateKey, *countingGate) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	key := newTestKey(t)
	gate := &countingGate{}
	c, err := NewClient(Config{
		BaseURL:    srv.URL + "/trade-api/v2",
		KeyID:      "test-key",
		Key:        key,
		Gate:       gate,
		Retry:      instantPolicy(3),
		HTTPClient: srv.Client(),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, key, gate
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode: %v", err)
	}
}

func TestNewClient_RequiresGateAndKey(t *testing.T) {
	if _, err := NewClient(Config{Key: newTestKey(t)}); err == nil {
		t.Error("expected error without gate")
	}
	if _, err := NewClient(Config{Gate: &countingGate{}}); !errors.Is(err, domain.ErrKeyLoad) {
		t.Errorf("expected ErrKeyLoad without key, got %v", err)
	}
}

func TestClient_SignsFullPathWithoutQuery(t *testing.T) {
	var (
		mu      sync.Mutex
		headers http.Header
		path    string
	)
	c, key, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		headers, path = r.Header.Clone(), r.URL.Path
		mu.Unlock()
		writeJSON(t, w, map[string]any{"markets": []any{}, "cursor": ""})
	}))

	if _, _, err := c.GetMarkets(context.Background(), MarketsQuery{Status: "open", Limit: 5}); err != nil {
		t.Fatalf("GetMarkets: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if path != "/trade-api/v2/markets" {
		t.Fatalf("path = %q", path)
	}
	if headers.Get(HeaderAccessKey) != "test-key" {
		t.Errorf("%s = %q", HeaderAccessKey, headers.Get(HeaderAccessKey))
	}
	sig, err := base64.StdEncoding.DecodeString(headers.Get(HeaderAccessSignature))
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	digest := sha256.Sum256([]byte(headers.Get(HeaderAccessTimestamp) + "GET" + "/trade-api/v2/markets"))
	if err := rsa.VerifyPSS(&key.PublicKey, crypto.SHA256, digest[:], sig, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}); err != nil {
		t.Errorf("signature invalid: %v", err)
	}
}

func TestClient_GetAllTradesFollowsCursor(t *testing.T) {
	c, _, gate := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("cursor") {
		case "":
			writeJSON(t, w, map[string]any{
				"trades": []map[string]any{{"trade_id": "1"}, {"trade_id": "2"}},
				"cursor": "page2",
			})
		case "page2":
			writeJSON(t, w, map[string]any{
				"trades": []map[string]any{{"trade_id": "3"}},
				"cursor": "",
			})
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	}))

	trades, err := c.GetAllTrades(context.Background(), TradesQuery{Ticker: "KXFED"}, 0)
	if err != nil {
		t.Fatalf("GetAllTrades: %v", err)
	}
	if len(trades) != 3 {
		t.Fatalf("got %d trades, want 3", len(trades))
	}
	if gate.n.Load() != 2 {
		t.Errorf("gate admitted %d requests, want 2", gate.n.Load())
	}
}

func TestClient_MaxTradesTruncates(t *testing.T) {
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"trades": []map[string]any{{"trade_id": "a"}, {"trade_id": "b"}, {"trade_id": "c"}},
			"cursor": "more",
		})
	}))

	trades, err := c.GetAllTrades(context.Background(), TradesQuery{Ticker: "X"}, 2)
	if err != nil {
		t.Fatalf("GetAllTrades: %v", err)
	}
	if len(trades) != 2 {
		t.Errorf("got %d trades, want 2", len(trades))
	}
}

func TestClient_NotFoundIsEmpty(t *testing.T) {
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"not_found","message":"no market"}`, http.StatusNotFound)
	}))

	trades, err := c.GetAllTrades(context.Background(), TradesQuery{Ticker: "GONE"}, 0)
	if err != nil {
		t.Fatalf("expected no error on 404, got %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("expected empty result, got %d", len(trades))
	}
	if m := c.Metrics().Snapshot(); m.Retries != 0 || m.SuccessfulRequests != 1 {
		t.Errorf("404 should be a single success, metrics = %+v", m)
	}
}

func TestClient_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int64
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(t, w, map[string]any{"events": []map[string]any{{"event_ticker": "E1"}}})
	}))

	events, _, err := c.GetEvents(context.Background(), "open", 10, "")
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}

	m := c.Metrics().Snapshot()
	if m.TotalRequests != 3 || m.SuccessfulRequests != 1 || m.FailedRequests != 2 {
		t.Errorf("counters = %+v", m)
	}
	if m.RateLimited != 2 {
		t.Errorf("RateLimited = %d, want 2", m.RateLimited)
	}
	if m.Retries != 2 {
		t.Errorf("Retries = %d, want 2", m.Retries)
	}
}

func TestClient_FatalStatusNotRetried(t *testing.T) {
	var calls atomic.Int64
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"unauthorized","message":"bad signature"}}`))
	}))

	_, _, err := c.GetEvents(context.Background(), "", 0, "")
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "bad signature" {
		t.Errorf("APIError = %+v", apiErr)
	}
	if calls.Load() != 1 {
		t.Errorf("server called %d times, want 1", calls.Load())
	}
}

func TestClient_FanOutSkipsFailingEvent(t *testing.T) {
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/events"):
			writeJSON(t, w, map[string]any{"events": []map[string]any{
				{"event_ticker": "GOOD", "category": "Politics", "title": "Election"},
				{"event_ticker": "BAD", "category": "Politics"},
				{"event_ticker": "SKIP", "category": "Sports"},
			}})
		case r.URL.Query().Get("event_ticker") == "GOOD":
			writeJSON(t, w, map[string]any{"markets": []map[string]any{{"ticker": "GOOD-A"}, {"ticker": "GOOD-B"}}})
		case r.URL.Query().Get("event_ticker") == "BAD":
			w.WriteHeader(http.StatusBadRequest)
		default:
			t.Errorf("unexpected request %s", r.URL.String())
			w.WriteHeader(http.StatusBadRequest)
		}
	}))

	markets, err := c.GetAllMarketsFromEvents(context.Background(), []string{"Politics"}, 0)
	if err != nil {
		t.Fatalf("GetAllMarketsFromEvents: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("got %d markets, want 2", len(markets))
	}
	for _, m := range markets {
		if m.Category != "Politics" || m.EventTitle != "Election" {
			t.Errorf("market %s did not inherit event fields: %+v", m.Ticker, m)
		}
	}
}

func TestClient_GetOrderbookPairs(t *testing.T) {
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"orderbook":{"yes":[[45,100],[44,20]],"no":[{"price":55,"quantity":7}]}}`))
	}))

	ob, err := c.GetOrderbook(context.Background(), "KXFED")
	if err != nil {
		t.Fatalf("GetOrderbook: %v", err)
	}
	if ob.Ticker != "KXFED" || len(ob.Yes) != 2 || ob.Yes[0].Price != 45 || ob.No[0].Quantity != 7 {
		t.Errorf("orderbook = %+v", ob)
	}
}

func TestClient_HealthCheck(t *testing.T) {
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	if c.HealthCheck(context.Background()) {
		t.Error("HealthCheck should fail on 403")
	}
}

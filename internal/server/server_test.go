package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/insiderwatch/internal/cache/memory"
	"github.com/alanyoungcy/insiderwatch/internal/detector"
	"github.com/alanyoungcy/insiderwatch/internal/domain"
	"github.com/alanyoungcy/insiderwatch/internal/pipeline"
	"github.com/alanyoungcy/insiderwatch/internal/platform/kalshi"
	"github.com/alanyoungcy/insiderwatch/internal/server/handler"
	"github.com/alanyoungcy/insiderwatch/internal/server/ws"
	"github.com/alanyoungcy/insiderwatch/internal/store/sqlite"
	"github.com/gorilla/websocket"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeTrigger struct{ triggered []string }

func (f *fakeTrigger) Jobs() []string { return []string{pipeline.JobIngest, pipeline.JobDetect} }

func (f *fakeTrigger) Trigger(name string) error {
	if name != pipeline.JobIngest && name != pipeline.JobDetect {
		return pipeline.ErrUnknownJob
	}
	f.triggered = append(f.triggered, name)
	return nil
}

type fakeMetrics struct{}

func (fakeMetrics) Snapshot() kalshi.MetricsSnapshot {
	return kalshi.MetricsSnapshot{TotalRequests: 10, SuccessfulRequests: 9, FailedRequests: 1, SuccessRate: 0.9}
}

type fixture struct {
	store   *sqlite.Store
	trigger *fakeTrigger
	handler http.Handler
	ids     []int64
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := sqlite.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	now := time.Now().UTC().Truncate(time.Second)
	closes := now.Add(72 * time.Hour)
	if err := st.Markets().UpsertBatch(ctx, []domain.Market{
		{Ticker: "KXFED-25MAR", Title: "Fed cut in March", Category: "Economics", Status: domain.MarketStatusActive, CloseTime: &closes},
		{Ticker: "KXCPI-25FEB", Title: "CPI above 3%", Category: "Economics", Status: domain.MarketStatusActive},
	}); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
	if _, err := st.Trades().InsertBatch(ctx, []domain.Trade{
		{TradeID: "t1", Ticker: "KXFED-25MAR", Price: 40, Volume: 100, Side: domain.SideYes, Timestamp: now.Add(-time.Hour), TraderID: "whale-1"},
		{TradeID: "t2", Ticker: "KXFED-25MAR", Price: 41, Volume: 5, Side: domain.SideNo, Timestamp: now.Add(-30 * time.Minute)},
	}); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	if err := st.Traders().UpsertBatch(ctx, []domain.TraderProfile{
		{TraderID: "whale-1", FirstSeen: now.Add(-time.Hour), TradeCount: 3, TotalVolume: 2500, AvgTradeSize: 833, IsWhale: true, UpdatedAt: now},
		{TraderID: "minnow", FirstSeen: now.Add(-time.Hour), TradeCount: 1, TotalVolume: 10, AvgTradeSize: 10, UpdatedAt: now},
	}); err != nil {
		t.Fatalf("UpsertBatch traders: %v", err)
	}

	var ids []int64
	for _, a := range []domain.Anomaly{
		{Ticker: "KXFED-25MAR", Type: domain.AnomalyVolume, Score: 9, Severity: domain.SeverityCritical, Details: map[string]any{"z_score": 4.2}, DetectedAt: now.Add(-time.Hour)},
		{Ticker: "KXCPI-25FEB", Type: domain.AnomalyWhale, Score: 5.5, Severity: domain.SeverityMedium, Details: map[string]any{}, DetectedAt: now.Add(-10 * 24 * time.Hour)},
	} {
		id, err := st.Anomalies().Insert(ctx, a)
		if err != nil {
			t.Fatalf("Insert anomaly: %v", err)
		}
		ids = append(ids, id)
	}

	log := discard()
	trigger := &fakeTrigger{}
	resolver := detector.NewAnomalyLogger(st.Anomalies(), detector.DefaultSeverityTable(), time.Hour)
	handlers := Handlers{
		Health: handler.NewHealthHandler(map[string]handler.HealthCheck{
			"database": st.Ping,
			"redis":    func(context.Context) error { return errors.New("connection refused") },
		}, log),
		Markets:   handler.NewMarketHandler(st.Markets(), st.Trades(), st.Anomalies(), log),
		Anomalies: handler.NewAnomalyHandler(st.Anomalies(), resolver, log),
		Traders:   handler.NewTraderHandler(st.Traders(), log),
		Stats:     handler.NewStatsHandler(st, fakeMetrics{}, log),
		Jobs:      handler.NewJobsHandler(trigger, log),
	}
	return &fixture{store: st, trigger: trigger, handler: NewHandler(cfg, handlers, nil, log), ids: ids}
}

func (f *fixture) do(t *testing.T, method, target, body string, hdr ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, target, rec.Body.String(), err)
		}
	}
	return rec, out
}

func TestHealth_ReportsDegradedComponent(t *testing.T) {
	f := newFixture(t, Config{})
	rec, body := f.do(t, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["status"] != "degraded" {
		t.Errorf("body = %v", body)
	}
	comps, _ := body["components"].(map[string]any)
	if comps["database"] != "ok" {
		t.Errorf("database = %v", comps["database"])
	}
	if s, _ := comps["redis"].(string); !strings.Contains(s, "connection refused") {
		t.Errorf("redis = %v", comps["redis"])
	}
}

func TestMarkets(t *testing.T) {
	f := newFixture(t, Config{})

	rec, body := f.do(t, http.MethodGet, "/api/markets?limit=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if body["total"] != float64(2) || body["limit"] != float64(1) {
		t.Errorf("list body = %v", body)
	}
	if ms, _ := body["markets"].([]any); len(ms) != 1 {
		t.Errorf("markets = %v", body["markets"])
	}

	rec, body = f.do(t, http.MethodGet, "/api/markets/KXFED-25MAR", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if trades, _ := body["recent_trades"].([]any); len(trades) != 2 {
		t.Errorf("recent_trades = %v", body["recent_trades"])
	}
	if as, _ := body["anomalies"].([]any); len(as) != 1 {
		t.Errorf("anomalies = %v", body["anomalies"])
	}

	rec, _ = f.do(t, http.MethodGet, "/api/markets/NOPE", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing market status = %d", rec.Code)
	}
}

func TestAnomalies_Filters(t *testing.T) {
	f := newFixture(t, Config{})

	tests := []struct {
		query string
		code  int
		count int
	}{
		{"", http.StatusOK, 2},
		{"?severity=critical", http.StatusOK, 1},
		{"?severity=HIGH", http.StatusOK, 0},
		{"?days=7", http.StatusOK, 1},
		{"?ticker=KXCPI-25FEB", http.StatusOK, 1},
		{"?resolved=true", http.StatusOK, 0},
		{"?severity=bogus", http.StatusBadRequest, -1},
		{"?days=-1", http.StatusBadRequest, -1},
		{"?resolved=maybe", http.StatusBadRequest, -1},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec, body := f.do(t, http.MethodGet, "/api/anomalies"+tt.query, "")
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d", rec.Code, tt.code)
			}
			if tt.count < 0 {
				return
			}
			if as, _ := body["anomalies"].([]any); len(as) != tt.count {
				t.Errorf("got %d anomalies, want %d", len(as), tt.count)
			}
		})
	}
}

func TestAnomalies_GetAndResolve(t *testing.T) {
	f := newFixture(t, Config{})
	id := f.ids[0]
	path := "/api/anomalies/" + itoa(id)

	rec, body := f.do(t, http.MethodGet, path, "")
	if rec.Code != http.StatusOK || body["severity"] != "critical" {
		t.Fatalf("get = %d %v", rec.Code, body)
	}

	rec, body = f.do(t, http.MethodPost, path+"/resolve", `{"note":"confirmed news leak"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve status = %d: %v", rec.Code, body)
	}
	if body["resolved"] != true {
		t.Errorf("resolved = %v", body["resolved"])
	}
	details, _ := body["details"].(map[string]any)
	if details["resolution_note"] != "confirmed news leak" {
		t.Errorf("details = %v", details)
	}

	stored, err := f.store.Anomalies().Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !stored.Resolved || stored.ResolvedAt == nil {
		t.Errorf("stored = %+v", stored)
	}

	rec, _ = f.do(t, http.MethodPost, "/api/anomalies/"+itoa(f.ids[1])+"/resolve", "")
	if rec.Code != http.StatusOK {
		t.Errorf("resolve without body = %d", rec.Code)
	}

	for target, want := range map[string]int{
		"/api/anomalies/99999":         http.StatusNotFound,
		"/api/anomalies/abc":           http.StatusBadRequest,
		"/api/anomalies/99999/resolve": http.StatusNotFound,
	} {
		method := http.MethodGet
		if strings.HasSuffix(target, "/resolve") {
			method = http.MethodPost
		}
		if rec, _ := f.do(t, method, target, ""); rec.Code != want {
			t.Errorf("%s %s = %d, want %d", method, target, rec.Code, want)
		}
	}
}

func TestTraders(t *testing.T) {
	f := newFixture(t, Config{})

	rec, body := f.do(t, http.MethodGet, "/api/traders/whales", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	traders, _ := body["traders"].([]any)
	if len(traders) != 1 {
		t.Fatalf("traders = %v", traders)
	}
	if w, _ := traders[0].(map[string]any); w["trader_id"] != "whale-1" {
		t.Errorf("whale = %v", w)
	}

	if rec, _ := f.do(t, http.MethodGet, "/api/traders/minnow", ""); rec.Code != http.StatusOK {
		t.Errorf("get trader = %d", rec.Code)
	}
	if rec, _ := f.do(t, http.MethodGet, "/api/traders/ghost", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing trader = %d", rec.Code)
	}
}

func TestStatsAndMetrics(t *testing.T) {
	f := newFixture(t, Config{})

	rec, body := f.do(t, http.MethodGet, "/api/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	if body["markets"] != float64(2) || body["trades"] != float64(2) || body["anomalies"] != float64(2) {
		t.Errorf("stats = %v", body)
	}
	bySev, _ := body["anomalies_by_severity"].(map[string]any)
	if bySev["critical"] != float64(1) || bySev["medium"] != float64(1) || bySev["low"] != float64(0) {
		t.Errorf("by severity = %v", bySev)
	}

	rec, body = f.do(t, http.MethodGet, "/api/metrics", "")
	if rec.Code != http.StatusOK || body["total_requests"] != float64(10) || body["success_rate"] != 0.9 {
		t.Errorf("metrics = %d %v", rec.Code, body)
	}
}

func TestAudit(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	if err := f.store.Audit().Log(ctx, domain.AuditArchiveTrades, map[string]any{"path": "archive/trades/2025-02.jsonl", "count": 4}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := f.store.Audit().Log(ctx, "job.detect", nil); err != nil {
		t.Fatalf("Log: %v", err)
	}

	rec, body := f.do(t, http.MethodGet, "/api/audit?event=archive.", "")
	entries, _ := body["entries"].([]any)
	if rec.Code != http.StatusOK || len(entries) != 1 {
		t.Fatalf("audit = %d %v", rec.Code, body)
	}
	e, _ := entries[0].(map[string]any)
	if e["event"] != domain.AuditArchiveTrades {
		t.Errorf("entry = %v", e)
	}

	_, body = f.do(t, http.MethodGet, "/api/audit", "")
	if entries, _ := body["entries"].([]any); len(entries) != 2 {
		t.Errorf("unfiltered = %v", body)
	}
}

func TestJobs(t *testing.T) {
	f := newFixture(t, Config{})

	rec, body := f.do(t, http.MethodGet, "/api/jobs", "")
	if jobs, _ := body["jobs"].([]any); rec.Code != http.StatusOK || len(jobs) != 2 {
		t.Errorf("list = %d %v", rec.Code, body)
	}
	if rec, _ := f.do(t, http.MethodPost, "/api/jobs/detect/trigger", ""); rec.Code != http.StatusAccepted {
		t.Errorf("trigger = %d", rec.Code)
	}
	if rec, _ := f.do(t, http.MethodPost, "/api/jobs/nope/trigger", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown job = %d", rec.Code)
	}
	if len(f.trigger.triggered) != 1 || f.trigger.triggered[0] != pipeline.JobDetect {
		t.Errorf("triggered = %v", f.trigger.triggered)
	}

	h := handler.NewJobsHandler(nil, discard())
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/detect/trigger", nil)
	req.SetPathValue("name", "detect")
	h.TriggerJob(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("no scheduler = %d", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	f := newFixture(t, Config{APIKey: "s3cret"})

	if rec, _ := f.do(t, http.MethodGet, "/api/stats", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d", rec.Code)
	}
	if rec, _ := f.do(t, http.MethodGet, "/api/stats", "", "Authorization", "Bearer wrong"); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token = %d", rec.Code)
	}
	if rec, _ := f.do(t, http.MethodGet, "/api/stats", "", "Authorization", "Bearer s3cret"); rec.Code != http.StatusOK {
		t.Errorf("bearer = %d", rec.Code)
	}
	if rec, _ := f.do(t, http.MethodGet, "/api/stats", "", "X-API-Key", "s3cret"); rec.Code != http.StatusOK {
		t.Errorf("api key = %d", rec.Code)
	}
	if rec, _ := f.do(t, http.MethodGet, "/api/health", ""); rec.Code == http.StatusUnauthorized {
		t.Error("health must not require auth")
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Config{RateLimitRPS: 0.001, RateLimitBurst: 2})

	for i := 0; i < 2; i++ {
		if rec, _ := f.do(t, http.MethodGet, "/api/stats", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d = %d", i, rec.Code)
		}
	}
	if rec, _ := f.do(t, http.MethodGet, "/api/stats", ""); rec.Code != http.StatusTooManyRequests {
		t.Errorf("third request = %d", rec.Code)
	}
	if rec, _ := f.do(t, http.MethodGet, "/api/stats", "", "X-Forwarded-For", "10.0.0.9"); rec.Code != http.StatusOK {
		t.Errorf("other client = %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, Config{APIKey: "k", CORSOrigins: []string{"https://dash.example"}})
	req := httptest.NewRequest(http.MethodOptions, "/api/anomalies", nil)
	req.Header.Set("Origin", "https://dash.example")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://dash.example" {
		t.Errorf("allow origin = %q", got)
	}
}

func TestHub_RelaysBusMessages(t *testing.T) {
	bus := memory.NewSignalBus()
	hub := ws.NewHub(bus, discard(), ws.Config{Mode: "server"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var status ws.Envelope
	if err := conn.ReadJSON(&status); err != nil || status.Type != "status" {
		t.Fatalf("status frame = %+v, %v", status, err)
	}

	// Publish until the hub has registered the client and subscribed.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				_ = bus.Publish(ctx, domain.ChannelAnomalies, []byte(`{"event":"anomaly.created","ticker":"KXFED"}`))
			}
		}
	}()

	var env ws.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if env.Type != domain.ChannelAnomalies {
		t.Errorf("type = %q", env.Type)
	}
	var payload map[string]any
	if err := json.Unmarshal(env.Payload, &payload); err != nil || payload["ticker"] != "KXFED" {
		t.Errorf("payload = %s (%v)", env.Payload, err)
	}
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type recordingSender struct {
	name string
	err  error
	msgs []Message
}

func (r *recordingSender) Send(_ context.Context, m Message) error {
	r.msgs = append(r.msgs, m)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func sampleAnomaly(sev domain.Severity) domain.Anomaly {
	return domain.Anomaly{
		ID:         42,
		Ticker:     "KXFED-25MAR",
		Type:       domain.AnomalyVolume,
		Score:      8.4,
		Severity:   sev,
		DetectedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Details:    map[string]any{"z_score": 6.25, "volume": 400.0, "ignored": "x"},
	}
}

func TestNotifier_MinSeverity(t *testing.T) {
	rec := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{rec}, domain.SeverityHigh, discard())
	ctx := context.Background()

	_ = n.Alert(ctx, sampleAnomaly(domain.SeverityMedium))
	_ = n.Alert(ctx, sampleAnomaly(domain.SeverityHigh))
	_ = n.Alert(ctx, sampleAnomaly(domain.SeverityCritical))
	if len(rec.msgs) != 2 {
		t.Fatalf("delivered %d alerts, want 2", len(rec.msgs))
	}

	def := NewNotifier([]Sender{rec}, "", discard())
	rec.msgs = nil
	_ = def.Alert(ctx, sampleAnomaly(domain.SeverityHigh))
	if len(rec.msgs) != 0 {
		t.Error("default threshold should be critical")
	}
}

func TestNotifier_OneSenderFailing(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, domain.SeverityLow, discard())

	err := n.Alert(context.Background(), sampleAnomaly(domain.SeverityCritical))
	if err == nil || !strings.Contains(err.Error(), "bad: boom") {
		t.Errorf("err = %v", err)
	}
	if len(good.msgs) != 1 {
		t.Error("good sender skipped after failure")
	}
}

func TestFormatAnomaly(t *testing.T) {
	m := FormatAnomaly(sampleAnomaly(domain.SeverityCritical))
	if m.Title != "CRITICAL anomaly on KXFED-25MAR" {
		t.Errorf("title = %q", m.Title)
	}
	for _, want := range []string{"Score: 8.40", "z_score: 6.250", "volume: 400", "Anomaly #42"} {
		if !strings.Contains(m.Body, want) {
			t.Errorf("body missing %q:\n%s", want, m.Body)
		}
	}
	if strings.Contains(m.Body, "ignored") {
		t.Error("unlisted detail rendered")
	}
	if strings.Index(m.Body, "z_score") > strings.Index(m.Body, "volume:") {
		t.Error("details out of order")
	}
}

func TestDiscordSender(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	if err := d.Send(context.Background(), Message{Title: "t", Body: "b", Severity: domain.SeverityCritical}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(got.Embeds) != 1 || got.Embeds[0].Title != "t" || got.Embeds[0].Color != 0xE74C3C {
		t.Errorf("payload = %+v", got)
	}
}

func TestDiscordSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid webhook", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), Message{Title: "t"})
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("err = %v", err)
	}
}

func TestTelegramSender(t *testing.T) {
	var (
		mu   sync.Mutex
		sent []map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"iw","username":"iw_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			if err := r.ParseForm(); err != nil {
				t.Errorf("ParseForm: %v", err)
			}
			mu.Lock()
			sent = append(sent, map[string]string{
				"chat_id":    r.FormValue("chat_id"),
				"text":       r.FormValue("text"),
				"parse_mode": r.FormValue("parse_mode"),
			})
			mu.Unlock()
			_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":-100123,"type":"group"}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s, err := newTelegramSender("TOKEN", "-100123", srv.URL+"/bot%s/%s", srv.Client())
	if err != nil {
		t.Fatalf("newTelegramSender: %v", err)
	}
	if err := s.Send(context.Background(), Message{Title: "HIGH anomaly on KX-1.5", Body: "Score: 7.00", Severity: domain.SeverityHigh}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(sent) != 1 {
		t.Fatalf("sent = %d", len(sent))
	}
	m := sent[0]
	if m["chat_id"] != "-100123" || m["parse_mode"] != "MarkdownV2" {
		t.Errorf("message = %v", m)
	}
	if !strings.Contains(m["text"], `KX\-1\.5`) || !strings.Contains(m["text"], `7\.00`) {
		t.Errorf("text not escaped: %q", m["text"])
	}
}

func TestTelegramSender_BadChatID(t *testing.T) {
	if _, err := newTelegramSender("TOKEN", "not-a-number", "http://127.0.0.1:0/bot%s/%s", http.DefaultClient); err == nil {
		t.Fatal("expected chat id error")
	}
}

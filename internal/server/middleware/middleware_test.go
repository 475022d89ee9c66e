package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			t.Fatalf("decode log line: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func TestLogging_LevelsByStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	h := Logging(logger, "/api/health")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/anomalies/9":
			w.WriteHeader(http.StatusNotFound)
		case "/api/stats":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			_, _ = w.Write([]byte("ok"))
		}
	}))

	for _, path := range []string{"/api/health", "/api/markets", "/api/anomalies/9", "/api/stats"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	lines := logLines(t, &buf)
	if len(lines) != 4 {
		t.Fatalf("lines = %d, want 4", len(lines))
	}
	want := []struct {
		level  string
		status float64
	}{
		{"DEBUG", 200}, {"INFO", 200}, {"WARN", 404}, {"ERROR", 500},
	}
	for i, w := range want {
		l := lines[i]
		if l["level"] != w.level || l["status"] != w.status || l["component"] != "http" {
			t.Errorf("line %d = %v, want level %s status %v", i, l, w.level, w.status)
		}
	}
	if lines[1]["bytes"] != float64(2) {
		t.Errorf("bytes = %v, want 2", lines[1]["bytes"])
	}
}

func TestCORS_RejectsUnknownOrigin(t *testing.T) {
	h := CORS([]string{"https://dash.example"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("allow origin = %q, want none", got)
	}
	if rec.Header().Get("Vary") != "Origin" {
		t.Errorf("vary = %q", rec.Header().Get("Vary"))
	}

	req.Header.Set("Origin", "https://DASH.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://DASH.example" {
		t.Errorf("allow origin = %q", got)
	}
}

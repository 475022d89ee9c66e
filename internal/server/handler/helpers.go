// Package handler implements the read-only query API over markets, trades,
// anomalies and trader profiles, plus anomaly resolution and job triggers.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// writeJSON marshals v as JSON and writes it with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError sends {"error": msg}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts reads limit (default 50, max 500) and offset.
func parseListOpts(r *http.Request) domain.ListOpts {
	return domain.ListOpts{
		Limit:  queryInt(r, "limit", 50, 1, 500),
		Offset: queryInt(r, "offset", 0, 0, -1),
	}
}

// queryInt parses an integer query parameter, falling back to def when it is
// missing or below lo, and capping at hi when hi >= 0.
func queryInt(r *http.Request, name string, def, lo, hi int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo {
		return def
	}
	if hi >= 0 && n > hi {
		return hi
	}
	return n
}

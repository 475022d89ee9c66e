package detector

import (
	"context"
	"testing"
	"time"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
	"github.com/alanyoungcy/insiderwatch/internal/store/sqlite"
)

func newSQLite(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newLogger(t *testing.T, st *sqlite.Store) (*AnomalyLogger, *clock) {
	t.Helper()
	clk := &clock{now: t0}
	l := NewAnomalyLogger(st.Anomalies(), DefaultSeverityTable(), time.Hour)
	l.Now = clk.Now
	return l, clk
}

func TestAnomalyLogger_MergesWithinWindow(t *testing.T) {
	st := newSQLite(t)
	l, clk := newLogger(t, st)
	ctx := context.Background()

	first, err := l.Log(ctx, "KXFED", domain.AnomalyVolume, 5.5, map[string]any{"z_score": 3.5})
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if !first.Created || first.Anomaly.Severity != domain.SeverityMedium {
		t.Fatalf("first = %+v", first)
	}

	clk.Advance(30 * time.Minute)
	lower, err := l.Log(ctx, "KXFED", domain.AnomalyVolume, 4.0, map[string]any{"z_score": 2.1})
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if lower.Created || lower.Escalated {
		t.Errorf("lower score should merge silently: %+v", lower)
	}
	if lower.Anomaly.ID != first.Anomaly.ID || lower.Anomaly.Score != 5.5 {
		t.Errorf("merge kept %v on id %d", lower.Anomaly.Score, lower.Anomaly.ID)
	}

	clk.Advance(10 * time.Minute)
	higher, err := l.Log(ctx, "KXFED", domain.AnomalyVolume, 8.2, map[string]any{"z_score": 9.0})
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if !higher.Escalated || higher.Anomaly.Severity != domain.SeverityCritical {
		t.Errorf("expected escalation to critical: %+v", higher)
	}

	got, err := st.Anomalies().Get(ctx, first.Anomaly.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Score != 8.2 || got.Severity != domain.SeverityCritical {
		t.Errorf("stored = %v/%s", got.Score, got.Severity)
	}
	if got.Details["z_score"] != 9.0 {
		t.Errorf("details not replaced: %v", got.Details)
	}
	if !got.DetectedAt.Equal(t0) {
		t.Errorf("detected_at moved to %v", got.DetectedAt)
	}

	all, _ := st.Anomalies().List(ctx, domain.AnomalyFilter{})
	if len(all) != 1 {
		t.Errorf("rows = %d, want 1", len(all))
	}
}

func TestAnomalyLogger_NewRowAfterWindow(t *testing.T) {
	st := newSQLite(t)
	l, clk := newLogger(t, st)
	ctx := context.Background()

	a, _ := l.Log(ctx, "KXFED", domain.AnomalyVolume, 6, nil)
	clk.Advance(61 * time.Minute)
	b, err := l.Log(ctx, "KXFED", domain.AnomalyVolume, 6, nil)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if !b.Created || b.Anomaly.ID == a.Anomaly.ID {
		t.Errorf("expected a new row after the window: %+v", b)
	}
}

func TestAnomalyLogger_TypesAndTickersAreIndependent(t *testing.T) {
	st := newSQLite(t)
	l, _ := newLogger(t, st)
	ctx := context.Background()

	a, _ := l.Log(ctx, "KXFED", domain.AnomalyVolume, 6, nil)
	b, _ := l.Log(ctx, "KXFED", domain.AnomalyWhale, 6, nil)
	c, _ := l.Log(ctx, "KXCPI", domain.AnomalyVolume, 6, nil)
	if !a.Created || !b.Created || !c.Created {
		t.Error("each (ticker, type) pair should get its own row")
	}
}

func TestAnomalyLogger_ResolveThenLog(t *testing.T) {
	st := newSQLite(t)
	l, clk := newLogger(t, st)
	ctx := context.Background()

	a, _ := l.Log(ctx, "KXFED", domain.AnomalyWhale, 7.5, map[string]any{"whale_count": 1.0})
	clk.Advance(5 * time.Minute)
	resolved, err := l.Resolve(ctx, a.Anomaly.ID, "reviewed, legitimate hedger")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !resolved.Resolved || resolved.ResolvedAt == nil || !resolved.ResolvedAt.Equal(clk.now) {
		t.Errorf("resolved = %+v", resolved)
	}

	got, _ := st.Anomalies().Get(ctx, a.Anomaly.ID)
	if got.Details["resolution_note"] != "reviewed, legitimate hedger" || got.Details["whale_count"] != 1.0 {
		t.Errorf("details = %v", got.Details)
	}

	b, err := l.Log(ctx, "KXFED", domain.AnomalyWhale, 7.5, nil)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if !b.Created {
		t.Error("a resolved anomaly must not absorb new detections")
	}
}

func TestAnomalyLogger_ResolveMissing(t *testing.T) {
	st := newSQLite(t)
	l, _ := newLogger(t, st)
	if _, err := l.Resolve(context.Background(), 404, ""); err == nil {
		t.Fatal("expected error for unknown id")
	}
}

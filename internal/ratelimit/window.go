package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// Window is an in-memory sliding-window gate: no more than limit requests are
// admitted in any interval of length window. It is the test double for the
// Redis shared gate; production wiring uses Local or the Redis gate.
type Window struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	admits []time.Time
	now    func() time.Time
}

// NewWindow returns a Window admitting limit requests per window.
func NewWindow(limit int, window time.Duration) *Window {
	if limit < 1 {
		limit = 1
	}
	return &Window{limit: limit, window: window, now: time.Now}
}

// Wait blocks until the request fits in the window.
func (w *Window) Wait(ctx context.Context) error {
	for {
		wait, ok := w.tryAdmit()
		if ok {
			return nil
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("ratelimit: window wait: %w", ctx.Err())
		case <-t.C:
		}
	}
}

// tryAdmit records an admission if there is room, otherwise it returns how
// long until the oldest admission leaves the window.
func (w *Window) tryAdmit() (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.admits) && !w.admits[i].After(cutoff) {
		i++
	}
	w.admits = w.admits[i:]

	if len(w.admits) < w.limit {
		w.admits = append(w.admits, now)
		return 0, true
	}
	wait := w.admits[0].Add(w.window).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

var _ domain.RateGate = (*Window)(nil)

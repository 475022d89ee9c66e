// Package ratelimit provides process-local request gates and a fallback
// composite over a shared gate.
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// Local is a token bucket that admits at most maxRPS requests per second
// within one process. Burst is 1, so requests are spread evenly.
type Local struct {
	limiter *rate.Limiter
}

// NewLocal returns a Local gate. maxRPS must be positive.
func NewLocal(maxRPS float64) *Local {
	if maxRPS <= 0 {
		maxRPS = 1
	}
	return &Local{limiter: rate.NewLimiter(rate.Limit(maxRPS), 1)}
}

// Wait blocks until a token is available.
func (l *Local) Wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("ratelimit: local wait: %w", err)
	}
	return nil
}

var _ domain.RateGate = (*Local)(nil)

package kalshi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Outcome tags the result of a single request attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetryable
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is what one attempt produced.
type Result struct {
	Outcome    Outcome
	StatusCode int
	Body       []byte
	Err        error
}

// Classify maps a transport error or HTTP status to an Outcome. Transport
// errors, 429 and 5xx are retryable. 404 counts as success with no data.
// Every other non-2xx status is fatal.
func Classify(statusCode int, transportErr error) Outcome {
	switch {
	case transportErr != nil:
		return OutcomeRetryable
	case statusCode >= 200 && statusCode < 300:
		return OutcomeSuccess
	case statusCode == http.StatusNotFound:
		return OutcomeSuccess
	case statusCode == http.StatusTooManyRequests:
		return OutcomeRetryable
	case statusCode >= 500:
		return OutcomeRetryable
	default:
		return OutcomeFatal
	}
}

// RetryPolicy bounds how an operation is retried.
type RetryPolicy struct {
	// MaxAttempts counts the first attempt. Values below 1 mean 1.
	MaxAttempts int
	// NewBackOff returns a fresh backoff schedule per Do call.
	NewBackOff func() backoff.BackOff
	// Retryable decides whether a failed Result is retried. Nil means
	// Outcome == OutcomeRetryable.
	Retryable func(Result) bool
}

// DefaultRetryPolicy is 3 attempts with exponential backoff from 2s, capped
// at 10s.
func DefaultRetryPolicy() RetryPolicy {
	return NewRetryPolicy(3, 2*time.Second, 10*time.Second)
}

// NewRetryPolicy builds an exponential policy without jitter.
func NewRetryPolicy(maxAttempts int, initial, maxInterval time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.MaxInterval = maxInterval
			b.Multiplier = 2
			b.RandomizationFactor = 0
			b.MaxElapsedTime = 0
			b.Reset()
			return b
		},
	}
}

func (p RetryPolicy) retryable(r Result) bool {
	if p.Retryable != nil {
		return p.Retryable(r)
	}
	return r.Outcome == OutcomeRetryable
}

// Do runs attempt until it succeeds, fails fatally, or attempts run out. It
// returns the last Result and the number of attempts made. A Result that is
// not a success always carries a non-nil Err.
func (p RetryPolicy) Do(ctx context.Context, attempt func(context.Context) Result, notify func(Result, time.Duration)) (Result, int) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var b backoff.BackOff
	if p.NewBackOff != nil {
		b = p.NewBackOff()
	} else {
		b = &backoff.ZeroBackOff{}
	}
	b = backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxAttempts-1)), ctx)

	var (
		last     Result
		attempts int
	)
	op := func() error {
		attempts++
		last = attempt(ctx)
		if last.Outcome == OutcomeSuccess {
			return nil
		}
		if last.Err == nil {
			last.Err = fmt.Errorf("kalshi: attempt %d: %s (status %d)", attempts, last.Outcome, last.StatusCode)
		}
		if !p.retryable(last) {
			return backoff.Permanent(last.Err)
		}
		return last.Err
	}

	err := backoff.RetryNotify(op, b, func(_ error, wait time.Duration) {
		if notify != nil {
			notify(last, wait)
		}
	})
	if ctxErr := ctx.Err(); err != nil && ctxErr != nil && errors.Is(err, ctxErr) {
		last.Outcome = OutcomeFatal
		last.Err = fmt.Errorf("%w (last attempt: %v)", ctxErr, last.Err)
	}
	return last, attempts
}

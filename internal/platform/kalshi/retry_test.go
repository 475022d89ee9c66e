package kalshi

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func instantPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		NewBackOff:  func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		status int
		err    error
		want   Outcome
	}{
		{200, nil, OutcomeSuccess},
		{404, nil, OutcomeSuccess},
		{429, nil, OutcomeRetryable},
		{500, nil, OutcomeRetryable},
		{503, nil, OutcomeRetryable},
		{400, nil, OutcomeFatal},
		{401, nil, OutcomeFatal},
		{0, errors.New("connection refused"), OutcomeRetryable},
	}
	for _, c := range cases {
		if got := Classify(c.status, c.err); got != c.want {
			t.Errorf("Classify(%d, %v) = %s, want %s", c.status, c.err, got, c.want)
		}
	}
}

func TestRetryPolicy_FailsTwiceThenSucceeds(t *testing.T) {
	calls := 0
	res, attempts := instantPolicy(3).Do(context.Background(), func(context.Context) Result {
		calls++
		if calls < 3 {
			return Result{Outcome: OutcomeRetryable, StatusCode: http.StatusServiceUnavailable, Err: errors.New("unavailable")}
		}
		return Result{Outcome: OutcomeSuccess, StatusCode: http.StatusOK}
	}, nil)

	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if res.Outcome != OutcomeSuccess || res.Err != nil {
		t.Errorf("final result = %+v, want success", res)
	}
}

func TestRetryPolicy_FatalStopsImmediately(t *testing.T) {
	apiErr := newAPIError(http.StatusBadRequest, []byte(`{"code":"bad","message":"nope"}`))
	res, attempts := instantPolicy(3).Do(context.Background(), func(context.Context) Result {
		return Result{Outcome: OutcomeFatal, StatusCode: http.StatusBadRequest, Err: apiErr}
	}, nil)

	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	var got *APIError
	if !errors.As(res.Err, &got) || got.StatusCode != http.StatusBadRequest {
		t.Errorf("expected APIError 400 to propagate, got %v", res.Err)
	}
}

func TestRetryPolicy_ExhaustsAndReturnsLastError(t *testing.T) {
	notified := 0
	res, attempts := instantPolicy(3).Do(context.Background(), func(context.Context) Result {
		return Result{Outcome: OutcomeRetryable, StatusCode: http.StatusBadGateway, Err: errors.New("bad gateway")}
	}, func(_ Result, _ time.Duration) { notified++ })

	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if res.Err == nil || res.Err.Error() != "bad gateway" {
		t.Errorf("expected last error, got %v", res.Err)
	}
	if notified != 2 {
		t.Errorf("notify called %d times, want 2", notified)
	}
}

func TestRetryPolicy_CustomPredicate(t *testing.T) {
	p := instantPolicy(3)
	p.Retryable = func(Result) bool { return false }
	_, attempts := p.Do(context.Background(), func(context.Context) Result {
		return Result{Outcome: OutcomeRetryable, Err: errors.New("x")}
	}, nil)
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestDefaultRetryPolicy_Schedule(t *testing.T) {
	b := DefaultRetryPolicy().NewBackOff()
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		if got := b.NextBackOff(); got != w {
			t.Errorf("backoff[%d] = %v, want %v", i, got, w)
		}
	}
}

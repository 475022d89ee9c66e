package kalshi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// APIError is a non-2xx response from the exchange.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kalshi: HTTP %d: %s (%s)", e.StatusCode, e.Message, e.Code)
}

// Unwrap lets callers match on the domain sentinels.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.ErrUnauthorized
	case http.StatusTooManyRequests:
		return domain.ErrRateLimited
	default:
		return nil
	}
}

// newAPIError decodes either {"code","message"} or {"error":{...}}.
func newAPIError(statusCode int, body []byte) *APIError {
	var wrapped struct {
		Error *ErrorResponse `json:"error"`
		ErrorResponse
	}
	_ = json.Unmarshal(body, &wrapped)

	e := &APIError{StatusCode: statusCode, Code: wrapped.Code, Message: wrapped.Message}
	if wrapped.Error != nil {
		e.Code, e.Message = wrapped.Error.Code, wrapped.Error.Message
	}
	if e.Message == "" {
		e.Message = http.StatusText(statusCode)
	}
	return e
}

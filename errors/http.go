package errors

import (
	"fmt"
	"net/http"
)

// ClassifyHTTPStatus maps an HTTP response status to the engine's error
// taxonomy. 2xx returns nil. 408 and 429 are transient despite being 4xx;
// 409 carries a version conflict; every other 4xx is a permanent validation
// failure; 5xx and anything unrecognised is a retryable server failure.
func ClassifyHTTPStatus(op Operation, status int, body string) error {
	if status >= http.StatusOK && status < http.StatusMultipleChoices {
		return nil
	}

	if body == "" {
		body = http.StatusText(status)
	}
	cause := fmt.Errorf("http %d: %s", status, body)

	switch {
	case status == http.StatusRequestTimeout:
		return NewTimeoutError(op, cause)
	case status == http.StatusTooManyRequests:
		return NewRateLimitError(op, cause)
	case status == http.StatusConflict:
		return NewConflictError(op, cause, nil)
	case status >= http.StatusBadRequest && status < http.StatusInternalServerError:
		return NewValidationError(op, cause)
	default:
		return NewServerError(op, cause)
	}
}

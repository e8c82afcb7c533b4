package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// E is a structured application error carrying the HTTP status and a stable
// machine-readable code alongside the human message.
type E struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *E) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func New(status int, code, message string) *E {
	return &E{Status: status, Code: code, Message: message}
}

func BadRequest(code, message string) *E {
	return New(http.StatusBadRequest, code, message)
}

func Forbidden(code, message string) *E {
	return New(http.StatusForbidden, code, message)
}

func NotFound(code, message string) *E {
	return New(http.StatusNotFound, code, message)
}

func TooManyRequests(code, message string) *E {
	return New(http.StatusTooManyRequests, code, message)
}

func BadGateway(message string) *E {
	return New(http.StatusBadGateway, "upstream_error", message)
}

func Unavailable(message string) *E {
	return New(http.StatusServiceUnavailable, "not_configured", message)
}

// From extracts an *E from err's chain, or wraps err as a 500.
func From(err error) *E {
	var e *E
	if errors.As(err, &e) {
		return e
	}
	return New(http.StatusInternalServerError, "internal_error", err.Error())
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code string) bool {
	var e *E
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

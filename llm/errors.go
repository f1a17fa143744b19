package llm

import (
	"fmt"
	"net/http"
)

// ErrorKind classifies driver errors.
type ErrorKind int

const (
	ErrInvalidRequest ErrorKind = iota // malformed input, local or 400
	ErrRateLimited                     // 429
	ErrAuthentication                  // missing/implausible credential, 401/403
	ErrService                         // other non-2xx, or malformed 2xx body
	ErrTransport                       // network call did not complete
)

var errorKindNames = [...]string{
	ErrInvalidRequest: "invalid_request",
	ErrRateLimited:    "rate_limited",
	ErrAuthentication: "authentication",
	ErrService:        "service",
	ErrTransport:      "transport",
}

func (k ErrorKind) String() string {
	if k >= 0 && int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("unknown(%d)", k)
}

// Error is the library's error type.
type Error struct {
	Kind     ErrorKind
	Provider string
	Message  string
	Cause    error  // underlying error
	Raw      []byte // raw response body if available
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("llm [%s] %s: %s", e.Kind, e.Provider, e.Message)
	}
	return fmt.Sprintf("llm [%s]: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// classifyStatus maps a non-2xx HTTP status to an error kind.
func classifyStatus(status int) ErrorKind {
	switch status {
	case http.StatusBadRequest:
		return ErrInvalidRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthentication
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return ErrService
	}
}

func statusError(provider string, status int, body []byte) *Error {
	return &Error{
		Kind:     classifyStatus(status),
		Provider: provider,
		Message:  fmt.Sprintf("request failed with status %d", status),
		Raw:      body,
	}
}

package llm

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuthentication indicates the provider rejected the credential.
	ErrAuthentication = errors.New("llm authentication failed")

	// ErrRateLimited indicates the provider is throttling requests.
	ErrRateLimited = errors.New("llm rate limit exceeded")

	// ErrEmptyResponse indicates a successful call that carried no text.
	ErrEmptyResponse = errors.New("no text content in response")
)

// APIError is a non-success response from a provider. It unwraps to
// ErrAuthentication or ErrRateLimited when the status or the provider's
// error type says so, so callers classify with errors.Is.
type APIError struct {
	Provider   string
	StatusCode int
	Type       string // provider error type, e.g. "authentication_error"
	Message    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Type != "" {
		return fmt.Sprintf("%s API error %d (%s): %s", e.Provider, e.StatusCode, e.Type, msg)
	}
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, msg)
}

// Unwrap maps the error onto the package sentinels.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized, e.Type == "authentication_error":
		return ErrAuthentication
	case e.StatusCode == http.StatusTooManyRequests, e.Type == "rate_limit_error":
		return ErrRateLimited
	default:
		return nil
	}
}

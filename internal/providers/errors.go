package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrProviderUnavailable is returned when a wrapper has nothing to delegate to.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrNoToken is returned when the token endpoint answers without a token.
	ErrNoToken = errors.New("no token found in response")
	// ErrNoMeters is returned when the account exposes no meters.
	ErrNoMeters = errors.New("no meters available")
)

const errorBodyLimit = 512

// StatusError captures a non-2xx response from an upstream API.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

// RateLimitError captures rate limit responses from upstream providers.
type RateLimitError struct {
	Provider   string
	StatusCode int
	RetryAfter time.Duration
	Remaining  string
	Message    string
}

func (e *RateLimitError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "provider rate limited"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status=%d)", msg, e.StatusCode)
	}
	return msg
}

// AsRateLimitError attempts to unwrap an error into a RateLimitError.
func AsRateLimitError(err error) (*RateLimitError, bool) {
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return rlErr, true
	}
	return nil, false
}

// DecodeError reports an upstream body that did not have the expected shape.
type DecodeError struct {
	Provider string
	What     string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: decode %s: %v", e.Provider, e.What, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// CheckResponse turns a non-2xx response into a StatusError or RateLimitError.
// The body is drained (up to a small limit) but not closed.
func CheckResponse(provider string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	msg := strings.TrimSpace(string(body))
	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Remaining:  resp.Header.Get("X-RateLimit-Remaining"),
			Message:    fmt.Sprintf("%s rate limited", provider),
		}
	}
	return &StatusError{Provider: provider, StatusCode: resp.StatusCode, Body: msg}
}

func parseRetryAfter(raw string) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// Retryable classifies errors from upstream calls. Transport failures,
// timeouts, 408/429 and 5xx are retried; other statuses, malformed bodies
// and cancellation are final.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrNoToken) ||
		errors.Is(err, ErrNoMeters) ||
		errors.Is(err, ErrProviderUnavailable) {
		return false
	}
	if _, ok := AsRateLimitError(err); ok {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return false
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false
	}
	return true
}

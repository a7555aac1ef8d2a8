package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrEmptyResponse is returned when a vendor answered successfully but the
// parsed content is blank.
var ErrEmptyResponse = errors.New("No content in API response")

// ErrUnknownProvider is wrapped by UnknownProviderError.
var ErrUnknownProvider = errors.New("unknown provider")

// UnknownProviderError reports an unsupported provider ID with the closest
// known ID, if any.
type UnknownProviderError struct {
	Input      string
	Suggestion ID
}

func (e *UnknownProviderError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("unknown provider %q (did you mean %q?)", e.Input, e.Suggestion)
	}
	return fmt.Sprintf("unknown provider %q", e.Input)
}

func (e *UnknownProviderError) Unwrap() error { return ErrUnknownProvider }

// ValidationError lists every problem found in a Config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "Configuration error: " + strings.Join(e.Problems, ", ")
}

// Error is a classified failure response from a vendor.
type Error struct {
	Status    int
	Retryable bool
	Message   string
}

func (e *Error) Error() string { return e.Message }

// IsRetryable reports whether err is a transient provider error.
func IsRetryable(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Retryable
}

// classify applies the rules shared by all vendors: 429 and 503 are retried,
// everything else is surfaced with the best message the body offers.
func classify(status int, body []byte) ErrorInfo {
	switch status {
	case http.StatusTooManyRequests:
		return ErrorInfo{Retryable: true, Message: "Rate limit exceeded"}
	case http.StatusServiceUnavailable:
		return ErrorInfo{Retryable: true, Message: "Service unavailable"}
	}
	if msg := vendorMessage(body); msg != "" {
		return ErrorInfo{Message: msg}
	}
	return ErrorInfo{Message: fmt.Sprintf("API error: %d", status)}
}

// vendorMessage pulls a human-readable message out of the error shapes the
// vendors use: {"error":{"message"}}, {"error":"..."}, {"message"} and
// {"detail"}. Non-JSON bodies yield "".
func vendorMessage(body []byte) string {
	var v struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Detail  json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return ""
	}
	if len(v.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(v.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
		var s string
		if json.Unmarshal(v.Error, &s) == nil && s != "" {
			return s
		}
	}
	if v.Message != "" {
		return v.Message
	}
	if len(v.Detail) > 0 {
		var s string
		if json.Unmarshal(v.Detail, &s) == nil && s != "" {
			return s
		}
	}
	return ""
}

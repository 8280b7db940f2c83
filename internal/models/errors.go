package models

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Kind classifies a provider failure.
type Kind string

const (
	KindQuotaExceeded   Kind = "quota_exceeded"
	KindNotConfigured   Kind = "not_configured"
	KindInvalidResponse Kind = "invalid_response"
	KindUnimplemented   Kind = "unimplemented"
	KindTransport       Kind = "transport"
	KindInvalidInput    Kind = "invalid_input"
)

// ResourceExhausted is the keyword Google APIs use for quota failures.
const ResourceExhausted = "RESOURCE_EXHAUSTED"

// DefaultQuotaMarkers are provider error codes treated as quota failures.
var DefaultQuotaMarkers = []string{ResourceExhausted}

// ProviderError is the classified failure returned by every Editor.
type ProviderError struct {
	Provider string
	Kind     Kind
	// Status is the provider or HTTP status; zero when none was received.
	Status int
	// Code is the provider's own error identifier, e.g. RESOURCE_EXHAUSTED.
	Code    string
	Message string
	// RetryAfter is the provider supplied retry hint, zero when absent.
	RetryAfter time.Duration
	// Details is opaque diagnostic payload surfaced to callers.
	Details any
	Err     error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Provider == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// HTTPStatus maps the error onto an outward HTTP status, defaulting to 500.
func (e *ProviderError) HTTPStatus() int {
	if e == nil || e.Status < 400 || e.Status > 599 {
		return http.StatusInternalServerError
	}
	return e.Status
}

// NotConfigured builds the error returned when a provider credential is missing.
func NotConfigured(provider, msg string) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Kind:     KindNotConfigured,
		Status:   http.StatusInternalServerError,
		Message:  msg,
	}
}

// Unimplemented builds the error returned for unknown provider names.
func Unimplemented(provider string) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Kind:     KindUnimplemented,
		Status:   http.StatusNotImplemented,
		Message:  "Provider not implemented: " + provider,
	}
}

// Transport wraps a network level failure.
func Transport(provider string, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Kind:     KindTransport,
		Message:  err.Error(),
		Err:      err,
	}
}

// IsQuotaSignal applies the rate-limit heuristic: HTTP 429, a known
// provider quota code, or a message mentioning resource exhaustion.
func IsQuotaSignal(status int, code, message string, markers []string) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	code = strings.TrimSpace(code)
	if code != "" {
		for _, marker := range markers {
			if strings.EqualFold(code, marker) {
				return true
			}
		}
	}
	return strings.Contains(message, ResourceExhausted)
}

// ClassifyHTTP picks quota_exceeded or transport for a failed upstream call.
func ClassifyHTTP(status int, code, message string, markers []string) Kind {
	if IsQuotaSignal(status, code, message, markers) {
		return KindQuotaExceeded
	}
	return KindTransport
}

// IsQuota reports whether err is a quota failure. Errors that are not
// ProviderErrors fall back to the message keyword check.
func IsQuota(err error) bool {
	if err == nil {
		return false
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		if perr.Kind == KindQuotaExceeded {
			return true
		}
		return IsQuotaSignal(perr.Status, "", perr.Message, nil)
	}
	return strings.Contains(err.Error(), ResourceExhausted)
}

// RetryHint returns the provider supplied retry delay carried by err.
func RetryHint(err error) time.Duration {
	var perr *ProviderError
	if errors.As(err, &perr) && perr.RetryAfter > 0 {
		return perr.RetryAfter
	}
	return 0
}

package backend

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// statusCodeWord matches a bare 429 but not 4290 or 14290.
var statusCodeWord = regexp.MustCompile(`\b429\b`)

// Kind categorizes a remote failure for fallback decisions.
type Kind int

const (
	KindOther Kind = iota
	KindCapacityExhausted
	KindModelUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindCapacityExhausted:
		return "capacity_exhausted"
	case KindModelUnavailable:
		return "model_unavailable"
	default:
		return "other"
	}
}

// Retryable reports whether the next fallback candidate should be tried.
func (k Kind) Retryable() bool {
	return k == KindCapacityExhausted || k == KindModelUnavailable
}

// Error is a classified failure returned by a Session or Client.
type Error struct {
	Kind       Kind
	Model      string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (%s, status %d): %v", e.Model, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Model, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a classified error. Unclassified errors are KindOther.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindOther
}

// Classify derives a Kind from an HTTP status code and the error text.
// A known status code wins. Any other 4xx is a malformed request and is never
// retried; the text is consulted only without a status or on a 5xx.
func Classify(statusCode int, msg string) Kind {
	switch statusCode {
	case http.StatusTooManyRequests:
		return KindCapacityExhausted
	case http.StatusNotFound, http.StatusServiceUnavailable:
		return KindModelUnavailable
	}
	if statusCode >= 400 && statusCode < 500 {
		return KindOther
	}
	if IsCapacityMessage(msg) {
		return KindCapacityExhausted
	}
	if IsUnavailableMessage(msg) {
		return KindModelUnavailable
	}
	return KindOther
}

// IsCapacityMessage checks if a message indicates rate or quota limits.
func IsCapacityMessage(msg string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)

	if statusCodeWord.MatchString(lower) {
		return true
	}

	return strings.Contains(lower, "resource_exhausted") ||
		strings.Contains(lower, "resource has been exhausted") ||
		strings.Contains(lower, "quota") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "too many requests")
}

// IsUnavailableMessage checks if a message indicates the model cannot serve
// the request (unknown model, retired model, service down).
func IsUnavailableMessage(msg string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)

	if strings.Contains(lower, "503") && strings.Contains(lower, "unavailable") {
		return true
	}

	return strings.Contains(lower, "not found") ||
		strings.Contains(lower, "not_found") ||
		strings.Contains(lower, "unavailable") ||
		strings.Contains(lower, "does not exist") ||
		strings.Contains(lower, "is not supported") ||
		strings.Contains(lower, "overloaded")
}

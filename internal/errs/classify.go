// Package errs classifies errors at component boundaries, keeps structured
// error records with per-category counters, and provides the retry policy the
// pipeline uses for transient failures.
package errs

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"strings"
	"syscall"
	"time"

	"tgmirror/pkg/telegramapi"
)

// Category buckets every handled error.
type Category string

const (
	CategoryNetwork    Category = "network"
	CategoryRateLimit  Category = "rate_limit"
	CategoryAuth       Category = "auth"
	CategoryPermission Category = "permission"
	CategoryValidation Category = "validation"
	CategoryResource   Category = "resource"
	CategorySystem     Category = "system"
	CategoryBusiness   Category = "business"
	CategoryUnknown    Category = "unknown"
)

// Severity of a recorded error.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityFatal   Severity = "fatal"
)

// ValidationError marks caller input problems. Never retried.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// Validation builds a ValidationError.
func Validation(msg string) error { return &ValidationError{Msg: msg} }

// BusinessError marks expected domain conditions (empty message, cross-DC raw
// read) that downgrade or skip rather than retry.
type BusinessError struct{ Msg string }

func (e *BusinessError) Error() string { return e.Msg }

// Business builds a BusinessError.
func Business(msg string) error { return &BusinessError{Msg: msg} }

var authMarkers = []string{
	"unauthorized", "auth key", "session expired", "session revoked",
	"not authorized", "401",
}

var permissionMarkers = []string{
	"forbidden", "chat_write_forbidden", "chat_admin_required",
	"not enough rights", "permission denied", "403",
}

var networkMarkers = []string{
	"connection reset", "connection refused", "broken pipe", "timeout",
	"timed out", "eof", "no such host", "network is unreachable",
	"tls handshake",
}

// Classify maps an error to its category. Typed checks run first; the string
// markers cover platform API errors that only surface as text.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	if _, ok := telegramapi.AsFloodWait(err); ok {
		return CategoryRateLimit
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return CategoryValidation
	}
	var bErr *BusinessError
	if errors.As(err, &bErr) {
		return CategoryBusiness
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CategorySystem
	}
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EMFILE) {
		return CategoryResource
	}
	if errors.Is(err, fs.ErrPermission) {
		return CategoryPermission
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, authMarkers):
		return CategoryAuth
	case containsAny(msg, permissionMarkers):
		return CategoryPermission
	case containsAny(msg, networkMarkers):
		return CategoryNetwork
	case strings.Contains(msg, "too many requests") || strings.Contains(msg, "429"):
		return CategoryRateLimit
	case strings.Contains(msg, "no space left"):
		return CategoryResource
	}
	return CategoryUnknown
}

// Retryable reports whether the category qualifies for exponential backoff.
// Rate limits are handled separately: the instructed wait is always honored
// and never consumes a retry attempt.
func Retryable(cat Category) bool {
	return cat == CategoryNetwork || cat == CategoryResource
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

var suggestions = map[Category]string{
	CategoryNetwork:    "check connectivity and retry",
	CategoryRateLimit:  "slow down; the instructed wait is honored automatically",
	CategoryAuth:       "recreate the session file with the session wizard",
	CategoryPermission: "grant the account access to the chat",
	CategoryValidation: "fix the configuration or input and restart",
	CategoryResource:   "free disk space or memory",
	CategorySystem:     "inspect the runtime environment",
	CategoryBusiness:   "no action needed; the item was skipped by design",
	CategoryUnknown:    "inspect logs",
}

// Record is the structured form every handled error is reduced to.
type Record struct {
	Type            string
	Message         string
	Category        Category
	Severity        Severity
	Timestamp       time.Time
	Context         map[string]string
	SuggestedAction string
}

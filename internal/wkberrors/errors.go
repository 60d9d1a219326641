// Package wkberrors defines stable error codes and structured failure
// results for the workspace crawler.
package wkberrors

import "fmt"

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// ScanFailed indicates the topology scan could not complete
	ScanFailed ErrorCode = "SCAN_FAILED"
	// CrawlFailed indicates an entire application crawl failed
	CrawlFailed ErrorCode = "CRAWL_FAILED"
	// CacheCorrupt indicates an index row referenced a missing blob
	CacheCorrupt ErrorCode = "CACHE_CORRUPT"
	// FingerprintUnavailable indicates no fingerprint strategy succeeded
	FingerprintUnavailable ErrorCode = "FINGERPRINT_UNAVAILABLE"
	// WatchUnavailable indicates the filesystem-event API could not start
	WatchUnavailable ErrorCode = "WATCH_UNAVAILABLE"
	// AppNotFound indicates the named application is not in the workspace
	AppNotFound ErrorCode = "APP_NOT_FOUND"
	// InternalError indicates an unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// WkbError is an error with a stable code and an optional cause
type WkbError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	cause   error
}

// New creates a WkbError with the given code, message, and cause
func New(code ErrorCode, message string, cause error) *WkbError {
	return &WkbError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Error implements the error interface
func (e *WkbError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *WkbError) Unwrap() error {
	return e.cause
}

// CrawlFailure is the structured result for an operation-level failure.
// The orchestrator records it and continues with the remaining
// applications; it is never raised as an error to the host.
type CrawlFailure struct {
	Application string    `json:"application"`
	Status      string    `json:"status"` // always "failed"
	Code        ErrorCode `json:"code"`
	Message     string    `json:"message"`
}

// NewCrawlFailure builds a failure result for the named application
func NewCrawlFailure(app string, code ErrorCode, err error) *CrawlFailure {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &CrawlFailure{
		Application: app,
		Status:      "failed",
		Code:        code,
		Message:     msg,
	}
}

package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind categorizes indexer errors.
type ErrorKind string

const (
	KindConfiguration    ErrorKind = "configuration"
	KindAuthentication   ErrorKind = "authentication"
	KindProtection       ErrorKind = "protection"
	KindTransient        ErrorKind = "transient"
	KindParse            ErrorKind = "parse"
	KindRateLimited      ErrorKind = "rate_limited"
	KindUnexpectedStatus ErrorKind = "unexpected_status"
	KindSearch           ErrorKind = "search"
	KindTimeout          ErrorKind = "timeout"
)

// ProtectionInfo describes an anti-bot protection detected on a response.
type ProtectionInfo struct {
	Vendor   string `json:"vendor"`
	Solvable bool   `json:"solvable"`
}

// IndexerError represents a categorized error from an indexer operation.
type IndexerError struct {
	Kind        ErrorKind       // Error category
	Message     string          // Human-readable message
	IndexerID   int64           // ID of the affected indexer (0 if not applicable)
	IndexerName string          // Name of the affected indexer
	StatusCode  int             // HTTP status that triggered the error, if any
	RetryAfter  time.Duration   // Server-requested delay for rate limit errors
	Retryable   bool            // Whether the operation can be retried
	Protection  *ProtectionInfo // Set for protection errors
	Cause       error           // Underlying error
}

// Error implements the error interface.
func (e *IndexerError) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(e.Kind))
	b.WriteString("] ")
	if e.IndexerName != "" {
		b.WriteString(e.IndexerName)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *IndexerError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for errors.Is(), comparing by kind.
func (e *IndexerError) Is(target error) bool {
	var t *IndexerError
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// WithIndexer returns a copy of the error attributed to the given indexer.
func (e *IndexerError) WithIndexer(id int64, name string) *IndexerError {
	c := *e
	c.IndexerID = id
	c.IndexerName = name
	return &c
}

// Common error instances for comparison
var (
	ErrConfiguration      = &IndexerError{Kind: KindConfiguration, Message: "configuration error"}
	ErrAuthentication     = &IndexerError{Kind: KindAuthentication, Message: "authentication failed"}
	ErrProtectionDetected = &IndexerError{Kind: KindProtection, Message: "site protected"}
	ErrTransient          = &IndexerError{Kind: KindTransient, Message: "transient network error"}
	ErrParse              = &IndexerError{Kind: KindParse, Message: "parse error"}
	ErrRateLimited        = &IndexerError{Kind: KindRateLimited, Message: "rate limit exceeded"}
	ErrUnexpectedStatus   = &IndexerError{Kind: KindUnexpectedStatus, Message: "unexpected status code"}
	ErrSearchFailed       = &IndexerError{Kind: KindSearch, Message: "search failed"}
	ErrTimeout            = &IndexerError{Kind: KindTimeout, Message: "timed out"}
)

// NewConfigError creates a configuration error. Never retried.
func NewConfigError(message string, args ...any) *IndexerError {
	return &IndexerError{
		Kind:    KindConfiguration,
		Message: fmt.Sprintf(message, args...),
	}
}

// NewAuthError creates an authentication error.
func NewAuthError(message string, cause error) *IndexerError {
	if message == "" {
		message = "authentication failed"
	}
	return &IndexerError{
		Kind:    KindAuthentication,
		Message: message,
		Cause:   cause,
	}
}

// NewProtectionError creates a site-protected error.
func NewProtectionError(statusCode int, info ProtectionInfo) *IndexerError {
	return &IndexerError{
		Kind:       KindProtection,
		Message:    fmt.Sprintf("site protected by %s (HTTP %d)", info.Vendor, statusCode),
		StatusCode: statusCode,
		Protection: &info,
	}
}

// NewTransientError creates a network error eligible for bounded retry.
func NewTransientError(message string, cause error) *IndexerError {
	if message == "" {
		message = "transient network error"
	}
	return &IndexerError{
		Kind:      KindTransient,
		Message:   message,
		Retryable: true,
		Cause:     cause,
	}
}

// NewParseError creates a parsing error.
func NewParseError(message string, cause error) *IndexerError {
	return &IndexerError{
		Kind:    KindParse,
		Message: message,
		Cause:   cause,
	}
}

// NewRateLimitError creates a rate limit error.
func NewRateLimitError(retryAfter time.Duration) *IndexerError {
	msg := "rate limit exceeded"
	if retryAfter > 0 {
		msg = fmt.Sprintf("rate limit exceeded, retry after %s", retryAfter)
	}
	return &IndexerError{
		Kind:       KindRateLimited,
		Message:    msg,
		StatusCode: 429,
		RetryAfter: retryAfter,
		Retryable:  true,
	}
}

// NewUnexpectedStatusError creates an error for an unexpected HTTP status code.
func NewUnexpectedStatusError(statusCode int) *IndexerError {
	return &IndexerError{
		Kind:       KindUnexpectedStatus,
		Message:    fmt.Sprintf("unexpected HTTP status %d", statusCode),
		StatusCode: statusCode,
	}
}

// NewSearchError creates an error reported by the site itself on a results page.
func NewSearchError(message string) *IndexerError {
	if message == "" {
		message = "search failed"
	}
	return &IndexerError{
		Kind:    KindSearch,
		Message: message,
	}
}

// NewTimeoutError marks an indexer whose task was cancelled by the search deadline.
func NewTimeoutError(cause error) *IndexerError {
	return &IndexerError{
		Kind:    KindTimeout,
		Message: "search deadline exceeded",
		Cause:   cause,
	}
}

// KindOf returns the kind of err, or "" when err is not an IndexerError.
func KindOf(err error) ErrorKind {
	var indexerErr *IndexerError
	if errors.As(err, &indexerErr) {
		return indexerErr.Kind
	}
	return ""
}

// IsRetryable returns whether the error is retryable.
func IsRetryable(err error) bool {
	var indexerErr *IndexerError
	if errors.As(err, &indexerErr) {
		return indexerErr.Retryable
	}
	return false
}

// ProtectionOf returns the protection info carried by err, if any.
func ProtectionOf(err error) (*ProtectionInfo, bool) {
	var indexerErr *IndexerError
	if errors.As(err, &indexerErr) && indexerErr.Protection != nil {
		return indexerErr.Protection, true
	}
	return nil, false
}

// Attribute tags err with the indexer identity. Non-IndexerError values are
// wrapped as search errors so diagnostics always carry a kind.
func Attribute(err error, id int64, name string) *IndexerError {
	if err == nil {
		return nil
	}
	var indexerErr *IndexerError
	if errors.As(err, &indexerErr) {
		return indexerErr.WithIndexer(id, name)
	}
	return &IndexerError{
		Kind:        KindSearch,
		Message:     "search failed",
		IndexerID:   id,
		IndexerName: name,
		Cause:       err,
	}
}

// DiagnosticStatus classifies how an indexer took part in a search.
type DiagnosticStatus string

const (
	DiagnosticOK       DiagnosticStatus = "ok"
	DiagnosticFailed   DiagnosticStatus = "failed"
	DiagnosticSkipped  DiagnosticStatus = "skipped"
	DiagnosticTimedOut DiagnosticStatus = "timed_out"
)

// Diagnostic reports the outcome of one indexer in a search.
type Diagnostic struct {
	IndexerID    int64            `json:"indexerId"`
	IndexerName  string           `json:"indexerName"`
	Status       DiagnosticStatus `json:"status"`
	Kind         ErrorKind        `json:"kind,omitempty"`
	Error        string           `json:"error,omitempty"`
	ReleaseCount int              `json:"releaseCount"`
	Elapsed      time.Duration    `json:"elapsed"`
	DisabledTill *time.Time       `json:"disabledTill,omitempty"`
}

// SearchFailure is returned when every dispatched indexer failed.
type SearchFailure struct {
	Diagnostics []Diagnostic
}

// Error implements the error interface.
func (e *SearchFailure) Error() string {
	parts := make([]string, 0, len(e.Diagnostics))
	for _, d := range e.Diagnostics {
		if d.Status == DiagnosticFailed {
			parts = append(parts, fmt.Sprintf("%s: %s", d.IndexerName, d.Error))
		}
	}
	return fmt.Sprintf("all %d indexers failed: %s", len(parts), strings.Join(parts, "; "))
}

// Is matches ErrSearchFailed.
func (e *SearchFailure) Is(target error) bool {
	return target == ErrSearchFailed
}

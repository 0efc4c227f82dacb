package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage is returned when a requested key does not exist.
	RedisNotFoundMessage = "redis key not found"
	// PostgresErrorMessage describes telemetry database failures.
	PostgresErrorMessage = "telemetry query failed"
	// ProviderErrorMessage describes text-generation provider failures.
	ProviderErrorMessage = "text generation unavailable"
)

// Kind classifies an error so the dispatcher can convert it into the
// matching response shape without inspecting message strings.
type Kind int

const (
	KindInternal Kind = iota
	// KindClarification asks the user for a missing slot.
	KindClarification
	// KindNoData signals an empty aggregation result for the window.
	KindNoData
	// KindUpstream covers failed or timed-out collaborators.
	KindUpstream
	// KindMalformed covers empty or unparseable input.
	KindMalformed
	// KindRateLimited rejects an over-budget turn.
	KindRateLimited
)

// AppError wraps an underlying error with a kind, HTTP status and safe message.
type AppError struct {
	Err     error
	Kind    Kind
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new internal AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Kind:    KindInternal,
		Status:  status,
		Message: message,
	}
}

// Clarification builds the soft error used when a required slot is missing.
// The message is the question shown to the user verbatim.
func Clarification(question string) *AppError {
	return &AppError{Kind: KindClarification, Status: http.StatusOK, Message: question}
}

// NoData builds the soft error for an empty aggregation result.
func NoData(message string) *AppError {
	return &AppError{Kind: KindNoData, Status: http.StatusOK, Message: message}
}

// Upstream wraps a collaborator failure (aggregation or text generation).
func Upstream(err error, message string) *AppError {
	return &AppError{Err: err, Kind: KindUpstream, Status: http.StatusBadGateway, Message: message}
}

// Malformed marks input the parser could not make sense of.
func Malformed(message string) *AppError {
	return &AppError{Kind: KindMalformed, Status: http.StatusBadRequest, Message: message}
}

// RateLimited rejects a turn that exceeded the per-user window budget.
func RateLimited(message string) *AppError {
	return &AppError{Kind: KindRateLimited, Status: http.StatusTooManyRequests, Message: message}
}

// KindOf extracts the Kind from an error chain, KindInternal when absent.
func KindOf(err error) Kind {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether the target matches the underlying error or the AppError itself.
func (e *AppError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// As allows casting to AppError or the wrapped error in a chain.
func (e *AppError) As(target any) bool {
	if errors.As(e.Err, target) {
		return true
	}
	if t, ok := target.(**AppError); ok {
		*t = e
		return true
	}
	return false
}

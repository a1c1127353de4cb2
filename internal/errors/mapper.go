package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Category returns the taxonomy name for an error
func Category(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrStorageCorrupt):
		return "StorageCorrupt"
	case errors.Is(err, ErrStaleIdentifier):
		return "StaleIdentifier"
	case errors.Is(err, ErrRedirectLoop):
		return "RedirectLoopRisk"
	case errors.Is(err, ErrInvalidTransition):
		return "InvalidTransition"
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	case errors.Is(err, ErrNetwork):
		return "NetworkFailure"
	case errors.Is(err, ErrStorage):
		return "StorageFailure"
	case errors.Is(err, ErrTransient):
		return "Transient"
	case errors.Is(err, ErrInternal):
		return "Internal"
	default:
		return "Unknown"
	}
}

// HTTPStatus maps an error category to the status code the API answers with
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrStaleIdentifier):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrNetwork):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", message, err)
}

// WrapWithCategory tags err with a taxonomy category while keeping it in the chain
func WrapWithCategory(err error, message string, category error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w: %w", message, category, err)
}

// IsCategory checks if error belongs to specific category
func IsCategory(err error, category error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, category)
}

// NotFound wraps error as not found
func NotFound(message string) error {
	return fmt.Errorf("%s: %w", message, ErrNotFound)
}

// InvalidInput wraps error as invalid input
func InvalidInput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidInput)
}

// InvalidTransition wraps error as an illegal status change
func InvalidTransition(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidTransition)
}

// Network wraps error as a network failure
func Network(message string) error {
	return fmt.Errorf("%s: %w", message, ErrNetwork)
}

// Transient wraps error as transient
func Transient(message string) error {
	return fmt.Errorf("%s: %w", message, ErrTransient)
}

// Internal wraps error as internal
func Internal(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInternal)
}

// IsRetryable reports whether a fetch may be attempted again
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput) {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrNetwork)
}

package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// FromStatus maps a non-2xx backend response to the error taxonomy.
func FromStatus(status int, body string) error {
	msg := fmt.Sprintf("HTTP %d", status)
	if body != "" {
		msg = fmt.Sprintf("HTTP %d: %s", status, body)
	}

	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", msg, ErrNotFound)
	case status == http.StatusTooManyRequests, status >= 500:
		return fmt.Errorf("%s: %w", msg, ErrTransient)
	case status >= 400:
		return fmt.Errorf("%s: %w", msg, ErrInvalidInput)
	default:
		return fmt.Errorf("%s: %w", msg, ErrInternal)
	}
}

// Category returns the error category name for logging
func Category(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, context.Canceled):
		return "Canceled"
	case errors.Is(err, ErrTransient):
		return "ErrTransient"
	case errors.Is(err, ErrMalformedFrame):
		return "ErrMalformedFrame"
	case errors.Is(err, ErrUnrecognizedEnvelope):
		return "ErrUnrecognizedEnvelope"
	case errors.Is(err, ErrInvalidInput):
		return "ErrInvalidInput"
	case errors.Is(err, ErrNotFound):
		return "ErrNotFound"
	case errors.Is(err, ErrNoSession):
		return "ErrNoSession"
	case errors.Is(err, ErrBusy):
		return "ErrBusy"
	case errors.Is(err, ErrInternal):
		return "ErrInternal"
	default:
		return "Unknown"
	}
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", message, err)
}

// InvalidInput wraps error as invalid input
func InvalidInput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidInput)
}

// Transient wraps error as transient
func Transient(message string) error {
	return fmt.Errorf("%s: %w", message, ErrTransient)
}

// TransientErr marks an underlying transport error as transient, keeping it in the chain.
func TransientErr(err error, message string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", message, err)
	}
	return fmt.Errorf("%s: %w: %w", message, ErrTransient, err)
}

// MalformedFrame wraps error as malformed frame
func MalformedFrame(message string) error {
	return fmt.Errorf("%s: %w", message, ErrMalformedFrame)
}

// Internal wraps error as internal
func Internal(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInternal)
}

// IsRetryable reports whether the error came from a transient transport failure
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTransient)
}

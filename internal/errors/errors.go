package errors

import (
	"errors"
)

// Sentinel errors for different categories
var (
	// ErrTransient - transport failure (stream reconnects, request failures become transcript errors)
	ErrTransient = errors.New("transient error")

	// ErrMalformedFrame - push-stream payload could not be decoded (logged and dropped)
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnrecognizedEnvelope - frame decoded but matches no known envelope shape (logged and dropped)
	ErrUnrecognizedEnvelope = errors.New("unrecognized envelope")

	// ErrInvalidInput - missing or malformed identifier, rejected before any network call
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound - resource not found (decision resolved without a matching message, HTTP 404)
	ErrNotFound = errors.New("not found")

	// ErrNoSession - operation requires a live session
	ErrNoSession = errors.New("no active session")

	// ErrBusy - a request is already in flight
	ErrBusy = errors.New("busy")

	// ErrInternal - anything else
	ErrInternal = errors.New("internal error")
)

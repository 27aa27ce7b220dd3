// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-relay.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrNotSupported    = fmt.Errorf("operation not supported")
	ErrAlreadyRunning  = fmt.Errorf("already running")
	ErrClosed          = fmt.Errorf("closed")

	// ErrUnderflow reports a ring buffer read beyond its occupancy.
	// A correctly driven relay never produces it.
	ErrUnderflow = fmt.Errorf("buffer underflow")

	// ErrBackpressure reports a bounded queue at capacity. Expected and recoverable.
	ErrBackpressure = fmt.Errorf("backpressure")

	// ErrChannelClosed reports registration or I/O against a closed channel.
	ErrChannelClosed = fmt.Errorf("channel closed")

	// ErrIOFailure wraps any other read/write/register failure of a connection.
	ErrIOFailure = fmt.Errorf("i/o failure")

	// ErrPollFailure wraps a failed poll of the OS selector.
	ErrPollFailure = fmt.Errorf("poll failure")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeUnderflow
	ErrCodeBackpressure
	ErrCodeChannelClosed
	ErrCodeIOFailure
	ErrCodePollFailure
	ErrCodeNotSupported
	ErrCodeInternal
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the cause so errors.Is matches the taxonomy sentinels.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
		Err:     sentinelFor(code),
	}
}

// IOFailure wraps err as an ErrCodeIOFailure error for the given operation.
func IOFailure(op string, err error) *Error {
	e := NewError(ErrCodeIOFailure, op)
	e.Err = fmt.Errorf("%w: %w", ErrIOFailure, err)
	return e
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf extracts the ErrorCode carried by err, ErrCodeInternal when unknown.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	switch {
	case errors.Is(err, ErrUnderflow):
		return ErrCodeUnderflow
	case errors.Is(err, ErrBackpressure):
		return ErrCodeBackpressure
	case errors.Is(err, ErrChannelClosed):
		return ErrCodeChannelClosed
	case errors.Is(err, ErrIOFailure):
		return ErrCodeIOFailure
	case errors.Is(err, ErrPollFailure):
		return ErrCodePollFailure
	case errors.Is(err, ErrInvalidArgument):
		return ErrCodeInvalidArgument
	case errors.Is(err, ErrNotSupported):
		return ErrCodeNotSupported
	}
	return ErrCodeInternal
}

func sentinelFor(code ErrorCode) error {
	switch code {
	case ErrCodeInvalidArgument:
		return ErrInvalidArgument
	case ErrCodeUnderflow:
		return ErrUnderflow
	case ErrCodeBackpressure:
		return ErrBackpressure
	case ErrCodeChannelClosed:
		return ErrChannelClosed
	case ErrCodeIOFailure:
		return ErrIOFailure
	case ErrCodePollFailure:
		return ErrPollFailure
	case ErrCodeNotSupported:
		return ErrNotSupported
	}
	return nil
}

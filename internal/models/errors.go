package models

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is checks across layers.
var (
	ErrNotFound = errors.New("not found")

	// ErrConflict means a concurrent append won the race for the same parcel.
	// The caller may retry against the fresh state.
	ErrConflict = errors.New("concurrent update conflict")

	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrExhaustedSequence = errors.New("tracking code sequence exhausted")

	// ErrInconsistentTimeline marks a stored event history that no longer
	// forms a legal path. It is surfaced for operator review, never repaired.
	ErrInconsistentTimeline = errors.New("timeline is inconsistent")
)

type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type NotFoundError struct {
	Kind string
	Key  string
}

func NewNotFoundError(kind, key string) *NotFoundError {
	return &NotFoundError{Kind: kind, Key: key}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

type InvalidTransitionError struct {
	From      string
	Attempted string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.Attempted)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

type ExhaustedSequenceError struct {
	Year int
}

func (e *ExhaustedSequenceError) Error() string {
	return fmt.Sprintf("tracking code sequence for year %d is exhausted", e.Year)
}

func (e *ExhaustedSequenceError) Unwrap() error { return ErrExhaustedSequence }

type InconsistentTimelineError struct {
	TrackingCode string
}

func (e *InconsistentTimelineError) Error() string {
	if e.TrackingCode == "" {
		return "timeline is inconsistent"
	}
	return fmt.Sprintf("timeline for %s is inconsistent", e.TrackingCode)
}

func (e *InconsistentTimelineError) Unwrap() error { return ErrInconsistentTimeline }

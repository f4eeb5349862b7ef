package models

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("not found")
	ErrUpstream    = errors.New("upstream service error")
	ErrConsistency = errors.New("consistency error")
	ErrCanceled    = errors.New("canceled")

	ErrDimensionMismatch = fmt.Errorf("embedding dimension mismatch: %w", ErrValidation)
)

// Kind returns a short label for err suitable for logs and metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConsistency):
		return "consistency"
	case errors.Is(err, ErrUpstream), errors.Is(err, context.DeadlineExceeded):
		return "upstream"
	default:
		return "internal"
	}
}

// IsCanceled reports whether err stems from a client-initiated abort.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

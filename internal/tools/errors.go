package tools

import (
	"context"
	"errors"

	"github.com/tracklane/copilot/pkg/models"
)

// Error is a classified tool failure. Handlers return it so the executor
// can map failures onto the wire taxonomy without string matching.
type Error struct {
	Kind    models.ErrKind
	Message string
}

func (e *Error) Error() string { return e.Message }

// NotFound builds a not-found tool error.
func NotFound(message string) *Error {
	return &Error{Kind: models.ErrNotFound, Message: message}
}

// Validation builds a validation tool error.
func Validation(message string) *Error {
	return &Error{Kind: models.ErrValidation, Message: message}
}

// Classify maps an arbitrary handler error onto the error taxonomy.
// Unclassified errors are treated as upstream failures, which are the only
// transient class besides timeouts.
func Classify(err error) models.ErrKind {
	var toolErr *Error
	if errors.As(err, &toolErr) {
		return toolErr.Kind
	}
	var ambiguous *AmbiguousError
	if errors.As(err, &ambiguous) {
		return models.ErrValidation
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrTimeout
	}
	return models.ErrUpstream
}

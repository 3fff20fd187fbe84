package store

import "errors"

// Error Handling Guidelines:
// - Stores: wrap with fmt.Errorf("context: %w", err) and return the sentinels below
// - Services: map sentinels to apperrors.* values
// - Handlers: render AppError through middleware.ErrorHandler

var (
	// ErrNotFound indicates that a requested notification does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrForbidden indicates the notification exists but belongs to another owner.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict indicates an insert collided with an existing id.
	ErrConflict = errors.New("conflict")
)

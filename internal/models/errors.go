package models

import "errors"

// Error taxonomy for the whole service. Callers test with errors.Is; wrap
// with fmt.Errorf("%s: %w", op, err) so the category survives wrapping.
var (
	// ErrInvalidInput marks a malformed, oversized, or undecodable upload.
	// Raised before any collaborator call, so it never leaves side effects.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks a reference to a nonexistent image, job, detection
	// or tag.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition marks a job state-machine guard violation.
	ErrInvalidTransition = errors.New("invalid job transition")

	// ErrProcessing marks an inference or polygon-extraction failure for a
	// single image.
	ErrProcessing = errors.New("processing failed")

	// ErrStorage marks an object-store or database failure.
	ErrStorage = errors.New("storage failure")
)

// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidChunkID is returned when a chunk identifier is not of the
	// form "{baseID}:{chunkIndex}".
	ErrInvalidChunkID = errors.New("invalid chunk ID format")

	// ErrInvalidChunkIndex is returned when the index part of a chunk
	// identifier is not a non-negative integer.
	ErrInvalidChunkIndex = errors.New("invalid chunk index")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")
)

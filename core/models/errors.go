package models

import "errors"

var (
	// ErrEmptyBatch is returned when a batch is submitted without items
	ErrEmptyBatch = errors.New("batch has no items")
	// ErrInvalidContext is returned when the job context fails validation
	ErrInvalidContext = errors.New("invalid job context")
	// ErrJobNotFound is returned for unknown job ids
	ErrJobNotFound = errors.New("job not found")
)

package domain

import "errors"

var (
	// ErrNotFound is returned by repositories when the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidNoteRequest is the base error for note request validation failures.
	ErrInvalidNoteRequest = errors.New("invalid note request")
)

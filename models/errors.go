package models

import "errors"

var (
	// ErrNotFound is returned by lookups for ids that do not exist.
	ErrNotFound = errors.New("not found")

	// ErrEmptyText rejects reminder creation with no message body.
	ErrEmptyText = errors.New("reminder text is empty")
)

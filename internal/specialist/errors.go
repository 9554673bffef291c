package specialist

import "errors"

var (
	// ErrNotFound is returned for names that are not in the registry.
	ErrNotFound = errors.New("specialist not found")

	// ErrInvalidDefinition marks a definition unit that could not be parsed.
	ErrInvalidDefinition = errors.New("invalid specialist definition")

	// ErrNotWatchable is returned by Watch when the registry is not backed
	// by a directory on disk.
	ErrNotWatchable = errors.New("registry source cannot be watched")
)

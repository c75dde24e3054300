package governance

import "errors"

var (
	// ErrInvalidImportance is returned for an access importance outside [0, 1].
	ErrInvalidImportance = errors.New("importance must be within [0, 1]")
	// ErrNotFound is returned when an accessed unit does not exist.
	ErrNotFound = errors.New("unit not found")
	// ErrNotLive is returned when an accessed unit is expired or gone.
	ErrNotLive = errors.New("unit is not live")
)

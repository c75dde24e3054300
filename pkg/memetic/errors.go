package memetic

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned for a lifecycle move the state machine forbids.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	// ErrHashMismatch is returned when merging units whose content differs.
	ErrHashMismatch = errors.New("content hash mismatch")
)

// ClassificationFallback records that a source could not be classified and
// was downgraded to WORKING. It is logged, never returned to callers.
type ClassificationFallback struct {
	Source Source
}

func (e *ClassificationFallback) Error() string {
	return fmt.Sprintf("unknown source %q classified as %s", e.Source, CognitiveWorking)
}

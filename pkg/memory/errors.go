package memory

import (
	"errors"

	"github.com/harun/memcore/pkg/governance"
)

var (
	// ErrQuotaExceeded is returned by Ingest when new content would push the
	// counted units past the configured maximum.
	ErrQuotaExceeded = errors.New("memory quota exceeded")
	// ErrInvalidImportance is returned by Touch for an importance outside [0, 1].
	ErrInvalidImportance = governance.ErrInvalidImportance
	// ErrAccessDenied is returned when the principal on the context lacks
	// the operation on a unit.
	ErrAccessDenied = errors.New("access denied")
	// ErrEmptyPayload is returned by Ingest for a nil payload.
	ErrEmptyPayload = errors.New("payload is required")
)

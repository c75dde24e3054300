package memetic

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns a fresh, time-ordered unit id.
func NewID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}

// ValidID reports whether id parses as a ULID.
func ValidID(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}

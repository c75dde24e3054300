package cache

import "fmt"

// InvariantViolation reports an impossible cache configuration.
type InvariantViolation struct {
	Layer    int
	Capacity int
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("cache layer %d has negative capacity %d", e.Layer, e.Capacity)
}

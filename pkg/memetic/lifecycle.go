package memetic

import "fmt"

// Status is the lifecycle state of a unit.
type Status string

const (
	StatusCreated  Status = "CREATED"
	StatusActive   Status = "ACTIVE"
	StatusArchived Status = "ARCHIVED"
	StatusMerged   Status = "MERGED"
	StatusExpired  Status = "EXPIRED"
	StatusDeleted  Status = "DELETED"
)

// AllStatuses lists every lifecycle state in declaration order.
var AllStatuses = []Status{
	StatusCreated, StatusActive, StatusArchived, StatusMerged, StatusExpired, StatusDeleted,
}

var transitions = map[Status][]Status{
	StatusCreated:  {StatusActive},
	StatusActive:   {StatusArchived, StatusMerged, StatusExpired, StatusDeleted},
	StatusArchived: {StatusActive, StatusMerged, StatusExpired, StatusDeleted},
	StatusExpired:  {StatusDeleted},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Transition moves u to the target state or returns ErrInvalidTransition.
func (u *Unit) Transition(to Status) error {
	if !CanTransition(u.Status, to) {
		return fmt.Errorf("%w: %s -> %s (unit %s)", ErrInvalidTransition, u.Status, to, u.ID)
	}
	u.Status = to
	return nil
}

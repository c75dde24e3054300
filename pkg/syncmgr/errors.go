package syncmgr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRedirectLoop is returned when a chain of MERGED redirects exceeds
	// the configured depth.
	ErrRedirectLoop = errors.New("merge redirect chain too deep")
	// ErrUnknownBackend is returned for a backend name the routing table
	// does not hold.
	ErrUnknownBackend = errors.New("unknown backend")
)

// TxAbortedError reports a saga that failed and was fully compensated.
// Every backend is back to its state before the transaction.
type TxAbortedError struct {
	TxID    string
	UnitIDs []string
	Cause   error
}

func (e *TxAbortedError) Error() string {
	return fmt.Sprintf("transaction %s aborted (units %s): %v", e.TxID, strings.Join(e.UnitIDs, ","), e.Cause)
}

func (e *TxAbortedError) Unwrap() error { return e.Cause }

// PartialWriteError reports a saga whose compensation failed on at least one
// backend. The backends in NotRolledBack may hold data the store-of-record
// does not; they stay that way until reconciliation runs. The core never
// retries these.
type PartialWriteError struct {
	TxID          string
	UnitIDs       []string
	RolledBack    []string
	NotRolledBack []string
	Cause         error
	Compensation  error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("transaction %s partially written (units %s; rolled back [%s]; inconsistent [%s]): %v",
		e.TxID, strings.Join(e.UnitIDs, ","), strings.Join(e.RolledBack, ","), strings.Join(e.NotRolledBack, ","), e.Cause)
}

func (e *PartialWriteError) Unwrap() []error {
	return []error{e.Cause, e.Compensation}
}

// DuplicateRaceResolved is informational: two writers raced on the same
// content and the later one was folded into the earlier one's unit.
type DuplicateRaceResolved struct {
	ContentHash string
	SurvivorID  string
}

func (e *DuplicateRaceResolved) Error() string {
	return fmt.Sprintf("duplicate ingest of %s resolved into %s", e.ContentHash, e.SurvivorID)
}

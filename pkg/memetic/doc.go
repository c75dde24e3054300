// Package memetic defines the memetic unit, the uniform record every agent
// memory is stored as, together with its lifecycle and ingestion descriptors.
//
// Invariants:
// - unit_id is a ULID and is never reused.
// - source and cognitive_type never change after creation.
// - content_hash is a pure function of the payload.
// - links and parent references are ids, resolved by lookup.
// - a unit is in exactly one lifecycle state; MERGED and DELETED are terminal.
//
// Usage:
//
//	u := memetic.NewUnit(memetic.SourceUserInput, payload, hash, logger)
//	if err := u.Transition(memetic.StatusArchived); err != nil {
//		return err
//	}
package memetic

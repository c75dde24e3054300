// Package governance ages, archives, expires and merges memetic units.
//
// The engine holds only the synchronization manager and the deduplicator.
// Sweeps are explicit: call Sweep, or let a Scheduler run it on a cron
// spec. Salience is a pure function of stored anchors and the sweep clock,
// so sweeping twice without an access in between changes nothing.
package governance

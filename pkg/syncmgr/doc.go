// Package syncmgr keeps one logical memory space consistent across the
// routed backends.
//
// Invariants:
// - Writes run as sagas: every routed put lands, or the applied ones are undone.
// - A failed undo is reported as *PartialWriteError and queued for Reconcile; it is never retried implicitly.
// - Ingest of a content hash runs under that hash's token, so identical content yields one live unit.
// - Routing is resolved once at construction.
//
// Usage:
//
//	mgr, _ := syncmgr.New(syncmgr.Config{
//		Routing:  syncmgr.Routing{RecordStore: "docs"},
//		Adapters: []adapter.Adapter{docs, vectors},
//	})
//	res, err := mgr.Ingest(ctx, unit)
package syncmgr

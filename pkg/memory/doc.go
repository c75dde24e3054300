// Package memory is the external surface of the memory core: ingestion,
// retrieval, search, access recording and statistics over the routed
// backends.
//
// Invariants:
// - Ingest either returns the id of an ACTIVE, cache-warm unit or a typed error.
// - Ingesting content already held by a live unit returns that unit's id.
// - Search excludes ARCHIVED units unless asked and never returns MERGED ones.
// - A principal on the context (tracing.WithPrincipal) is checked against
//   each unit's access control; calls without one are trusted.
//
// Usage:
//
//	svc, _ := memory.New(memory.Config{Manager: mgr, Engine: engine})
//	defer svc.Close()
//	id, _ := svc.Ingest(ctx, "retry budget is three", memetic.SourceUserInput, memory.IngestOptions{})
//	for u, err := range svc.Search(ctx, "retry budget", false) {
//		...
//	}
//	_ = svc.Touch(ctx, id, 0.8)
package memory

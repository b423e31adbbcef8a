// Package service contains the application-specific use cases and business
// logic. It orchestrates interactions between domain objects and repositories
// (defined in internal/store) to fulfill application features.
//
// The central component is the EnrichmentService: it composes the task
// ledger, chunk, document, graph and counter stores into the atomic
// operations workers and operators call (claim, result merge, failure
// reporting, stale-lease recovery, status aggregation and backfill).
// Transactional boundaries live here; stores only ever execute single
// statements and are combined via store.RunInTransaction and WithTx.
package service

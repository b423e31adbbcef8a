// Package store defines interfaces for data persistence operations.
// These interfaces abstract the underlying data storage mechanism from
// the enrichment orchestration logic, allowing the ledger, chunk and
// document state machines to remain independent of the database backend.
package store

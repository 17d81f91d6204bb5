// Package schedule defines the core types and interfaces shared across the
// scrape pipeline: game records, the lookup ledger contract, execution
// handles, and the object-store key layout.
package schedule

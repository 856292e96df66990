// Package store provides persistent storage for keydrop using SQLite.
//
// # Architecture
//
// The store package splits persistence into three contracts:
//
//   - PoolStore: FIFO queue of unissued credential lines with atomic-once
//     claiming
//   - TokenLedger: append-mostly record of issued tokens and their status
//   - AuditStore: audit log of issuance activity
//
// SQLiteStore implements all three in a single struct; Store composes them
// for callers that need the whole surface.
//
// # Concurrency
//
// Exclusivity is enforced by the database, not by in-process locks: a claim
// is a conditional UPDATE that only applies while the entry is still
// unclaimed, and the affected-row count tells the caller whether it won.
// This holds across independent processes sharing the database file. Lost
// races retry forward against the next-oldest entry a bounded number of
// times.
//
// # SQLite Configuration
//
// WAL mode and a busy timeout are set through DSN pragmas so they apply to
// every pooled connection:
//
//	file:keydrop.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrNoEntries: Pool has no unclaimed entries left
//   - ErrTokenExists: Token string already present in the ledger
//   - ErrTokenRevoked: Access recorded against a revoked token
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests:
//
//	store := store.NewMockStore()
//	// store implements the full Store interface
//
// Use NewSQLiteStore with a t.TempDir() path for integration tests with
// real SQLite.
package store

// Package records is the local persistence layer for scan records.
//
// SQLiteRepository works over a dbx.DBTX, so the same code runs against the
// shared *sql.DB or inside a transaction (the destructive pull replaces the
// whole collection in one). Every write is a whole-record upsert keyed by id;
// there are no partial updates.
//
// The repository is sync-agnostic: it stores the Synced flag but never talks
// to the remote store.
package records

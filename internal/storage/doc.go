// Package storage is the campaign ledger: a durable, append-only record of
// posting outcomes plus the persisted rotation cursor.
//
// The backing store is a single SQLite file in WAL mode. One process writes;
// a status observer may open the same file read-only at the same time.
// Storage errors are never papered over with in-memory state: the ledger is
// the only thing that prevents duplicate posting across restarts.
package storage

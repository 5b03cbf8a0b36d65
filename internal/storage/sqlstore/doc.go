// Package sqlstore implements storage.Client over database/sql.
//
// Every query the client runs comes from configured statement templates (see
// internal/storage/statement), so any SQL backend can be targeted without code
// changes. The embedded defaults target SQLite via github.com/mattn/go-sqlite3.
//
// # Template parameters
//
//	row-select, row-delete      (rid)
//	column-update               (value, rid, column)
//	column-insert               (value, rid, column, keyspace, family)
//	column-delete               (rid, column)
//	find                        (column, value) per predicate, plus keyspace
//	                            and family where {2} and {3} appear
//
// row-select and find must return (column, value) and (rid, column, value)
// respectively; find results must be ordered by rid.
//
// # Lifecycle
//
// A Client is Passive until its first operation after the schema has been
// confirmed (alive). Activation prepares every row/column template on the
// client's pinned connection. Passivate closes those statements and every
// cursor or body stream still tracked, returning the client to Passive; the
// next operation activates it again.
//
// # Database Configuration
//
// For SQLite each pinned connection gets the same pragmas:
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package sqlstore

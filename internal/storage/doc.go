// Package storage defines the sparse-column storage contract shared by every
// backend.
//
// A logical row is addressed by (keyspace, family, key) and physically stored
// as a set of (rowid, column, value) tuples, where rowid comes from
// internal/rowid. Columns are sparse: a missing column means "never set or
// deleted", never "empty".
//
// # Write semantics
//
// Insert applies a Changes map column by column:
//   - string value: upsert (update, then insert if nothing was updated)
//   - nil value: delete; deleting an absent column is not an error
//   - []byte value: rejected with a configuration error, bodies must be
//     streamed through a ContentHelper
//
// A multi-column Insert is not atomic as a whole. Each column write is its own
// backend operation, so concurrent writers may interleave per column.
//
// # Cursors
//
// Find returns a Cursor that groups consecutive tuples sharing a rowid into
// one Record. The cursor owns its backend handle: it is released when the
// cursor is exhausted or closed, whichever happens first. The owning client
// keeps a Disposables registry only to force-close leftovers on shutdown.
//
// # Sessions
//
// A Client is used by one logical session at a time and performs no internal
// locking. Concurrency comes from each caller taking its own client from a
// backend pool.
package storage

package storage

import (
	"context"
	"io"
)

// Client is the sparse-column store seen by callers.
// Implementations live in sqlstore, memstore and badgerstore.
type Client interface {
	// Get returns every column of the row. An absent row yields an empty
	// Record and no error.
	Get(ctx context.Context, keyspace, family, key string) (Record, error)

	// Insert applies changes column by column. See the package doc for the
	// per-value semantics.
	Insert(ctx context.Context, keyspace, family, key string, changes Changes) error

	// Remove deletes every column of the row. Removing an absent row is not
	// an error.
	Remove(ctx context.Context, keyspace, family, key string) error

	// Find returns the rows of keyspace/family whose columns equal every
	// predicate. The caller owns the cursor and must close or exhaust it.
	Find(ctx context.Context, keyspace, family string, predicates Record) (Cursor, error)

	// StreamBodyIn writes a body through the configured ContentHelper and
	// persists the returned metadata on contentID. It returns that metadata.
	StreamBodyIn(ctx context.Context, keyspace, family, contentID, blockID string, meta Record, body io.Reader) (Record, error)

	// StreamBodyOut opens a body previously written with StreamBodyIn. If meta
	// is nil it is read from contentID. The stream is closed on client
	// shutdown if the caller has not closed it.
	StreamBodyOut(ctx context.Context, keyspace, family, contentID, blockID string, meta Record) (io.ReadCloser, error)

	// Close releases the client and everything it still tracks.
	Close() error
}

// ContentHelper chunks large bodies outside the column store.
// The store only keeps the metadata record it returns.
type ContentHelper interface {
	WriteBody(ctx context.Context, keyspace, family, contentID, blockID string, meta Record, body io.Reader) (Record, error)
	ReadBody(ctx context.Context, keyspace, family, blockID string, meta Record) (io.ReadCloser, error)
}

// Cursor is a forward-only sequence of logical records.
//
// Usage mirrors database/sql.Rows:
//
//	cur, err := client.Find(ctx, ks, cf, preds)
//	if err != nil { ... }
//	defer cur.Close()
//	for cur.Next() {
//		rec := cur.Record()
//	}
//	if err := cur.Err(); err != nil { ... }
type Cursor interface {
	Next() bool
	Record() Record
	Err() error
	Close() error
}

// Collect drains cur into a slice and closes it.
// Returns an empty slice (not nil) when there are no records.
func Collect(cur Cursor) ([]Record, error) {
	defer cur.Close()
	out := []Record{}
	for cur.Next() {
		out = append(out, cur.Record())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

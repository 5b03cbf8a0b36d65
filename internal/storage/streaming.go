package storage

import (
	"context"
	"io"

	"github.com/roach88/sparsemap/internal/rowid"
)

// StreamIn writes body through helper and persists the returned metadata on
// (keyspace, family, contentID) with c.Insert.
func StreamIn(ctx context.Context, c Client, helper ContentHelper, keyspace, family, contentID, blockID string, meta Record, body io.Reader) (Record, error) {
	if helper == nil {
		return nil, NewConfigurationError("stream body in", "no content helper configured")
	}
	if meta == nil {
		meta = Record{}
	}
	updated, err := helper.WriteBody(ctx, keyspace, family, contentID, blockID, meta, body)
	if err != nil {
		return nil, NewStorageError("stream body in", rowid.Key(keyspace, family, contentID), err)
	}
	if err := c.Insert(ctx, keyspace, family, contentID, ChangesFrom(updated)); err != nil {
		return nil, err
	}
	return updated, nil
}

// StreamOut opens a body through helper and tracks the stream in d.
// When meta is nil the metadata row is read from contentID first.
func StreamOut(ctx context.Context, c Client, helper ContentHelper, d *Disposables, keyspace, family, contentID, blockID string, meta Record) (io.ReadCloser, error) {
	if helper == nil {
		return nil, NewConfigurationError("stream body out", "no content helper configured")
	}
	if meta == nil {
		var err error
		meta, err = c.Get(ctx, keyspace, family, contentID)
		if err != nil {
			return nil, err
		}
	}
	in, err := helper.ReadBody(ctx, keyspace, family, blockID, meta)
	if err != nil {
		return nil, NewStorageError("stream body out", rowid.Key(keyspace, family, contentID), err)
	}
	return d.TrackReader(in), nil
}

// Package badgerstore implements storage.Client on a Badger key/value store.
//
// Each column is one Badger key:
//
//	keyspace 0x00 family 0x00 rowid 0x00 column  ->  value
//
// so a row is a contiguous key range and a family is a prefix. Find scans the
// family prefix and filters each row against the predicates. Every column
// write is its own transaction; there is no multi-column atomicity.
package badgerstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/roach88/sparsemap/internal/rowid"
	"github.com/roach88/sparsemap/internal/storage"
)

const sep = 0x00

// Options configures Open.
type Options struct {
	// Path is the Badger directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool

	// RowIDHash names the row id digest. Empty uses rowid.DefaultAlgorithm.
	RowIDHash string

	// Content handles streamed bodies. Optional.
	Content storage.ContentHelper

	// Logger receives Badger's internal logging. Defaults to a logrus logger
	// at warn level.
	Logger *logrus.Logger

	// AppLogger receives client logging. Defaults to slog.Default().
	AppLogger *slog.Logger
}

// DB is an open Badger store. Sessions take their own Client.
type DB struct {
	badger *badger.DB
	hasher *rowid.Hasher
	opts   Options
	logger *slog.Logger
}

// Open opens (or creates) the store described by opts.
func Open(opts Options) (*DB, error) {
	hasher, err := rowid.New(opts.RowIDHash)
	if err != nil {
		return nil, storage.NewConfigurationError("open", err.Error())
	}
	if !opts.InMemory && opts.Path == "" {
		return nil, storage.NewConfigurationError("open", "badger path is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetLevel(logrus.WarnLevel)
	}
	logger := opts.AppLogger
	if logger == nil {
		logger = slog.Default()
	}

	bopts := badger.DefaultOptions(opts.Path).WithLogger(opts.Logger)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true).WithLogger(opts.Logger)
	}
	bopts.SyncWrites = false

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, storage.NewConnectionError("open", "open badger store", err)
	}
	logger.Info("badger store opened", "path", opts.Path, "in_memory", opts.InMemory)
	return &DB{badger: db, hasher: hasher, opts: opts, logger: logger}, nil
}

// Client returns a new session.
func (d *DB) Client() *Client {
	return &Client{db: d, disposables: storage.NewDisposables(d.logger)}
}

// Close closes the underlying Badger store.
func (d *DB) Close() error {
	return d.badger.Close()
}

func familyPrefix(keyspace, family string) []byte {
	var b bytes.Buffer
	b.WriteString(keyspace)
	b.WriteByte(sep)
	b.WriteString(family)
	b.WriteByte(sep)
	return b.Bytes()
}

func rowPrefix(keyspace, family, rid string) []byte {
	p := familyPrefix(keyspace, family)
	p = append(p, rid...)
	return append(p, sep)
}

func columnKey(keyspace, family, rid, column string) []byte {
	return append(rowPrefix(keyspace, family, rid), column...)
}

// splitKey returns the rowid and column of a key under a family prefix.
func splitKey(key, prefix []byte) (rid, column string, ok bool) {
	rest := key[len(prefix):]
	i := bytes.IndexByte(rest, sep)
	if i < 0 {
		return "", "", false
	}
	return string(rest[:i]), string(rest[i+1:]), true
}

// Client is one session on a DB.
//
// Thread-safety: not safe for concurrent use.
type Client struct {
	db          *DB
	disposables *storage.Disposables
	closed      bool
}

var _ storage.Client = (*Client)(nil)

func (c *Client) check(op string) error {
	if c.closed {
		return storage.NewConnectionError(op, "client is closed", nil)
	}
	return nil
}

// Get returns every column of the row, or an empty Record.
func (c *Client) Get(ctx context.Context, keyspace, family, key string) (storage.Record, error) {
	if err := c.check("get"); err != nil {
		return nil, err
	}
	rid := c.db.hasher.RowID(keyspace, family, key)
	prefix := rowPrefix(keyspace, family, rid)
	rec := storage.Record{}
	err := c.db.badger.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			rec[string(item.Key()[len(prefix):])] = string(v)
		}
		return nil
	})
	if err != nil {
		return nil, storage.NewStorageError("get", rowid.Key(keyspace, family, key), err)
	}
	return rec, nil
}

// Insert applies changes column by column, one transaction per column.
func (c *Client) Insert(ctx context.Context, keyspace, family, key string, changes storage.Changes) error {
	if err := c.check("insert"); err != nil {
		return err
	}
	row := rowid.Key(keyspace, family, key)
	if err := storage.CheckChanges(row, changes); err != nil {
		return err
	}
	rid := c.db.hasher.RowID(keyspace, family, key)
	log := c.db.logger

	for _, col := range changes.Columns() {
		k := columnKey(keyspace, family, rid, col)
		var err error
		switch v := changes[col].(type) {
		case string:
			err = c.db.badger.Update(func(txn *badger.Txn) error {
				return txn.Set(k, []byte(v))
			})
			if err == nil {
				log.Debug("set column", "row", row, "column", col)
			}
		case nil:
			err = c.db.badger.Update(func(txn *badger.Txn) error {
				if _, err := txn.Get(k); errors.Is(err, badger.ErrKeyNotFound) {
					log.Debug("column not present, nothing removed", "row", row, "column", col)
					return nil
				} else if err != nil {
					return err
				}
				log.Debug("removed column", "row", row, "column", col)
				return txn.Delete(k)
			})
		}
		if err != nil {
			e := storage.NewStorageError("insert", row, err)
			e.Column = col
			return e
		}
	}
	return nil
}

// Remove deletes every column of the row.
func (c *Client) Remove(ctx context.Context, keyspace, family, key string) error {
	if err := c.check("remove"); err != nil {
		return err
	}
	rid := c.db.hasher.RowID(keyspace, family, key)
	prefix := rowPrefix(keyspace, family, rid)
	err := c.db.badger.Update(func(txn *badger.Txn) error {
		var keys [][]byte
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return storage.NewStorageError("remove", rowid.Key(keyspace, family, key), err)
	}
	return nil
}

// Find scans keyspace/family and returns the rows matching every predicate.
// Keys sort by rowid then column, so the scan already yields grouped tuples.
func (c *Client) Find(ctx context.Context, keyspace, family string, predicates storage.Record) (storage.Cursor, error) {
	if err := c.check("find"); err != nil {
		return nil, err
	}
	prefix := familyPrefix(keyspace, family)
	var tuples []storage.Tuple
	err := c.db.badger.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		var current []storage.Tuple
		flush := func() {
			if len(current) > 0 && rowMatches(current, predicates) {
				tuples = append(tuples, current...)
			}
			current = nil
		}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			rid, col, ok := splitKey(item.Key(), prefix)
			if !ok {
				continue
			}
			if len(current) > 0 && current[0].RowID != rid {
				flush()
			}
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			current = append(current, storage.Tuple{RowID: rid, Column: col, Value: string(v)})
		}
		flush()
		return nil
	})
	if err != nil {
		return nil, storage.NewStorageError("find", keyspace+":"+family, err)
	}
	cur := storage.NewGroupingCursor(storage.NewSliceSource(tuples), c.db.logger)
	cur.OnClose(c.disposables.Track(cur))
	return cur, nil
}

func rowMatches(row []storage.Tuple, predicates storage.Record) bool {
	for col, want := range predicates {
		found := false
		for _, t := range row {
			if t.Column == col && t.Value == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// StreamBodyIn writes a body through the content helper and persists its
// metadata on contentID.
func (c *Client) StreamBodyIn(ctx context.Context, keyspace, family, contentID, blockID string, meta storage.Record, body io.Reader) (storage.Record, error) {
	if err := c.check("stream body in"); err != nil {
		return nil, err
	}
	return storage.StreamIn(ctx, c, c.db.opts.Content, keyspace, family, contentID, blockID, meta, body)
}

// StreamBodyOut opens a body and tracks the stream until the client closes.
func (c *Client) StreamBodyOut(ctx context.Context, keyspace, family, contentID, blockID string, meta storage.Record) (io.ReadCloser, error) {
	if err := c.check("stream body out"); err != nil {
		return nil, err
	}
	return storage.StreamOut(ctx, c, c.db.opts.Content, c.disposables, keyspace, family, contentID, blockID, meta)
}

// Close force-closes tracked cursors and streams. The DB stays open.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.disposables.CloseAll()
}

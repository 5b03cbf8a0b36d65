// Package memstore implements storage.Client over in-memory maps.
//
// A Store holds the data and may be shared by many sessions; each session
// takes its own Client. Find scans the rows of the requested family.
package memstore

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/sparsemap/internal/rowid"
	"github.com/roach88/sparsemap/internal/storage"
)

// Options configures New.
type Options struct {
	// RowIDHash names the row id digest. Empty uses rowid.DefaultAlgorithm.
	RowIDHash string

	// Content handles streamed bodies. Optional.
	Content storage.ContentHelper

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Store is the shared in-memory data set.
//
// Thread-safety: Store is safe for concurrent use. Each column write takes
// the lock on its own, so a multi-column Insert is not atomic.
type Store struct {
	mu       sync.RWMutex
	rows     map[string]storage.Record
	families map[string]map[string]struct{}
	hasher   *rowid.Hasher
	opts     Options
	logger   *slog.Logger
}

// New returns an empty Store.
func New(opts Options) (*Store, error) {
	hasher, err := rowid.New(opts.RowIDHash)
	if err != nil {
		return nil, storage.NewConfigurationError("new store", err.Error())
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		rows:     make(map[string]storage.Record),
		families: make(map[string]map[string]struct{}),
		hasher:   hasher,
		opts:     opts,
		logger:   logger,
	}, nil
}

// MustNew is like New but panics on error. Use only in tests.
func MustNew(opts Options) *Store {
	s, err := New(opts)
	if err != nil {
		panic(err)
	}
	return s
}

// Client returns a new session on s.
func (s *Store) Client() *Client {
	return &Client{store: s, disposables: storage.NewDisposables(s.logger)}
}

// Rows returns the number of non-empty rows held.
func (s *Store) Rows() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func familyKey(keyspace, family string) string {
	return keyspace + "\x00" + family
}

// Client is one session on a Store.
//
// Thread-safety: not safe for concurrent use.
type Client struct {
	store       *Store
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
	s := c.store
	rid := s.hasher.RowID(keyspace, family, key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rows[rid].Clone(), nil
}

// Insert applies changes column by column.
func (c *Client) Insert(ctx context.Context, keyspace, family, key string, changes storage.Changes) error {
	if err := c.check("insert"); err != nil {
		return err
	}
	row := rowid.Key(keyspace, family, key)
	if err := storage.CheckChanges(row, changes); err != nil {
		return err
	}
	s := c.store
	rid := s.hasher.RowID(keyspace, family, key)
	fk := familyKey(keyspace, family)

	for _, col := range changes.Columns() {
		s.mu.Lock()
		switch v := changes[col].(type) {
		case string:
			r, ok := s.rows[rid]
			if !ok {
				r = storage.Record{}
				s.rows[rid] = r
				if s.families[fk] == nil {
					s.families[fk] = make(map[string]struct{})
				}
				s.families[fk][rid] = struct{}{}
			}
			r[col] = v
			s.logger.Debug("set column", "row", row, "column", col)
		case nil:
			r, ok := s.rows[rid]
			if _, present := r[col]; !ok || !present {
				s.logger.Debug("column not present, nothing removed", "row", row, "column", col)
				break
			}
			delete(r, col)
			if len(r) == 0 {
				s.dropRow(fk, rid)
			}
			s.logger.Debug("removed column", "row", row, "column", col)
		}
		s.mu.Unlock()
	}
	return nil
}

// dropRow removes rid entirely. Callers hold s.mu.
func (s *Store) dropRow(fk, rid string) {
	delete(s.rows, rid)
	if f := s.families[fk]; f != nil {
		delete(f, rid)
		if len(f) == 0 {
			delete(s.families, fk)
		}
	}
}

// Remove deletes every column of the row.
func (c *Client) Remove(ctx context.Context, keyspace, family, key string) error {
	if err := c.check("remove"); err != nil {
		return err
	}
	s := c.store
	rid := s.hasher.RowID(keyspace, family, key)
	s.mu.Lock()
	s.dropRow(familyKey(keyspace, family), rid)
	s.mu.Unlock()
	return nil
}

// Find scans the rows of keyspace/family for those matching every predicate.
func (c *Client) Find(ctx context.Context, keyspace, family string, predicates storage.Record) (storage.Cursor, error) {
	if err := c.check("find"); err != nil {
		return nil, err
	}
	s := c.store
	var tuples []storage.Tuple
	s.mu.RLock()
	for rid := range s.families[familyKey(keyspace, family)] {
		r := s.rows[rid]
		if !matches(r, predicates) {
			continue
		}
		for col, v := range r {
			tuples = append(tuples, storage.Tuple{RowID: rid, Column: col, Value: v})
		}
	}
	s.mu.RUnlock()

	storage.SortTuples(tuples)
	cur := storage.NewGroupingCursor(storage.NewSliceSource(tuples), s.logger)
	cur.OnClose(c.disposables.Track(cur))
	return cur, nil
}

func matches(r storage.Record, predicates storage.Record) bool {
	for col, want := range predicates {
		if got, ok := r[col]; !ok || got != want {
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
	return storage.StreamIn(ctx, c, c.store.opts.Content, keyspace, family, contentID, blockID, meta, body)
}

// StreamBodyOut opens a body; the stream is closed with the client if the
// caller has not closed it.
func (c *Client) StreamBodyOut(ctx context.Context, keyspace, family, contentID, blockID string, meta storage.Record) (io.ReadCloser, error) {
	if err := c.check("stream body out"); err != nil {
		return nil, err
	}
	return storage.StreamOut(ctx, c, c.store.opts.Content, c.disposables, keyspace, family, contentID, blockID, meta)
}

// Close force-closes tracked cursors and streams. Safe to call more than once.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.disposables.CloseAll()
}

package storage

import (
	"log/slog"
	"sort"
)

// Tuple is one physical row of a find result.
type Tuple struct {
	RowID  string
	Column string
	Value  string
}

// TupleSource yields physical tuples ordered by RowID.
// Next returns ok=false once the source is exhausted.
type TupleSource interface {
	Next() (t Tuple, ok bool, err error)
	Close() error
}

// GroupingCursor turns an ordered tuple stream into logical records.
//
// It reads one tuple ahead to find rowid boundaries. Consecutive tuples with
// the same rowid form one Record; a repeated column inside a group is logged
// and the last value wins. The source is closed exactly once, either when it
// runs dry or on Close.
//
// Thread-safety: not safe for concurrent use.
type GroupingCursor struct {
	src     TupleSource
	logger  *slog.Logger
	pending *Tuple
	current Record
	closed  bool
	err     error
	onClose []func()
}

// NewGroupingCursor wraps src. A nil logger uses slog.Default().
func NewGroupingCursor(src TupleSource, logger *slog.Logger) *GroupingCursor {
	if logger == nil {
		logger = slog.Default()
	}
	return &GroupingCursor{src: src, logger: logger}
}

// OnClose registers fn to run once when the cursor releases its source.
func (c *GroupingCursor) OnClose(fn func()) {
	c.onClose = append(c.onClose, fn)
}

// Next advances to the next logical record.
func (c *GroupingCursor) Next() bool {
	c.current = nil
	if c.closed {
		return false
	}

	var first Tuple
	if c.pending != nil {
		first = *c.pending
		c.pending = nil
	} else {
		t, ok, err := c.src.Next()
		if err != nil {
			c.fail(err)
			return false
		}
		if !ok {
			c.logger.Debug("no more records")
			c.Close()
			return false
		}
		first = t
	}

	rec := Record{first.Column: first.Value}
	for {
		t, ok, err := c.src.Next()
		if err != nil {
			c.fail(err)
			return false
		}
		if !ok {
			// Source drained: release it now and still yield the buffered record.
			c.Close()
			c.current = rec
			return true
		}
		if t.RowID != first.RowID {
			c.pending = &t
			c.current = rec
			return true
		}
		if _, dup := rec[t.Column]; dup {
			c.logger.Warn("find generated same column more than once",
				"rowid", t.RowID, "column", t.Column, "value", t.Value)
		}
		rec[t.Column] = t.Value
	}
}

// Record returns the record produced by the last successful Next.
func (c *GroupingCursor) Record() Record {
	return c.current
}

// Err returns the error that stopped iteration, if any.
func (c *GroupingCursor) Err() error {
	return c.err
}

// Close releases the source. Safe to call more than once.
func (c *GroupingCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.pending = nil
	err := c.src.Close()
	if err != nil {
		c.logger.Warn("failed to close find cursor", "error", err)
	}
	for _, fn := range c.onClose {
		fn()
	}
	c.onClose = nil
	return err
}

func (c *GroupingCursor) fail(err error) {
	c.logger.Error("find cursor failed", "error", err)
	c.err = err
	c.Close()
}

// SliceSource serves tuples from memory. Backends that materialize find
// results (memstore, badgerstore) feed a GroupingCursor through it.
type SliceSource struct {
	tuples []Tuple
	pos    int
	closed bool
}

// NewSliceSource returns a source over tuples, in the given order.
func NewSliceSource(tuples []Tuple) *SliceSource {
	return &SliceSource{tuples: tuples}
}

// SortTuples orders tuples by rowid, then column, as a TupleSource requires.
func SortTuples(tuples []Tuple) {
	sort.SliceStable(tuples, func(i, j int) bool {
		if tuples[i].RowID != tuples[j].RowID {
			return tuples[i].RowID < tuples[j].RowID
		}
		return tuples[i].Column < tuples[j].Column
	})
}

func (s *SliceSource) Next() (Tuple, bool, error) {
	if s.closed || s.pos >= len(s.tuples) {
		return Tuple{}, false, nil
	}
	t := s.tuples[s.pos]
	s.pos++
	return t, true, nil
}

func (s *SliceSource) Close() error {
	s.closed = true
	s.tuples = nil
	return nil
}

// Closed reports whether Close has been called.
func (s *SliceSource) Closed() bool {
	return s.closed
}

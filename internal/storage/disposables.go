package storage

import (
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
)

// Disposables tracks resources a client has handed out (cursors, body
// streams) so they can be force-closed when the client shuts down.
//
// The registry does not own the resources: each one is released by its
// holder, and untracks itself when it does. CloseAll is the best-effort sweep
// for whatever is left.
type Disposables struct {
	mu     sync.Mutex
	next   int
	items  map[int]io.Closer
	logger *slog.Logger
}

// NewDisposables returns an empty registry. A nil logger uses slog.Default().
func NewDisposables(logger *slog.Logger) *Disposables {
	if logger == nil {
		logger = slog.Default()
	}
	return &Disposables{items: make(map[int]io.Closer), logger: logger}
}

// Track registers c and returns the function that forgets it again.
// The returned function is safe to call more than once.
func (d *Disposables) Track(c io.Closer) (untrack func()) {
	d.mu.Lock()
	id := d.next
	d.next++
	d.items[id] = c
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.items, id)
		d.mu.Unlock()
	}
}

// TrackReader registers rc and returns a wrapper whose Close is idempotent
// and untracks it.
func (d *Disposables) TrackReader(rc io.ReadCloser) io.ReadCloser {
	t := &trackedReader{ReadCloser: rc}
	t.untrack = d.Track(t)
	return t
}

// Len returns the number of resources still tracked.
func (d *Disposables) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

// CloseAll closes every tracked resource once, in registration order, and
// empties the registry. Failures are logged and joined.
func (d *Disposables) CloseAll() error {
	d.mu.Lock()
	ids := make([]int, 0, len(d.items))
	for id := range d.items {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	closers := make([]io.Closer, 0, len(ids))
	for _, id := range ids {
		closers = append(closers, d.items[id])
	}
	d.items = make(map[int]io.Closer)
	d.mu.Unlock()

	var errs []error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			d.logger.Warn("failed to dispose resource", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type trackedReader struct {
	io.ReadCloser
	untrack func()
	closed  bool
}

func (t *trackedReader) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.untrack()
	return t.ReadCloser.Close()
}

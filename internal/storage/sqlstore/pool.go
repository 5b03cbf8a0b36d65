package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/sparsemap/internal/storage"
	"github.com/roach88/sparsemap/internal/storage/statement"
)

// DefaultDriver is the database/sql driver used when none is configured.
const DefaultDriver = "sqlite3"

// Options configures Open.
type Options struct {
	// Driver is the database/sql driver name. Defaults to DefaultDriver.
	Driver string

	// DSN is the data source name, a file path for SQLite.
	DSN string

	// Templates are the statement templates. Nil uses DefaultTemplates.
	Templates statement.Templates

	// SchemaFS and Schemas locate the bootstrap scripts. When Schemas is
	// empty the embedded SQLite schema is used.
	SchemaFS fs.FS
	Schemas  []string

	// Content handles streamed bodies. Optional.
	Content storage.ContentHelper

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Pool hands out one Client per session, each pinned to its own connection.
// The schema is checked once when the pool opens.
//
// Thread-safety: Pool methods are safe for concurrent use; the clients it
// returns are not.
type Pool struct {
	db      *sql.DB
	opts    Options
	logger  *slog.Logger
	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
}

// Open opens the database, verifies it answers and bootstraps the schema.
// A bootstrap failure closes the database and is returned as a connection
// error.
func Open(ctx context.Context, opts Options) (*Pool, error) {
	if opts.Driver == "" {
		opts.Driver = DefaultDriver
	}
	if opts.Templates == nil {
		opts.Templates = DefaultTemplates()
	}
	if len(opts.Schemas) == 0 {
		opts.SchemaFS = defaults
		opts.Schemas = []string{DefaultSchema}
	}
	if opts.SchemaFS == nil {
		opts.SchemaFS = os.DirFS(".")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open(opts.Driver, opts.DSN)
	if err != nil {
		return nil, storage.NewConnectionError("open", "failed to open database", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, storage.NewConnectionError("open", "failed to connect to database", err)
	}

	p := &Pool{db: db, opts: opts, logger: logger, clients: make(map[*Client]struct{})}

	boot, err := p.newClient(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	err = boot.CheckSchema(ctx, opts.SchemaFS, opts.Schemas...)
	boot.Close()
	if err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// Client returns a new alive client on its own connection.
// The caller must Close it.
func (p *Pool) Client(ctx context.Context) (*Client, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, storage.NewConnectionError("client", "pool is closed", nil)
	}
	c, err := p.newClient(ctx)
	if err != nil {
		return nil, err
	}
	c.SetAlive()
	return c, nil
}

func (p *Pool) newClient(ctx context.Context) (*Client, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, storage.NewConnectionError("client", "failed to obtain connection", err)
	}
	if p.opts.Driver == DefaultDriver {
		if err := applyPragmas(ctx, conn); err != nil {
			conn.Close()
			return nil, storage.NewConnectionError("client", "failed to apply pragmas", err)
		}
	}
	c, err := NewClient(conn, ClientOptions{
		Templates: p.opts.Templates,
		Content:   p.opts.Content,
		Logger:    p.logger,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}

	p.mu.Lock()
	p.clients[c] = struct{}{}
	p.mu.Unlock()
	c.onClose = func() {
		p.mu.Lock()
		delete(p.clients, c)
		p.mu.Unlock()
	}
	return c, nil
}

// Close force-closes outstanding clients and the database.
// Safe to call more than once.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	clients := make([]*Client, 0, len(p.clients))
	for c := range p.clients {
		clients = append(clients, c)
	}
	p.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	return p.db.Close()
}

// applyPragmas sets required SQLite configuration on conn.
func applyPragmas(ctx context.Context, conn *sql.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/sparsemap/internal/rowid"
	"github.com/roach88/sparsemap/internal/storage"
	"github.com/roach88/sparsemap/internal/storage/statement"
)

// Client is a storage.Client bound to one pinned database connection.
//
// Thread-safety: a Client serves one session at a time and does no locking.
type Client struct {
	conn        *sql.Conn
	resolver    *statement.Resolver
	hasher      *rowid.Hasher
	content     storage.ContentHelper
	logger      *slog.Logger
	disposables *storage.Disposables

	alive    bool
	active   bool
	closed   bool
	prepared map[string]*sql.Stmt
	onClose  func()
}

var _ storage.Client = (*Client)(nil)

// ClientOptions configures NewClient.
type ClientOptions struct {
	// Templates are the statement templates. Nil uses DefaultTemplates.
	Templates statement.Templates

	// Content handles streamed bodies. Optional.
	Content storage.ContentHelper

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewClient wraps conn. The client starts Passive and not alive; call
// CheckSchema or SetAlive before use.
func NewClient(conn *sql.Conn, opts ClientOptions) (*Client, error) {
	templates := opts.Templates
	if templates == nil {
		templates = DefaultTemplates()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hasher, err := rowid.New(templates[statement.OptionRowIDHash])
	if err != nil {
		return nil, storage.NewConfigurationError("new client", err.Error())
	}
	return &Client{
		conn:        conn,
		resolver:    statement.NewResolver(templates),
		hasher:      hasher,
		content:     opts.Content,
		logger:      logger,
		disposables: storage.NewDisposables(logger),
		prepared:    make(map[string]*sql.Stmt),
	}, nil
}

// SetAlive marks the schema as confirmed, allowing activation.
func (c *Client) SetAlive() {
	c.alive = true
}

// Active reports whether prepared statements are currently held.
func (c *Client) Active() bool {
	return c.active
}

// RowID returns the physical row id this client uses for a row key.
func (c *Client) RowID(keyspace, family, key string) string {
	return c.hasher.RowID(keyspace, family, key)
}

// startUp activates the client if it is alive and Passive.
func (c *Client) startUp(ctx context.Context) error {
	if c.closed {
		return storage.NewConnectionError("activate", "client is closed", nil)
	}
	if c.active {
		return nil
	}
	if !c.alive {
		c.logger.Info("delaying activation, connection not alive")
		return storage.NewConnectionError("activate", "connection not alive", nil)
	}
	c.logger.Debug("activating client")
	for _, key := range c.resolver.PreparedKeys() {
		tmpl, _ := c.resolver.Template(key)
		stmt, err := c.conn.PrepareContext(ctx, tmpl)
		if err != nil {
			c.closePrepared()
			return storage.NewStorageError("activate", "", fmt.Errorf("prepare %s: %w", key, err))
		}
		c.prepared[key] = stmt
	}
	c.active = true
	return nil
}

// Passivate releases every prepared statement and every tracked cursor or
// stream. A Passive client re-activates on its next operation.
func (c *Client) Passivate() error {
	if !c.active {
		return nil
	}
	c.logger.Info("passivating client")
	c.closePrepared()
	err := c.disposables.CloseAll()
	c.active = false
	return err
}

func (c *Client) closePrepared() {
	for key, stmt := range c.prepared {
		if err := stmt.Close(); err != nil {
			c.logger.Debug("failed to close statement", "key", key, "error", err)
		}
	}
	c.prepared = make(map[string]*sql.Stmt)
}

// Close passivates the client and releases its connection.
// Safe to call more than once.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	err := c.Passivate()
	if dErr := c.disposables.CloseAll(); dErr != nil {
		err = errors.Join(err, dErr)
	}
	c.closed = true
	if cErr := c.conn.Close(); cErr != nil {
		c.logger.Error("failed to close connection", "error", cErr)
		err = errors.Join(err, cErr)
	}
	if c.onClose != nil {
		c.onClose()
	}
	c.logger.Debug("connection closed")
	return err
}

func (c *Client) statement(op, keyspace, family, rid string) (*sql.Stmt, error) {
	key, err := c.resolver.ResolveKey(op, keyspace, family, rid)
	if err != nil {
		return nil, err
	}
	stmt, ok := c.prepared[key]
	if !ok {
		return nil, storage.NewConfigurationError("resolve statement", fmt.Sprintf("template %s is not prepared", key))
	}
	return stmt, nil
}

// Get returns every column of the row, or an empty Record.
func (c *Client) Get(ctx context.Context, keyspace, family, key string) (storage.Record, error) {
	rid := c.hasher.RowID(keyspace, family, key)
	row := rowid.Key(keyspace, family, key)
	if err := c.startUp(ctx); err != nil {
		return nil, err
	}
	stmt, err := c.statement(statement.RowSelect, keyspace, family, rid)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, rid)
	if err != nil {
		c.logger.Warn("failed to perform get", "row", row, "error", err)
		return nil, storage.NewStorageError("get", row, err)
	}
	defer rows.Close()

	result := storage.Record{}
	for rows.Next() {
		var col string
		var val sql.NullString
		if err := rows.Scan(&col, &val); err != nil {
			return nil, storage.NewStorageError("get", row, err)
		}
		result[col] = val.String
	}
	if err := rows.Err(); err != nil {
		return nil, storage.NewStorageError("get", row, err)
	}
	return result, nil
}

// Insert applies changes column by column.
func (c *Client) Insert(ctx context.Context, keyspace, family, key string, changes storage.Changes) error {
	row := rowid.Key(keyspace, family, key)
	if err := storage.CheckChanges(row, changes); err != nil {
		return err
	}
	if err := c.startUp(ctx); err != nil {
		return err
	}
	rid := c.hasher.RowID(keyspace, family, key)

	update, err := c.statement(statement.ColumnUpdate, keyspace, family, rid)
	if err != nil {
		return err
	}
	insert, err := c.statement(statement.ColumnInsert, keyspace, family, rid)
	if err != nil {
		return err
	}
	remove, err := c.statement(statement.ColumnDelete, keyspace, family, rid)
	if err != nil {
		return err
	}

	for _, col := range changes.Columns() {
		switch v := changes[col].(type) {
		case string:
			n, err := execAffected(ctx, update, v, rid, col)
			if err != nil {
				c.logger.Warn("failed to perform update", "row", row, "column", col, "error", err)
				return storage.NewStorageError("insert", row, err)
			}
			if n > 0 {
				c.logger.Debug("updated column", "row", row, "column", col)
				continue
			}
			n, err = execAffected(ctx, insert, v, rid, col, keyspace, family)
			if err != nil {
				c.logger.Warn("failed to perform insert", "row", row, "column", col, "error", err)
				return storage.NewStorageError("insert", row, err)
			}
			if n == 0 {
				return &storage.Error{
					Code:    storage.ErrCodeStorage,
					Op:      "insert",
					Message: "failed to save",
					Row:     row,
					Column:  col,
				}
			}
			c.logger.Debug("inserted column", "row", row, "column", col)
		case nil:
			n, err := execAffected(ctx, remove, rid, col)
			if err != nil {
				return storage.NewStorageError("insert", row, err)
			}
			if n == 0 {
				c.logger.Debug("column not present, nothing removed", "row", row, "column", col)
			} else {
				c.logger.Debug("removed column", "row", row, "column", col)
			}
		}
	}
	return nil
}

func execAffected(ctx context.Context, stmt *sql.Stmt, args ...any) (int64, error) {
	res, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Remove deletes every column of the row.
func (c *Client) Remove(ctx context.Context, keyspace, family, key string) error {
	row := rowid.Key(keyspace, family, key)
	if err := c.startUp(ctx); err != nil {
		return err
	}
	rid := c.hasher.RowID(keyspace, family, key)
	stmt, err := c.statement(statement.RowDelete, keyspace, family, rid)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, rid); err != nil {
		c.logger.Warn("failed to perform delete", "row", row, "error", err)
		return storage.NewStorageError("remove", row, err)
	}
	return nil
}

// StreamBodyIn writes a body through the content helper and persists its
// metadata on contentID.
func (c *Client) StreamBodyIn(ctx context.Context, keyspace, family, contentID, blockID string, meta storage.Record, body io.Reader) (storage.Record, error) {
	return storage.StreamIn(ctx, c, c.content, keyspace, family, contentID, blockID, meta, body)
}

// StreamBodyOut opens a body; the stream is closed on Passivate if the
// caller has not closed it.
func (c *Client) StreamBodyOut(ctx context.Context, keyspace, family, contentID, blockID string, meta storage.Record) (io.ReadCloser, error) {
	if err := c.startUp(ctx); err != nil {
		return nil, err
	}
	return storage.StreamOut(ctx, c, c.content, c.disposables, keyspace, family, contentID, blockID, meta)
}

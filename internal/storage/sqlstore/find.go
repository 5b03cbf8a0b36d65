package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/roach88/sparsemap/internal/storage"
)

// Find assembles the find template for predicates and returns a cursor over
// the matching rows. The cursor owns the statement and result set.
func (c *Client) Find(ctx context.Context, keyspace, family string, predicates storage.Record) (storage.Cursor, error) {
	if err := c.startUp(ctx); err != nil {
		return nil, err
	}
	ft, err := c.resolver.ResolveFind(keyspace, family)
	if err != nil {
		return nil, err
	}
	query, args := ft.Build(keyspace, family, predicates)
	c.logger.Debug("preparing find", "sql", query, "params", len(args))

	stmt, err := c.conn.PrepareContext(ctx, query)
	if err != nil {
		c.logger.Error("failed to prepare find", "sql", query, "error", err)
		return nil, &storage.Error{Code: storage.ErrCodeStorage, Op: "find", Message: "statement was " + query, Err: err}
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		stmt.Close()
		c.logger.Error("failed to execute find", "sql", query, "error", err)
		return nil, &storage.Error{Code: storage.ErrCodeStorage, Op: "find", Message: "statement was " + query, Err: err}
	}

	// Ownership of stmt and rows passes to the cursor from here on.
	cur := storage.NewGroupingCursor(&rowsSource{stmt: stmt, rows: rows}, c.logger)
	cur.OnClose(c.disposables.Track(cur))
	return cur, nil
}

// rowsSource adapts a (rid, column, value) result set to storage.TupleSource.
type rowsSource struct {
	stmt *sql.Stmt
	rows *sql.Rows
}

func (s *rowsSource) Next() (storage.Tuple, bool, error) {
	if !s.rows.Next() {
		return storage.Tuple{}, false, s.rows.Err()
	}
	var rid, col string
	var val sql.NullString
	if err := s.rows.Scan(&rid, &col, &val); err != nil {
		return storage.Tuple{}, false, err
	}
	return storage.Tuple{RowID: rid, Column: col, Value: val.String}, true, nil
}

func (s *rowsSource) Close() error {
	return errors.Join(s.rows.Close(), s.stmt.Close())
}

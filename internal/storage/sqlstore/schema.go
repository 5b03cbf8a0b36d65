package sqlstore

import (
	"context"
	"errors"
	"io/fs"

	"github.com/roach88/sparsemap/internal/storage"
	"github.com/roach88/sparsemap/internal/storage/statement"
)

// Validate runs the schema-validate template and reports whether the
// connection answered.
func (c *Client) Validate(ctx context.Context) bool {
	query, ok := c.resolver.Template(statement.SchemaValidate)
	if !ok {
		c.logger.Warn("no schema-validate template configured")
		return false
	}
	rows, err := c.conn.QueryContext(ctx, query)
	if err != nil {
		c.logger.Warn("failed to validate connection", "error", err)
		return false
	}
	rows.Close()
	return true
}

// CheckSchema confirms the schema exists or creates it, then marks the
// client alive.
//
// The schema-check template is tried first. If it fails, each named script in
// fsys is tried in turn; the first one that exists is executed statement by
// statement. A failing statement is logged and skipped. If no script can be
// found, or the connection itself is unusable, a connection error is
// returned and the client stays not alive.
func (c *Client) CheckSchema(ctx context.Context, fsys fs.FS, names ...string) error {
	if err := c.conn.PingContext(ctx); err != nil {
		return storage.NewConnectionError("check schema", "connection unusable", err)
	}

	if query, ok := c.resolver.Template(statement.SchemaCheck); ok {
		rows, err := c.conn.QueryContext(ctx, query)
		if err == nil {
			rows.Close()
			c.logger.Info("schema exists")
			c.alive = true
			return nil
		}
		c.logger.Info("schema does not exist", "reason", err)
	}

	for _, name := range names {
		f, err := fsys.Open(name)
		if errors.Is(err, fs.ErrNotExist) {
			c.logger.Info("no schema found", "location", name)
			continue
		}
		if err != nil {
			return storage.NewConnectionError("check schema", "failed to open "+name, err)
		}
		stmts, err := statement.SplitScript(f, statement.DefaultEndOfStatement, statement.DefaultComment)
		f.Close()
		if err != nil {
			return storage.NewConnectionError("check schema", "failed to read "+name, err)
		}
		for _, st := range stmts {
			if _, err := c.conn.ExecContext(ctx, st.SQL); err != nil {
				c.logger.Warn("SQL ERROR", "location", name, "line", st.Line, "sql", st.SQL, "error", err)
				continue
			}
			c.logger.Info("SQL OK", "location", name, "line", st.Line, "sql", st.SQL)
		}
		c.logger.Info("schema created", "location", name)
		c.alive = true
		return nil
	}
	return storage.NewConnectionError("check schema", "no schema script found", nil)
}

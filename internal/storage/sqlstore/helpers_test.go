package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// createTestPool opens a pool on a fresh SQLite file.
func createTestPool(t *testing.T, opts Options) *Pool {
	t.Helper()
	if opts.DSN == "" {
		opts.DSN = filepath.Join(t.TempDir(), "test.db")
	}
	p, err := Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

// createTestClient returns a client from a fresh default pool.
func createTestClient(t *testing.T) *Client {
	t.Helper()
	p := createTestPool(t, Options{})
	c, err := p.Client(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

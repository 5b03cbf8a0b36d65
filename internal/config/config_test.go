package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, BackendMemory, c.Backend)
	assert.Equal(t, "sha256", c.RowIDHash)
	assert.Equal(t, "n", c.Keyspace)
	assert.Equal(t, "au", c.AuthorizableFamily)
	assert.Equal(t, "admin", c.Admin)
	assert.Equal(t, "admin", c.User)
	assert.NoError(t, c.Validate())
}

func TestParse_YAML(t *testing.T) {
	c, err := Parse([]byte(`
backend: sqlite
path: data/store.db
rowid_hash: sha1
user: alice
content:
  dir: bodies
  block_size: 1024
`), "yaml")
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, c.Backend)
	assert.Equal(t, "sha1", c.RowIDHash)
	assert.Equal(t, "alice", c.User)
	assert.Equal(t, "admin", c.Admin)
	assert.Equal(t, int64(1024), c.Content.BlockSize)
}

func TestParse_NormalizedRowIDHash(t *testing.T) {
	c, err := Parse([]byte("backend: memory\nrowid_hash: sha256+nfc\n"), "yaml")
	require.NoError(t, err)
	assert.Equal(t, "sha256+nfc", c.RowIDHash)
}

func TestParse_YAMLRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("backend: memory\nbackedn: sqlite\n"), "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backedn")
}

func TestParse_EmptyYAMLIsDefault(t *testing.T) {
	c, err := Parse(nil, "yml")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestParse_CUE(t *testing.T) {
	c, err := Parse([]byte(`
backend: "badger"
path:    "/var/lib/sparsemap"
keyspace: "k"
content: block_size: 2048
`), "cue")
	require.NoError(t, err)
	assert.Equal(t, BackendBadger, c.Backend)
	assert.Equal(t, "/var/lib/sparsemap", c.Path)
	assert.Equal(t, "k", c.Keyspace)
	assert.Equal(t, int64(2048), c.Content.BlockSize)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"backend: postgres\n":                   "backend",
		"backend: sqlite\n":                     "path",
		"backend: memory\nrowid_hash: crc32\n":  "rowid_hash",
		"backend: memory\nstatements: s.yaml\n": "statements",
		"content:\n  block_size: -1\n":          "block_size",
		"admin: a;b\n":                          "admin",
	}
	for doc, field := range cases {
		_, err := Parse([]byte(doc), "yaml")
		require.Error(t, err, doc)
		assert.Contains(t, err.Error(), field, doc)
	}
	_, err := Parse([]byte("{}"), "toml")
	assert.Error(t, err)
}

func TestLoad_ResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sparsemap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend: sqlite
path: store.db
statements: /etc/statements.yaml
content:
  dir: bodies
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "store.db"), c.Path)
	assert.Equal(t, "/etc/statements.yaml", c.Statements)
	assert.Equal(t, filepath.Join(dir, "bodies"), c.Content.Dir)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

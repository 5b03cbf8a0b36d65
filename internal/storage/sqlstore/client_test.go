package sqlstore

import (
	"context"
	"io"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sparsemap/internal/rowid"
	"github.com/roach88/sparsemap/internal/storage"
	"github.com/roach88/sparsemap/internal/storage/statement"
)

func TestGet_AbsentRowIsEmpty(t *testing.T) {
	c := createTestClient(t)
	rec, err := c.Get(context.Background(), "n", "cf", "missing")
	require.NoError(t, err)
	assert.NotNil(t, rec)
	assert.Empty(t, rec)
}

func TestInsert_RoundTrip(t *testing.T) {
	c := createTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Insert(ctx, "n", "cf", "k", storage.Changes{"a": "1", "b": "2", "c": ""}))
	rec, err := c.Get(ctx, "n", "cf", "k")
	require.NoError(t, err)
	assert.Equal(t, storage.Record{"a": "1", "b": "2", "c": ""}, rec)

	// Overwrite one column, delete another, leave the rest.
	require.NoError(t, c.Insert(ctx, "n", "cf", "k", storage.Changes{"a": "10", "b": nil}))
	rec, err = c.Get(ctx, "n", "cf", "k")
	require.NoError(t, err)
	assert.Equal(t, storage.Record{"a": "10", "c": ""}, rec)

	// Other rows are untouched.
	rec, err = c.Get(ctx, "n", "other", "k")
	require.NoError(t, err)
	assert.Empty(t, rec)
}

func TestInsert_DeleteAbsentColumnIsNotError(t *testing.T) {
	c := createTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Insert(ctx, "n", "cf", "k", storage.Changes{"never": nil}))
	require.NoError(t, c.Insert(ctx, "n", "cf", "k", storage.Changes{"never": nil}))
}

func TestInsert_RejectsBinaryBeforeWriting(t *testing.T) {
	c := createTestClient(t)
	ctx := context.Background()

	err := c.Insert(ctx, "n", "cf", "k", storage.Changes{"a": "1", "body": []byte("blob")})
	require.Error(t, err)
	assert.True(t, storage.IsConfigurationError(err))

	rec, err := c.Get(ctx, "n", "cf", "k")
	require.NoError(t, err)
	assert.Empty(t, rec)
}

func TestRemove_Idempotent(t *testing.T) {
	c := createTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Insert(ctx, "n", "cf", "k", storage.Changes{"a": "1", "b": "2"}))
	require.NoError(t, c.Remove(ctx, "n", "cf", "k"))
	rec, err := c.Get(ctx, "n", "cf", "k")
	require.NoError(t, err)
	assert.Empty(t, rec)

	require.NoError(t, c.Remove(ctx, "n", "cf", "k"))
	require.NoError(t, c.Remove(ctx, "n", "cf", "never-existed"))
}

func TestFind_GroupsColumnsPerRow(t *testing.T) {
	c := createTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Insert(ctx, "n", "au", "alice", storage.Changes{"id": "alice", "type": "u", "dept": "eng"}))
	require.NoError(t, c.Insert(ctx, "n", "au", "bob", storage.Changes{"id": "bob", "type": "u", "dept": "ops"}))
	require.NoError(t, c.Insert(ctx, "n", "au", "staff", storage.Changes{"id": "staff", "type": "g"}))

	cur, err := c.Find(ctx, "n", "au", storage.Record{"type": "u"})
	require.NoError(t, err)
	recs, err := storage.Collect(cur)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	ids := []string{recs[0]["id"], recs[1]["id"]}
	assert.ElementsMatch(t, []string{"alice", "bob"}, ids)
	for _, r := range recs {
		assert.Len(t, r, 3, "every column of a matching row is returned")
	}

	cur, err = c.Find(ctx, "n", "au", storage.Record{"type": "u", "dept": "ops"})
	require.NoError(t, err)
	recs, err = storage.Collect(cur)
	require.NoError(t, err)
	assert.Equal(t, []storage.Record{{"id": "bob", "type": "u", "dept": "ops"}}, recs)

	cur, err = c.Find(ctx, "n", "au", storage.Record{"type": "nobody"})
	require.NoError(t, err)
	assert.False(t, cur.Next())
	assert.NoError(t, cur.Close())
	assert.NoError(t, cur.Close())
}

func TestFind_FamiliesDoNotOverlap(t *testing.T) {
	c := createTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Insert(ctx, "n", "au", "alice", storage.Changes{"id": "alice", "type": "g"}))
	require.NoError(t, c.Insert(ctx, "n", "content", "doc1", storage.Changes{"id": "doc1", "type": "g"}))
	require.NoError(t, c.Insert(ctx, "other", "au", "bob", storage.Changes{"id": "bob", "type": "g"}))

	cur, err := c.Find(ctx, "n", "au", storage.Record{"type": "g"})
	require.NoError(t, err)
	recs, err := storage.Collect(cur)
	require.NoError(t, err)
	assert.Equal(t, []storage.Record{{"id": "alice", "type": "g"}}, recs)

	cur, err = c.Find(ctx, "n", "au", nil)
	require.NoError(t, err)
	recs, err = storage.Collect(cur)
	require.NoError(t, err)
	assert.Equal(t, []storage.Record{{"id": "alice", "type": "g"}}, recs)

	cur, err = c.Find(ctx, "other", "au", nil)
	require.NoError(t, err)
	recs, err = storage.Collect(cur)
	require.NoError(t, err)
	assert.Equal(t, []storage.Record{{"id": "bob", "type": "g"}}, recs)

	cur, err = c.Find(ctx, "n", "missing", nil)
	require.NoError(t, err)
	recs, err = storage.Collect(cur)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestFind_MissingTemplate(t *testing.T) {
	p := createTestPool(t, Options{})
	conn, err := p.db.Conn(context.Background())
	require.NoError(t, err)

	templates := DefaultTemplates()
	delete(templates, statement.Find)
	c, err := NewClient(conn, ClientOptions{Templates: templates})
	require.NoError(t, err)
	defer c.Close()
	c.SetAlive()

	_, err = c.Find(context.Background(), "n", "au", nil)
	assert.True(t, storage.IsConfigurationError(err))
}

func TestRemove_MissingTemplate(t *testing.T) {
	p := createTestPool(t, Options{})
	conn, err := p.db.Conn(context.Background())
	require.NoError(t, err)

	templates := DefaultTemplates()
	delete(templates, statement.RowDelete)
	c, err := NewClient(conn, ClientOptions{Templates: templates})
	require.NoError(t, err)
	defer c.Close()
	c.SetAlive()

	err = c.Remove(context.Background(), "n", "au", "k")
	assert.True(t, storage.IsConfigurationError(err))
}

func TestLifecycle_PassivateAndReactivate(t *testing.T) {
	c := createTestClient(t)
	ctx := context.Background()
	assert.False(t, c.Active())

	require.NoError(t, c.Insert(ctx, "n", "cf", "k", storage.Changes{"a": "1"}))
	assert.True(t, c.Active())
	assert.Len(t, c.prepared, 5)

	cur, err := c.Find(ctx, "n", "cf", storage.Record{"a": "1"})
	require.NoError(t, err)
	assert.Equal(t, 1, c.disposables.Len())

	require.NoError(t, c.Passivate())
	assert.False(t, c.Active())
	assert.Empty(t, c.prepared)
	assert.Equal(t, 0, c.disposables.Len())
	assert.False(t, cur.Next(), "passivation force-closes open cursors")
	require.NoError(t, c.Passivate())

	rec, err := c.Get(ctx, "n", "cf", "k")
	require.NoError(t, err)
	assert.Equal(t, storage.Record{"a": "1"}, rec)
	assert.True(t, c.Active())
}

func TestLifecycle_ExhaustedCursorUntracks(t *testing.T) {
	c := createTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Insert(ctx, "n", "cf", "k", storage.Changes{"a": "1"}))

	cur, err := c.Find(ctx, "n", "cf", storage.Record{"a": "1"})
	require.NoError(t, err)
	_, err = storage.Collect(cur)
	require.NoError(t, err)
	assert.Equal(t, 0, c.disposables.Len())
}

func TestLifecycle_NotAlive(t *testing.T) {
	p := createTestPool(t, Options{})
	conn, err := p.db.Conn(context.Background())
	require.NoError(t, err)

	c, err := NewClient(conn, ClientOptions{})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Get(context.Background(), "n", "cf", "k")
	assert.True(t, storage.IsConnectionError(err))
	assert.False(t, c.Active())

	require.NoError(t, c.CheckSchema(context.Background(), fstest.MapFS{}))
	_, err = c.Get(context.Background(), "n", "cf", "k")
	assert.NoError(t, err)
	assert.True(t, c.Validate(context.Background()))
}

func TestNewClient_BadHash(t *testing.T) {
	templates := DefaultTemplates()
	templates[statement.OptionRowIDHash] = "crc32"
	_, err := NewClient(nil, ClientOptions{Templates: templates})
	assert.True(t, storage.IsConfigurationError(err))
}

func TestSharding_RoutesToShardTable(t *testing.T) {
	hasher := rowid.MustNew("")
	rid := hasher.RowID("n", "cf", "routed")
	shard := rowid.Shard(rid)

	templates := DefaultTemplates().Merge(statement.Templates{
		"row-select._" + shard:    "SELECT cid, v FROM css_s WHERE rid = ?",
		"column-insert._" + shard: "INSERT INTO css_s (v, rid, cid, ks, cf) VALUES (?, ?, ?, ?, ?)",
		"column-update._" + shard: "UPDATE css_s SET v = ? WHERE rid = ? AND cid = ?",
	})
	fsys := fstest.MapFS{"schema.ddl": &fstest.MapFile{Data: []byte(
		"CREATE TABLE css (rid TEXT NOT NULL, ks TEXT NOT NULL, cf TEXT NOT NULL, cid TEXT NOT NULL, v TEXT);\n" +
			"CREATE TABLE css_s (rid TEXT NOT NULL, ks TEXT NOT NULL, cf TEXT NOT NULL, cid TEXT NOT NULL, v TEXT);\n")}}

	p := createTestPool(t, Options{Templates: templates, SchemaFS: fsys, Schemas: []string{"schema.ddl"}})
	c, err := p.Client(context.Background())
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Insert(ctx, "n", "cf", "routed", storage.Changes{"a": "1"}))

	var n int
	require.NoError(t, p.db.QueryRow("SELECT COUNT(*) FROM css_s WHERE rid = ?", rid).Scan(&n))
	assert.Equal(t, 1, n)
	require.NoError(t, p.db.QueryRow("SELECT COUNT(*) FROM css").Scan(&n))
	assert.Equal(t, 0, n)

	rec, err := c.Get(ctx, "n", "cf", "routed")
	require.NoError(t, err)
	assert.Equal(t, storage.Record{"a": "1"}, rec)
}

type stubContent struct {
	bodies map[string]string
}

func (s *stubContent) WriteBody(_ context.Context, _, _, _, blockID string, meta storage.Record, body io.Reader) (storage.Record, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	s.bodies[blockID] = string(data)
	out := meta.Clone()
	out["blockId"] = blockID
	out["length"] = storage.ToStore(len(data))
	return out, nil
}

func (s *stubContent) ReadBody(_ context.Context, _, _, blockID string, _ storage.Record) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(s.bodies[blockID])), nil
}

func TestStreamBody(t *testing.T) {
	content := &stubContent{bodies: map[string]string{}}
	p := createTestPool(t, Options{Content: content})
	c, err := p.Client(context.Background())
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	meta, err := c.StreamBodyIn(ctx, "n", "cn", "/doc", "b1", storage.Record{"mime": "text/plain"}, strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, "5", meta["length"])

	stored, err := c.Get(ctx, "n", "cn", "/doc")
	require.NoError(t, err)
	assert.Equal(t, storage.Record{"mime": "text/plain", "blockId": "b1", "length": "5"}, stored)

	in, err := c.StreamBodyOut(ctx, "n", "cn", "/doc", "b1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, c.disposables.Len())
	data, err := io.ReadAll(in)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, c.Passivate())
	assert.Equal(t, 0, c.disposables.Len())
	assert.NoError(t, in.Close())
}

func TestStreamBody_NoHelper(t *testing.T) {
	c := createTestClient(t)
	_, err := c.StreamBodyIn(context.Background(), "n", "cn", "/doc", "b1", nil, strings.NewReader("x"))
	assert.True(t, storage.IsConfigurationError(err))
}

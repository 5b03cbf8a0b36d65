package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/sparsemap/internal/accesscontrol"
	"github.com/roach88/sparsemap/internal/config"
	"github.com/roach88/sparsemap/internal/storage"
	"github.com/roach88/sparsemap/internal/testutil"
)

func testOptions() Options {
	blog := logrus.New()
	blog.SetOutput(io.Discard)
	return Options{
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		BadgerLogger: blog,
		Now:          testutil.NewDeterministicClock().Now,
		PasswordCost: bcrypt.MinCost,
	}
}

func testConfigs(t *testing.T) map[string]*config.Config {
	t.Helper()
	dir := t.TempDir()
	configs := map[string]*config.Config{}
	for _, backend := range []string{config.BackendMemory, config.BackendSQLite, config.BackendBadger} {
		c := config.Default()
		c.Backend = backend
		c.AdminPassword = "admin-secret"
		c.Content.Dir = filepath.Join(dir, backend, "bodies")
		switch backend {
		case config.BackendSQLite:
			c.Path = filepath.Join(dir, "store.db")
		case config.BackendBadger:
			c.Path = filepath.Join(dir, "badger")
		}
		configs[backend] = c
	}
	return configs
}

func openRepo(t *testing.T, cfg *config.Config) *Repository {
	t.Helper()
	r, err := Open(context.Background(), cfg, testOptions())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRepository_Backends(t *testing.T) {
	for name, cfg := range testConfigs(t) {
		t.Run(name, func(t *testing.T) {
			r := openRepo(t, cfg)
			ctx := context.Background()

			admin, err := r.Login(ctx, "admin", "admin-secret")
			require.NoError(t, err)
			defer admin.Logout()
			assert.True(t, admin.Access.IsAdmin())

			ok, err := admin.Authorizables.CreateUser(ctx, "alice", "Alice", "pw", nil)
			require.NoError(t, err)
			require.True(t, ok)

			alice, err := r.Login(ctx, "alice", "pw")
			require.NoError(t, err)
			defer alice.Logout()
			assert.Equal(t, "alice", alice.UserID())

			// Logged-in users may read other authorizables but not create them.
			found, err := alice.Authorizables.Find(ctx, "admin")
			require.NoError(t, err)
			require.NotNil(t, found)
			_, err = alice.Authorizables.CreateUser(ctx, "bob", "Bob", "", nil)
			assert.True(t, accesscontrol.IsAccessDenied(err))

			require.NoError(t, alice.Client.Insert(ctx, "n", "cn", "doc", storage.Changes{"title": "hello"}))
			rec, err := admin.Client.Get(ctx, "n", "cn", "doc")
			require.NoError(t, err)
			assert.Equal(t, "hello", rec["title"])

			_, err = alice.Client.StreamBodyIn(ctx, "n", "cn", "doc", "", nil, strings.NewReader("body"))
			require.NoError(t, err)
			rc, err := admin.Client.StreamBodyOut(ctx, "n", "cn", "doc", "", nil)
			require.NoError(t, err)
			b, err := io.ReadAll(rc)
			require.NoError(t, err)
			rc.Close()
			assert.Equal(t, "body", string(b))
		})
	}
}

func TestLogin_Failures(t *testing.T) {
	r := openRepo(t, testConfigs(t)[config.BackendMemory])
	ctx := context.Background()

	_, err := r.Login(ctx, "admin", "wrong")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))

	_, err = r.Login(ctx, "nobody", "x")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
}

func TestLogin_Anonymous(t *testing.T) {
	r := openRepo(t, testConfigs(t)[config.BackendMemory])
	ctx := context.Background()

	s, err := r.Login(ctx, "", "")
	require.NoError(t, err)
	defer s.Logout()
	assert.Equal(t, accesscontrol.Anonymous, s.UserID())

	_, err = s.Authorizables.Find(ctx, "admin")
	assert.True(t, accesscontrol.IsAccessDenied(err))
}

func TestLoginAdministrative(t *testing.T) {
	r := openRepo(t, testConfigs(t)[config.BackendMemory])
	ctx := context.Background()

	s, err := r.LoginAdministrative(ctx, "")
	require.NoError(t, err)
	defer s.Logout()
	assert.Equal(t, "admin", s.UserID())

	other, err := r.LoginAdministrative(ctx, "carol")
	require.NoError(t, err)
	defer other.Logout()
	assert.False(t, other.Access.IsAdmin())
}

func TestOpen_AdminBootstrapIsIdempotent(t *testing.T) {
	cfg := testConfigs(t)[config.BackendSQLite]
	r := openRepo(t, cfg)
	require.NoError(t, r.Close())

	cfg.AdminPassword = "changed"
	r = openRepo(t, cfg)
	_, err := r.Login(context.Background(), "admin", "admin-secret")
	assert.NoError(t, err, "existing administrator keeps its password")
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = "postgres"
	_, err := Open(context.Background(), cfg, testOptions())
	assert.True(t, storage.IsConfigurationError(err))
}

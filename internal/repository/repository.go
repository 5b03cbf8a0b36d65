// Package repository opens the configured store and hands out sessions.
//
// A Session bundles one storage client with the access rules of the user
// who logged in and an authorizable manager acting for that user. Sessions
// are not safe for concurrent use; take one per caller.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/roach88/sparsemap/internal/accesscontrol"
	"github.com/roach88/sparsemap/internal/authorizable"
	"github.com/roach88/sparsemap/internal/config"
	"github.com/roach88/sparsemap/internal/content"
	"github.com/roach88/sparsemap/internal/storage"
	"github.com/roach88/sparsemap/internal/storage/badgerstore"
	"github.com/roach88/sparsemap/internal/storage/memstore"
	"github.com/roach88/sparsemap/internal/storage/sqlstore"
	"github.com/roach88/sparsemap/internal/storage/statement"
)

// ErrInvalidCredentials is returned by Login for an unknown user or a wrong
// password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// backend opens sessions on one kind of store.
type backend interface {
	client(ctx context.Context) (storage.Client, error)
	close() error
}

// Repository is an open store.
type Repository struct {
	cfg     *config.Config
	backend backend
	opts    Options
	logger  *slog.Logger
}

// Options tunes Open beyond the config file.
type Options struct {
	Logger *slog.Logger

	// BadgerLogger receives Badger's own logging.
	BadgerLogger *logrus.Logger

	// Now stamps created/modified columns. Defaults to time.Now.
	Now func() time.Time

	// PasswordCost is the bcrypt cost. Zero uses the bcrypt default.
	PasswordCost int
}

// Open opens the store described by cfg and makes sure the administrator
// exists.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Repository, error) {
	if err := cfg.Validate(); err != nil {
		return nil, storage.NewConfigurationError("open", err.Error())
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var helper storage.ContentHelper
	if cfg.Content.Dir != "" {
		helper = &content.FileHelper{Dir: cfg.Content.Dir, BlockSize: cfg.Content.BlockSize, Logger: logger}
	}

	var b backend
	var err error
	switch cfg.Backend {
	case config.BackendMemory:
		b, err = openMemory(cfg, helper, logger)
	case config.BackendSQLite:
		b, err = openSQLite(ctx, cfg, helper, logger)
	case config.BackendBadger:
		b, err = openBadger(cfg, helper, opts.BadgerLogger, logger)
	}
	if err != nil {
		return nil, err
	}

	r := &Repository{cfg: cfg, backend: b, opts: opts, logger: logger}
	if err := r.bootstrapAdmin(ctx); err != nil {
		b.close()
		return nil, err
	}
	logger.Info("repository opened", "backend", cfg.Backend, "path", cfg.Path)
	return r, nil
}

func (r *Repository) bootstrapAdmin(ctx context.Context) error {
	s, err := r.LoginAdministrative(ctx, r.cfg.Admin)
	if err != nil {
		return err
	}
	defer s.Logout()
	created, err := s.Authorizables.CreateUser(ctx, r.cfg.Admin, r.cfg.Admin, r.cfg.AdminPassword, nil)
	if err != nil {
		return fmt.Errorf("create administrator: %w", err)
	}
	if created {
		r.logger.Info("administrator created", "id", r.cfg.Admin)
	}
	return nil
}

// Config returns the configuration the repository was opened with.
func (r *Repository) Config() *config.Config {
	return r.cfg
}

// Login authenticates user with password. An empty user logs in
// anonymously.
func (r *Repository) Login(ctx context.Context, user, password string) (*Session, error) {
	if user == "" || user == accesscontrol.Anonymous {
		return r.session(ctx, accesscontrol.Anonymous)
	}
	s, err := r.session(ctx, user)
	if err != nil {
		return nil, err
	}
	ok, err := s.Authorizables.Authenticate(ctx, user, password)
	if err != nil {
		s.Logout()
		return nil, err
	}
	if !ok {
		s.Logout()
		r.logger.Warn("login failed", "user", user)
		return nil, fmt.Errorf("login %s: %w", user, ErrInvalidCredentials)
	}
	return s, nil
}

// LoginAdministrative returns a session for user without checking a
// password. An empty user is the administrator.
func (r *Repository) LoginAdministrative(ctx context.Context, user string) (*Session, error) {
	if user == "" {
		user = r.cfg.Admin
	}
	return r.session(ctx, user)
}

func (r *Repository) session(ctx context.Context, user string) (*Session, error) {
	c, err := r.backend.client(ctx)
	if err != nil {
		return nil, err
	}
	rules := accesscontrol.NewRules(user, r.cfg.Admin)
	if !rules.IsAdmin() && user != accesscontrol.Anonymous {
		rules.Grant(accesscontrol.ZoneAuthorizables, accesscontrol.Any, accesscontrol.CanRead)
	}
	return &Session{
		Client: c,
		Access: rules,
		Authorizables: authorizable.NewManager(c, rules, authorizable.Options{
			Keyspace:     r.cfg.Keyspace,
			Family:       r.cfg.AuthorizableFamily,
			Now:          r.opts.Now,
			PasswordCost: r.opts.PasswordCost,
			Logger:       r.logger,
		}),
		Keyspace: r.cfg.Keyspace,
	}, nil
}

// Close closes the store. Sessions still open are closed with it where the
// backend tracks them.
func (r *Repository) Close() error {
	return r.backend.close()
}

// Session is one logged-in caller.
type Session struct {
	Client        storage.Client
	Access        *accesscontrol.Rules
	Authorizables *authorizable.Manager

	// Keyspace is the configured default keyspace.
	Keyspace string
}

// UserID returns the logged-in user.
func (s *Session) UserID() string {
	return s.Access.CurrentUserID()
}

// Logout closes the session's client.
func (s *Session) Logout() error {
	return s.Client.Close()
}

type memoryBackend struct {
	store *memstore.Store
}

func openMemory(cfg *config.Config, helper storage.ContentHelper, logger *slog.Logger) (backend, error) {
	s, err := memstore.New(memstore.Options{RowIDHash: cfg.RowIDHash, Content: helper, Logger: logger})
	if err != nil {
		return nil, err
	}
	return &memoryBackend{store: s}, nil
}

func (b *memoryBackend) client(ctx context.Context) (storage.Client, error) {
	return b.store.Client(), nil
}

func (b *memoryBackend) close() error { return nil }

type sqliteBackend struct {
	pool *sqlstore.Pool
}

func openSQLite(ctx context.Context, cfg *config.Config, helper storage.ContentHelper, logger *slog.Logger) (backend, error) {
	templates := sqlstore.DefaultTemplates()
	if cfg.Statements != "" {
		extra, err := statement.LoadFile(cfg.Statements)
		if err != nil {
			return nil, storage.NewConfigurationError("open", err.Error())
		}
		templates = templates.Merge(extra)
	}
	templates[statement.OptionRowIDHash] = cfg.RowIDHash

	opts := sqlstore.Options{
		DSN:       cfg.Path,
		Templates: templates,
		Content:   helper,
		Logger:    logger,
	}
	if cfg.DDL != "" {
		opts.SchemaFS = os.DirFS(filepath.Dir(cfg.DDL))
		opts.Schemas = []string{filepath.Base(cfg.DDL)}
	}
	pool, err := sqlstore.Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &sqliteBackend{pool: pool}, nil
}

func (b *sqliteBackend) client(ctx context.Context) (storage.Client, error) {
	c, err := b.pool.Client(ctx)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (b *sqliteBackend) close() error { return b.pool.Close() }

type badgerBackend struct {
	db *badgerstore.DB
}

func openBadger(cfg *config.Config, helper storage.ContentHelper, blog *logrus.Logger, logger *slog.Logger) (backend, error) {
	db, err := badgerstore.Open(badgerstore.Options{
		Path:      cfg.Path,
		RowIDHash: cfg.RowIDHash,
		Content:   helper,
		Logger:    blog,
		AppLogger: logger,
	})
	if err != nil {
		return nil, err
	}
	return &badgerBackend{db: db}, nil
}

func (b *badgerBackend) client(ctx context.Context) (storage.Client, error) {
	return b.db.Client(), nil
}

func (b *badgerBackend) close() error { return b.db.Close() }

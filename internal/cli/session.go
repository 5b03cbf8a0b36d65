package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/roach88/sparsemap/internal/config"
	"github.com/roach88/sparsemap/internal/repository"
	"github.com/roach88/sparsemap/internal/storage"
)

// env is an open repository and a session for one command.
type env struct {
	repo      *repository.Repository
	session   *repository.Session
	keyspace  string
	formatter *OutputFormatter
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// configureLogging installs the slog default for the command and returns a
// logrus logger for Badger at the matching level.
func configureLogging(opts *RootOptions, w io.Writer) *logrus.Logger {
	logLevel := slog.LevelWarn
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))

	blog := logrus.New()
	blog.SetOutput(w)
	blog.SetLevel(logrus.WarnLevel)
	if opts.Verbose {
		blog.SetLevel(logrus.DebugLevel)
	}
	return blog
}

// loadConfig reads --config, or returns the in-memory default.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	var cfg *config.Config
	if opts.Config == "" {
		cfg = config.Default()
	} else {
		var err error
		cfg, err = config.Load(opts.Config)
		if err != nil {
			return nil, storage.NewConfigurationError("load config", err.Error())
		}
	}
	if opts.User != "" {
		cfg.User = opts.User
	}
	if opts.Keyspace != "" {
		cfg.Keyspace = opts.Keyspace
	}
	return cfg, nil
}

// openEnv opens the configured repository and logs in. With --password the
// user is authenticated; otherwise the CLI acts as the user directly.
func openEnv(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*env, error) {
	f := newFormatter(opts, cmd)
	blog := configureLogging(opts, cmd.ErrOrStderr())

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, f.Fail("failed to load config", err)
	}
	f.VerboseLog("Opening %s store %s", cfg.Backend, cfg.Path)

	repo, err := repository.Open(ctx, cfg, repository.Options{BadgerLogger: blog})
	if err != nil {
		return nil, f.Fail("failed to open store", err)
	}

	var s *repository.Session
	if opts.Password != "" {
		s, err = repo.Login(ctx, cfg.User, opts.Password)
	} else {
		s, err = repo.LoginAdministrative(ctx, cfg.User)
	}
	if err != nil {
		repo.Close()
		return nil, f.Fail("failed to log in", err)
	}
	f.VerboseLog("Acting as %s", s.UserID())
	return &env{repo: repo, session: s, keyspace: cfg.Keyspace, formatter: f}, nil
}

func (e *env) Close() {
	e.session.Logout()
	e.repo.Close()
}

// parseAssignments turns col=value arguments into a record.
func parseAssignments(args []string) (storage.Record, error) {
	rec := storage.Record{}
	for _, a := range args {
		col, value, ok := strings.Cut(a, "=")
		if !ok || col == "" {
			return nil, fmt.Errorf("expected column=value, got %q", a)
		}
		rec[col] = value
	}
	return rec, nil
}

// checkDataFamily refuses raw writes to the family holding users and
// groups, whose columns must go through the identity commands.
func (e *env) checkDataFamily(family string) error {
	cfg := e.repo.Config()
	if e.keyspace == cfg.Keyspace && family == cfg.AuthorizableFamily {
		return usageError(e.formatter, fmt.Errorf("family %s holds users and groups: use the user and group commands", family))
	}
	return nil
}

// usageError reports malformed arguments.
func usageError(f *OutputFormatter, err error) error {
	_ = f.Error(ErrCodeUsage, err.Error(), nil)
	return WrapExitError(ExitCommandError, "invalid arguments", err)
}

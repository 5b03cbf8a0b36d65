package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/sparsemap/internal/storage"
)

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <family> <key>",
		Short: "Print every column of a row",
		Long: `Print every column of the row addressed by keyspace, family and key.

A row that was never written or has been removed prints as empty.

Example:
  sparsemap get --config store.yaml cn doc-1`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), rootOpts, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			rec, err := e.session.Client.Get(cmd.Context(), e.keyspace, args[0], args[1])
			if err != nil {
				return e.formatter.Fail("get failed", err)
			}
			return e.formatter.Success(recordView(rec))
		},
	}
}

// PutOptions holds flags for the put command.
type PutOptions struct {
	*RootOptions
	Delete  []string
	Body    string
	BlockID string
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "put <family> <key> [column=value...]",
		Short: "Set or delete columns of a row",
		Long: `Set columns of a row, delete columns with --delete, or stream a body
into the content store with --body (use - for stdin). Columns given alongside
--body are stored with the body metadata. Rows of the users and groups family
are refused; use the user and group commands for those.

Example:
  sparsemap put cn doc-1 title=Hello mime=text/plain
  sparsemap put cn doc-1 --delete title
  sparsemap put cn doc-1 --body ./report.pdf`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPut(opts, args, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Delete, "delete", nil, "columns to delete")
	cmd.Flags().StringVar(&opts.Body, "body", "", "file to stream in as the row's body (- for stdin)")
	cmd.Flags().StringVar(&opts.BlockID, "block-id", "", "block id for --body (generated when empty)")

	return cmd
}

func runPut(opts *PutOptions, args []string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	family, key := args[0], args[1]
	values, err := parseAssignments(args[2:])
	if err != nil {
		return usageError(f, err)
	}

	e, err := openEnv(cmd.Context(), opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.checkDataFamily(family); err != nil {
		return err
	}
	ctx := cmd.Context()
	client := e.session.Client

	if opts.Body != "" {
		var body io.Reader = cmd.InOrStdin()
		if opts.Body != "-" {
			file, err := os.Open(opts.Body)
			if err != nil {
				return e.formatter.Fail("failed to open body", err)
			}
			defer file.Close()
			body = file
		}
		if _, err := client.StreamBodyIn(ctx, e.keyspace, family, key, opts.BlockID, values, body); err != nil {
			return e.formatter.Fail("put failed", err)
		}
		values = nil
	}

	changes := storage.ChangesFrom(values)
	for _, col := range opts.Delete {
		changes[col] = nil
	}
	if len(changes) > 0 {
		if err := client.Insert(ctx, e.keyspace, family, key, changes); err != nil {
			return e.formatter.Fail("put failed", err)
		}
	}

	rec, err := client.Get(ctx, e.keyspace, family, key)
	if err != nil {
		return e.formatter.Fail("put failed", err)
	}
	return e.formatter.Success(recordView(rec))
}

// NewRemoveCommand creates the rm command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <family> <key>",
		Short: "Remove a row",
		Long: `Remove every column of a row. Rows of the users and groups family
are refused; use user delete for those.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), rootOpts, cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.checkDataFamily(args[0]); err != nil {
				return err
			}

			if err := e.session.Client.Remove(cmd.Context(), e.keyspace, args[0], args[1]); err != nil {
				return e.formatter.Fail("rm failed", err)
			}
			if e.formatter.Format == "json" {
				return e.formatter.Success(map[string]string{"removed": args[1]})
			}
			return e.formatter.Success("Removed " + args[1])
		},
	}
}

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "find <family> [column=value...]",
		Short: "Print rows whose columns match every predicate",
		Long: `Print every row of the family whose columns equal all given values.

Example:
  sparsemap find au type=g`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			predicates, err := parseAssignments(args[1:])
			if err != nil {
				return usageError(f, err)
			}

			e, err := openEnv(cmd.Context(), rootOpts, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			cur, err := e.session.Client.Find(cmd.Context(), e.keyspace, args[0], predicates)
			if err != nil {
				return e.formatter.Fail("find failed", err)
			}
			recs, err := storage.Collect(cur)
			if err != nil {
				return e.formatter.Fail("find failed", err)
			}
			views := make(recordsView, len(recs))
			for i, r := range recs {
				views[i] = recordView(r)
			}
			return e.formatter.Success(views)
		},
	}
}

// NewCatCommand creates the cat command.
func NewCatCommand(rootOpts *RootOptions) *cobra.Command {
	var blockID string
	cmd := &cobra.Command{
		Use:           "cat <family> <key>",
		Short:         "Stream a row's body to stdout",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), rootOpts, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			rc, err := e.session.Client.StreamBodyOut(cmd.Context(), e.keyspace, args[0], args[1], blockID, nil)
			if err != nil {
				return e.formatter.Fail("cat failed", err)
			}
			defer rc.Close()
			if _, err := io.Copy(cmd.OutOrStdout(), rc); err != nil {
				return e.formatter.Fail("cat failed", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&blockID, "block-id", "", "read this block instead of the row's current one")
	return cmd
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create the store's schema and administrator if missing",
		Long: `Open the configured store, running the schema bootstrap script when the
schema check fails, and create the administrator if it does not exist.

Running it again is harmless.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), rootOpts, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			cfg := e.repo.Config()
			if e.formatter.Format == "json" {
				return e.formatter.Success(map[string]string{
					"backend": cfg.Backend,
					"path":    cfg.Path,
					"admin":   cfg.Admin,
				})
			}
			return e.formatter.Success("✓ " + cfg.Backend + " store ready")
		},
	}
}

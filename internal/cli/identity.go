package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sparsemap/internal/authorizable"
)

// NewUserCommand creates the user command group.
func NewUserCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(newUserCreateCommand(rootOpts))
	cmd.AddCommand(newUserDeleteCommand(rootOpts))
	cmd.AddCommand(newUserPasswordCommand(rootOpts))
	return cmd
}

// NewGroupCommand creates the group command group.
func NewGroupCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage groups and their members",
	}
	cmd.AddCommand(newGroupCreateCommand(rootOpts))
	cmd.AddCommand(newGroupMembersCommand(rootOpts, "add-member", "Add members to a group", (*authorizable.Group).AddMember))
	cmd.AddCommand(newGroupMembersCommand(rootOpts, "remove-member", "Remove members from a group", (*authorizable.Group).RemoveMember))
	return cmd
}

// createResult is printed by user/group create.
type createResult struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Created bool   `json:"created"`
}

func (r createResult) String() string {
	if r.Created {
		return fmt.Sprintf("✓ Created %s %s", r.Kind, r.ID)
	}
	return fmt.Sprintf("%s %s already exists", r.Kind, r.ID)
}

func newUserCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var name, password string
	cmd := &cobra.Command{
		Use:   "create <id> [column=value...]",
		Short: "Create a user",
		Long: `Create a user. Without --new-password the user cannot log in.
Creating an existing user changes nothing.

Example:
  sparsemap user create alice --name "Alice" --new-password s3cret email=alice@example.com`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			props, err := parseAssignments(args[1:])
			if err != nil {
				return usageError(f, err)
			}
			e, err := openEnv(cmd.Context(), rootOpts, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			id := args[0]
			if name == "" {
				name = id
			}
			created, err := e.session.Authorizables.CreateUser(cmd.Context(), id, name, password, props)
			if err != nil {
				return e.formatter.Fail("create user failed", err)
			}
			return e.formatter.Success(createResult{ID: id, Kind: "user", Created: created})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the id)")
	cmd.Flags().StringVar(&password, "new-password", "", "password for the new user")
	return cmd
}

func newUserDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <id>",
		Short:         "Delete a user or group and drop its memberships",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), rootOpts, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			deleted, err := e.session.Authorizables.Delete(cmd.Context(), args[0])
			if err != nil {
				return e.formatter.Fail("delete failed", err)
			}
			if !deleted {
				_ = e.formatter.Error(ErrCodeNotFound, fmt.Sprintf("%s not found", args[0]), nil)
				return NewExitError(ExitFailure, fmt.Sprintf("%s not found", args[0]))
			}
			if e.formatter.Format == "json" {
				return e.formatter.Success(map[string]string{"deleted": args[0]})
			}
			return e.formatter.Success("Deleted " + args[0])
		},
	}
}

func newUserPasswordCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "set-password <id> <new-password>",
		Short:         "Replace a user's password",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), rootOpts, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.session.Authorizables.SetPassword(cmd.Context(), args[0], args[1]); err != nil {
				return e.formatter.Fail("set password failed", err)
			}
			return e.formatter.Success("Password updated for " + args[0])
		},
	}
}

func newGroupCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:           "create <id> [column=value...]",
		Short:         "Create a group",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			props, err := parseAssignments(args[1:])
			if err != nil {
				return usageError(f, err)
			}
			e, err := openEnv(cmd.Context(), rootOpts, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			id := args[0]
			if name == "" {
				name = id
			}
			created, err := e.session.Authorizables.CreateGroup(cmd.Context(), id, name, props)
			if err != nil {
				return e.formatter.Fail("create group failed", err)
			}
			return e.formatter.Success(createResult{ID: id, Kind: "group", Created: created})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the id)")
	return cmd
}

// membersResult is printed by add-member/remove-member.
type membersResult struct {
	Group   string   `json:"group"`
	Members []string `json:"members"`
}

func (r membersResult) String() string {
	if len(r.Members) == 0 {
		return r.Group + ": no members"
	}
	return r.Group + ": " + strings.Join(r.Members, ", ")
}

func newGroupMembersCommand(rootOpts *RootOptions, use, short string, edit func(*authorizable.Group, string) bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <group> <member>...",
		Short: short,
		Long: short + `.

Members that the acting user cannot read are dropped; the members printed
afterwards are the group's actual members.`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), rootOpts, cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			ctx := cmd.Context()
			m := e.session.Authorizables

			a, err := m.Find(ctx, args[0])
			if err != nil {
				return e.formatter.Fail("load group failed", err)
			}
			g, ok := a.(*authorizable.Group)
			if !ok {
				msg := fmt.Sprintf("group %s not found", args[0])
				_ = e.formatter.Error(ErrCodeNotFound, msg, nil)
				return NewExitError(ExitFailure, msg)
			}
			for _, member := range args[1:] {
				edit(g, member)
			}
			if err := m.Update(ctx, g); err != nil {
				return e.formatter.Fail("update group failed", err)
			}
			return e.formatter.Success(membersResult{Group: g.ID(), Members: g.Members()})
		},
	}
}

// whoamiResult is printed by whoami.
type whoamiResult struct {
	ID         string   `json:"id"`
	Name       string   `json:"name,omitempty"`
	Admin      bool     `json:"admin"`
	Principals []string `json:"principals"`
}

func (r whoamiResult) String() string {
	s := r.ID
	if r.Admin {
		s += " (admin)"
	}
	if len(r.Principals) > 0 {
		s += "\nprincipals: " + strings.Join(r.Principals, ", ")
	}
	return s
}

// NewWhoamiCommand creates the whoami command.
func NewWhoamiCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "whoami",
		Short:         "Print the acting user and the groups it belongs to",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), rootOpts, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			res := whoamiResult{ID: e.session.UserID(), Admin: e.session.Access.IsAdmin(), Principals: []string{}}
			a, err := e.session.Authorizables.Find(cmd.Context(), res.ID)
			if err != nil {
				return e.formatter.Fail("whoami failed", err)
			}
			if a != nil {
				res.Name = a.Name()
				if ps := a.Principals(); ps != nil {
					res.Principals = ps
				}
			}
			return e.formatter.Success(res)
		},
	}
}

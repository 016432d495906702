package cli

import (
	"github.com/spf13/cobra"
)

// newRoleCmd manages a session's plain-text role tag. The teacher's role
// command manages a library of YAML role templates (list/show/init/check);
// sm carries no dispatch-template system (spec.md §1 Non-goals), so this
// is just the registry's set_role/clear_role pair exposed over the CLI.
func newRoleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Set or clear a session's role tag",
	}
	cmd.AddCommand(newRoleSetCmd(), newRoleClearCmd())
	return cmd
}

type roleRequest struct {
	Role string `json:"role"`
}

func newRoleSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name> <role>",
		Short: "Set a session's role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doJSON("PUT", "/sessions/"+args[0]+"/role", roleRequest{Role: args[1]}, nil)
		},
	}
}

func newRoleClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <name>",
		Short: "Clear a session's role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doJSON("DELETE", "/sessions/"+args[0]+"/role", nil, nil)
		},
	}
}

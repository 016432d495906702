package cli

import (
	"github.com/spf13/cobra"
)

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <name>",
		Short: "Dismiss a session's pending permission/completion prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doJSON("POST", "/sessions/"+args[0]+"/clear", nil, nil)
		},
	}
}

package cli

import (
	"github.com/spf13/cobra"

	"sm/internal/version"
)

// NewRootCmd creates the root cobra command with all subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "sm",
		Short:         "Session manager and message-delivery engine for coding agents",
		Long:          "sm coordinates concurrent Claude/Codex agent sessions: spawning, message delivery, idle detection, and handoff.",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newSendCmd(),
		newLsCmd(),
		newSpawnCmd(),
		newKillCmd(),
		newWatchCmd(),
		newStatusCmd(),
		newRoleCmd(),
		newHandoffCmd(),
		newContextMonitorCmd(),
		newClearCmd(),
		newTaskCompleteCmd(),
		newRemindCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the sm version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println(version.DisplayVersion())
			return nil
		},
	}
}

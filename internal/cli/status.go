package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var idleFlag bool

	cmd := &cobra.Command{
		Use:   "status [name]",
		Short: "Show session status",
		Long: `Query a session's status.

Without flags, queries a single session by name and prints its full JSON
record. With --idle, checks whether every running session is idle or
stopped and prints "idle" or "active", for benchmark runners polling for
completion.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if idleFlag {
				return runStatusIdle(cmd)
			}
			if len(args) == 0 {
				return fmt.Errorf("session name required (or use --idle to check all sessions)")
			}
			var sess map[string]any
			if err := doJSON("GET", "/sessions/"+args[0], nil, &sess); err != nil {
				return err
			}
			out, err := json.MarshalIndent(sess, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(out))
			return nil
		},
	}

	cmd.Flags().BoolVar(&idleFlag, "idle", false, "Check if all sessions are idle or stopped")
	return cmd
}

func runStatusIdle(cmd *cobra.Command) error {
	var resp listResponse
	if err := doJSON("GET", "/sessions?include_stopped=true", nil, &resp); err != nil {
		return err
	}
	for _, s := range resp.Sessions {
		if s.Status != "idle" && s.Status != "stopped" {
			cmd.Println("active")
			return nil
		}
	}
	cmd.Println("idle")
	return nil
}

package cli

import (
	"github.com/spf13/cobra"
)

type spawnSessionRequest struct {
	ParentSessionID string `json:"parent_session_id"`
	Prompt          string `json:"prompt"`
	Name            string `json:"name,omitempty"`
	Model           string `json:"model,omitempty"`
	WorkingDir      string `json:"working_dir,omitempty"`
	Wait            bool   `json:"wait,omitempty"`
}

func newSpawnCmd() *cobra.Command {
	var name string
	var model string
	var workingDir string
	var wait bool

	cmd := &cobra.Command{
		Use:   "spawn <prompt...>",
		Short: "Spawn a child session under the current session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parent, err := selfSessionID()
			if err != nil {
				return err
			}
			prompt := joinArgs(args)

			req := spawnSessionRequest{
				ParentSessionID: parent,
				Prompt:          prompt,
				Name:            name,
				Model:           model,
				WorkingDir:      workingDir,
				Wait:            wait,
			}
			var child sessionSummary
			if err := doJSON("POST", "/sessions/spawn", req, &child); err != nil {
				return err
			}
			cmd.Println(child.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Friendly name for the child session")
	cmd.Flags().StringVar(&model, "model", "", "Model override for the child session")
	cmd.Flags().StringVar(&workingDir, "working-dir", "", "Working directory for the child session")
	cmd.Flags().BoolVar(&wait, "wait", false, "Register a watch that notifies when the child goes idle")

	return cmd
}

type killRequest struct {
	RequesterSessionID string `json:"requester_session_id,omitempty"`
}

func newKillCmd() *cobra.Command {
	var requester string

	cmd := &cobra.Command{
		Use:   "kill <name>",
		Short: "Kill a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := killRequest{RequesterSessionID: requester}
			return doJSON("DELETE", "/sessions/"+args[0], req, nil)
		},
	}

	cmd.Flags().StringVar(&requester, "requester", "", "Requesting session id, enforcing the parent/child kill rule")
	return cmd
}

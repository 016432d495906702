package cli

import (
	"github.com/spf13/cobra"
)

type handoffRequest struct {
	RequesterSessionID string `json:"requester_session_id"`
	FilePath           string `json:"file_path"`
}

// newHandoffCmd schedules a self-directed context rotation (spec.md §4.5.7):
// the session asks to have its own window cleared and a handoff document
// pasted in, once its current turn finishes.
func newHandoffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "handoff <file>",
		Short: "Schedule a context-rotation handoff for the current session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			self, err := selfSessionID()
			if err != nil {
				return err
			}
			req := handoffRequest{RequesterSessionID: self, FilePath: args[0]}
			return doJSON("POST", "/sessions/"+self+"/handoff", req, nil)
		},
	}
	return cmd
}

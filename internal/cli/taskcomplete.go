package cli

import (
	"github.com/spf13/cobra"
)

type taskCompleteRequest struct {
	RequesterSessionID string `json:"requester_session_id"`
}

// newTaskCompleteCmd reports that the current session's task is finished,
// cancelling its remind/parent-wake timers (spec.md §4.6) and notifying its
// context-monitor target or parent.
func newTaskCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "task-complete",
		Short: "Report the current session's task as complete",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			self, err := selfSessionID()
			if err != nil {
				return err
			}
			req := taskCompleteRequest{RequesterSessionID: self}
			return doJSON("POST", "/sessions/"+self+"/task-complete", req, nil)
		},
	}
}

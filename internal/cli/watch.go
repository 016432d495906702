package cli

import (
	"github.com/spf13/cobra"
)

type watchRequest struct {
	WatcherSessionID string `json:"watcher_session_id"`
	TimeoutSeconds   int    `json:"timeout_seconds,omitempty"`
}

type watchResponse struct {
	WatchID string `json:"watch_id"`
}

// newWatchCmd arms a watch-for-idle job (spec.md §4.5.8): it registers
// interest and returns immediately with the job id. The "idle"/"timeout"
// message itself arrives as an ordinary queued message to the watcher, not
// as output of this command — sm has no blocking wait surface, unlike the
// teacher's synchronous socket RPCs.
func newWatchCmd() *cobra.Command {
	var timeoutSecs int

	cmd := &cobra.Command{
		Use:   "watch <target>",
		Short: "Watch a session and be notified when it goes idle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			watcher, err := selfSessionID()
			if err != nil {
				return err
			}
			var resp watchResponse
			req := watchRequest{WatcherSessionID: watcher, TimeoutSeconds: timeoutSecs}
			if err := doJSON("POST", "/sessions/"+args[0]+"/watch", req, &resp); err != nil {
				return err
			}
			cmd.Println(resp.WatchID)
			return nil
		},
	}

	cmd.Flags().IntVar(&timeoutSecs, "timeout", 0, "Timeout in seconds (0 = server default of 24 hours)")
	return cmd
}

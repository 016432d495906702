package cli

import (
	"github.com/spf13/cobra"
)

type contextMonitorRequest struct {
	Enabled            bool   `json:"enabled"`
	NotifySessionID    string `json:"notify_session_id,omitempty"`
	RequesterSessionID string `json:"requester_session_id"`
}

// newContextMonitorCmd enrolls or disenrolls a session in the context-usage
// alert state machine (spec.md §4.5.9/§4.6).
func newContextMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context-monitor",
		Short: "Manage context-usage alert enrolment",
	}
	cmd.AddCommand(newContextMonitorEnableCmd(), newContextMonitorDisableCmd(), newContextMonitorListCmd())
	return cmd
}

func newContextMonitorEnableCmd() *cobra.Command {
	var notify string

	cmd := &cobra.Command{
		Use:   "enable [name]",
		Short: "Enable context-usage alerts for a session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, requester, err := contextMonitorTarget(args)
			if err != nil {
				return err
			}
			req := contextMonitorRequest{Enabled: true, NotifySessionID: notify, RequesterSessionID: requester}
			return doJSON("POST", "/sessions/"+target+"/context-monitor", req, nil)
		},
	}
	cmd.Flags().StringVar(&notify, "notify", "", "Session id to notify on warning/critical crossings (defaults to the session itself)")
	return cmd
}

func newContextMonitorDisableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disable [name]",
		Short: "Disable context-usage alerts for a session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, requester, err := contextMonitorTarget(args)
			if err != nil {
				return err
			}
			req := contextMonitorRequest{Enabled: false, RequesterSessionID: requester}
			return doJSON("POST", "/sessions/"+target+"/context-monitor", req, nil)
		},
	}
	return cmd
}

type contextMonitorListResponse struct {
	Sessions []sessionSummary `json:"sessions"`
}

func newContextMonitorListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions enrolled in context-usage alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp contextMonitorListResponse
			if err := doJSON("GET", "/sessions/context-monitor", nil, &resp); err != nil {
				return err
			}
			for _, s := range resp.Sessions {
				printSessionLine(cmd, s)
			}
			return nil
		},
	}
}

// contextMonitorTarget resolves the target session: the explicit argument,
// or "self" via CLAUDE_SESSION_MANAGER_ID, which also doubles as the
// requester since only a session or its parent may change this setting.
func contextMonitorTarget(args []string) (target, requester string, err error) {
	self, selfErr := selfSessionID()
	if len(args) == 1 {
		target = args[0]
	} else {
		if selfErr != nil {
			return "", "", selfErr
		}
		target = self
	}
	if selfErr == nil {
		requester = self
	}
	return target, requester, nil
}

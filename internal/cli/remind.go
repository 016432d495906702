package cli

import (
	"github.com/spf13/cobra"
)

type scheduleReminderRequest struct {
	SessionID    string `json:"session_id"`
	DelaySeconds int    `json:"delay_seconds"`
	Message      string `json:"message"`
}

// newRemindCmd schedules a one-shot reminder message to a session after a
// delay, bypassing the regular soft/hard inactivity timers.
func newRemindCmd() *cobra.Command {
	var delaySecs int

	cmd := &cobra.Command{
		Use:   "remind <name> <message...>",
		Short: "Schedule a one-shot reminder to a session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := scheduleReminderRequest{
				SessionID:    args[0],
				DelaySeconds: delaySecs,
				Message:      joinArgs(args[1:]),
			}
			return doJSON("POST", "/scheduler/remind", req, nil)
		},
	}

	cmd.Flags().IntVar(&delaySecs, "delay", 60, "Delay in seconds before the reminder fires")
	return cmd
}

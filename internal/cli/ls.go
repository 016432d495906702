package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// sessionSummary decodes only the fields `sm ls` displays, out of the full
// session JSON body GET /sessions returns.
type sessionSummary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	FriendlyName string    `json:"friendly_name,omitempty"`
	Provider     string    `json:"provider"`
	Status       string    `json:"status"`
	Task         string    `json:"task,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type listResponse struct {
	Sessions []sessionSummary `json:"sessions"`
}

func newLsCmd() *cobra.Command {
	var includeStopped bool

	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/sessions"
			if includeStopped {
				path += "?include_stopped=true"
			}
			var resp listResponse
			if err := doJSON("GET", path, nil, &resp); err != nil {
				return err
			}
			if len(resp.Sessions) == 0 {
				cmd.Println("No sessions.")
				return nil
			}
			cmd.Printf("\033[1mSessions:\033[0m\n")
			for _, s := range resp.Sessions {
				printSessionLine(cmd, s)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&includeStopped, "all", false, "Include stopped sessions")
	return cmd
}

func printSessionLine(cmd *cobra.Command, s sessionSummary) {
	var symbol, color string
	switch s.Status {
	case "running":
		symbol, color = "\033[32m●\033[0m", "\033[32m"
	case "idle":
		symbol, color = "\033[33m○\033[0m", "\033[33m"
	case "waiting_permission":
		symbol, color = "\033[36m◐\033[0m", "\033[36m"
	case "stopped":
		symbol, color = "\033[31m●\033[0m", "\033[31m"
	default:
		symbol, color = "\033[37m○\033[0m", "\033[37m"
	}

	name := s.FriendlyName
	if name == "" {
		name = s.Name
	}
	task := ""
	if s.Task != "" {
		task = fmt.Sprintf(" — %s", s.Task)
	}
	cmd.Printf("  %s %s \033[2m%s\033[0m %s%s\033[0m%s\n",
		symbol, name, s.Provider, color, s.Status, task)
}

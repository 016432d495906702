package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/shlex"
	"github.com/spf13/cobra"
)

type sendRequest struct {
	Text               string `json:"text"`
	SenderSessionID    string `json:"sender_session_id,omitempty"`
	DeliveryMode       string `json:"delivery_mode,omitempty"`
	NotifyAfterSeconds *int   `json:"notify_after_seconds,omitempty"`
	NotifyOnDelivery   bool   `json:"notify_on_delivery,omitempty"`
	NotifyOnStop       bool   `json:"notify_on_stop,omitempty"`
}

type sendResponse struct {
	Status string `json:"status"`
}

func newSendCmd() *cobra.Command {
	var mode string
	var file string
	var notifyAfterSecs int
	var notifyOnDelivery bool
	var notifyOnStop bool
	var allowSelf bool

	cmd := &cobra.Command{
		Use:   "send <name> [message...] [-- <shell-quoted text>]",
		Short: "Queue a message for delivery to a session",
		Long: `Queue a message for another session to receive.

The message body can be given as trailing arguments, read from --file, or
(after a "--" separator) given as a single shell-quoted string that is
tokenized and rejoined the way a shell would, so quoting survives agents
that mangle raw argument splitting.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			rest := args[1:]

			var body string
			switch {
			case file != "":
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read file: %w", err)
				}
				body = string(data)
			case cmd.ArgsLenAtDash() >= 0 && cmd.ArgsLenAtDash() <= len(args):
				dashed := args[cmd.ArgsLenAtDash():]
				tokens, err := shlex.Split(strings.Join(dashed, " "))
				if err != nil {
					return fmt.Errorf("parse shell-quoted message: %w", err)
				}
				body = cleanLLMEscapes(strings.Join(tokens, " "))
			case len(rest) > 0:
				body = cleanLLMEscapes(strings.Join(rest, " "))
			default:
				return fmt.Errorf("message body is required (provide as arguments, --file, or after --)")
			}

			if mode == "" {
				mode = "sequential"
			}

			sender := os.Getenv("CLAUDE_SESSION_MANAGER_ID")
			if !allowSelf && sender != "" && sender == name {
				return fmt.Errorf("cannot send a message to yourself (%s); use --allow-self to override", name)
			}

			req := sendRequest{
				Text:             body,
				SenderSessionID:  sender,
				DeliveryMode:     mode,
				NotifyOnDelivery: notifyOnDelivery,
				NotifyOnStop:     notifyOnStop,
			}
			if notifyAfterSecs > 0 {
				req.NotifyAfterSeconds = &notifyAfterSecs
			}

			var resp sendResponse
			if err := doJSON("POST", "/sessions/"+name+"/input", req, &resp); err != nil {
				return err
			}
			cmd.Println(resp.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "sequential", "Delivery mode (sequential|important|urgent|steer)")
	cmd.Flags().StringVar(&file, "file", "", "Read message body from file")
	cmd.Flags().IntVar(&notifyAfterSecs, "notify-after", 0, "Remind the sender after N seconds, whether or not the message was delivered")
	cmd.Flags().BoolVar(&notifyOnDelivery, "notify-on-delivery", false, "Notify the sender once delivered")
	cmd.Flags().BoolVar(&notifyOnStop, "notify-on-stop", false, "Notify the sender when the target next goes idle")
	cmd.Flags().BoolVar(&allowSelf, "allow-self", false, "Allow sending a message to yourself")

	return cmd
}

// cleanLLMEscapes removes spurious backslash escapes that LLMs insert into
// shell command arguments. For example, Claude Code often writes \! or \?
// in strings even though these characters don't need escaping. We only
// strip backslashes before characters that are never meaningful escape
// sequences in plain text, looping until stable to handle double-escaped
// backslashes (e.g. \\! -> \! -> !).
func cleanLLMEscapes(s string) string {
	for {
		cleaned := stripBackslashPunctuation(s)
		if cleaned == s {
			return cleaned
		}
		s = cleaned
	}
}

func stripBackslashPunctuation(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			next := s[i+1]
			switch next {
			case '!', '?', '.', ',', ':', ';', ')', '(', ']', '[', '{', '}',
				'#', '+', '-', '=', '|', '>', '<', '~', '^', '@', '&', '%',
				'$', '\'', '"', '`', '/':
				b.WriteByte(next)
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

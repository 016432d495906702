// Command sm coordinates concurrent Claude/Codex agent sessions: spawning,
// message delivery, idle detection, and handoff.
package main

import (
	"fmt"
	"os"

	"sm/internal/cli"
)

func main() {
	root := cli.NewRootCmd()
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	os.Exit(cli.ExitCode(err))
}

package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sm/internal/app"
	"sm/internal/config"
	"sm/internal/httpapi"
	"sm/internal/terminal"
)

// newServeCmd runs the engine: it owns the registry, monitor, delivery
// engine and timer service, and exposes them over HTTP (C1-C7), grounded on
// the teacher's daemon lifecycle in internal/daemon.Daemon.Run, generalized
// from "one daemon per wrapped agent" to one long-lived process serving
// every session.
func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session manager engine and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServeConfig(configPath)
			if err != nil {
				return err
			}

			term := terminal.NewTmuxDriver()

			a, err := app.New(cfg, term)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer a.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if err := a.Resume(ctx); err != nil {
				return fmt.Errorf("serve: resume: %w", err)
			}

			srv := httpapi.NewServer(httpapi.Dependencies{
				Registry: a.Registry,
				Engine:   a.Engine,
				Timer:    a.Timer,
				Store:    a.Store,
				Terminal: a.Terminal,
				Config:   a.Config,
			})

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case <-sigCh:
				log.Println("serve: shutting down")
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to config.yaml (defaults to ~/.sm/config.yaml)")
	return cmd
}

func loadServeConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.DefaultPath()
	}
	return config.Load(path)
}

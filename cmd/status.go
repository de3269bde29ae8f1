package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/tfkr-ae/notebridge/supervisor"
)

func newStatusCmd(app *app) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Probe the configured backend once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}

			backend, err := cfg.BackendURL()
			if err != nil {
				return err
			}

			mode := supervisor.ModeManaged
			if cfg.Backend.Command == "" {
				mode = supervisor.ModeExternal
			}

			prober, err := supervisor.NewProber(cfg.Backend.Readiness, backend, cfg.Backend.HealthPath, &http.Client{Timeout: timeout})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "backend: %s\n", backend)
			fmt.Fprintf(out, "mode: %s\n", mode)
			fmt.Fprintf(out, "readiness: %s\n", cfg.Backend.Readiness)

			if err := prober.Probe(ctx); err != nil {
				fmt.Fprintln(out, "state: down")
				return fmt.Errorf("backend is not reachable: %w", err)
			}

			_, err = fmt.Fprintln(out, "state: up")
			return err
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "probe timeout")

	return cmd
}

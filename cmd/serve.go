package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tfkr-ae/notebridge"
)

func newServeCmd(app *app) *cobra.Command {
	var external bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Long:  "Run the gateway. The backend is launched on the first forwarded request, or only probed when --external is set.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for key, flag := range map[string]string{
				"listen.address": "address",
				"listen.port":    "port",
				"backend.url":    "backend-url",
			} {
				if err := app.viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return fmt.Errorf("bind --%s: %w", flag, err)
				}
			}

			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}
			if external {
				cfg.Backend.Command = ""
			}

			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
			gateway, err := wireGateway(cfg, logger)
			if err != nil {
				return err
			}

			listener, err := gateway.GetListener(cfg.Listen.Address, cfg.Listen.Port)
			if err != nil {
				return errors.Join(err, gateway.Close())
			}
			log.Printf("[*] forwarding %s to %s (%s backend)", cfg.Route, cfg.Backend.URL, gateway.Supervisor.Mode())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			served := make(chan error, 1)
			go func() {
				served <- gateway.Serve(listener)
			}()

			select {
			case err := <-served:
				return errors.Join(err, gateway.Close())
			case <-ctx.Done():
			}

			log.Println("[*] shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Backend.StopGrace+5*time.Second)
			defer cancel()

			shutdownErr := gateway.Shutdown(shutdownCtx)
			serveErr := <-served
			if errors.Is(serveErr, notebridge.ErrClosed) {
				serveErr = nil
			}
			return errors.Join(serveErr, shutdownErr)
		},
	}

	cmd.Flags().String("address", "", "interface to listen on (listen.address)")
	cmd.Flags().String("port", "", "port to listen on (listen.port)")
	cmd.Flags().String("backend-url", "", "base URL of the note backend (backend.url)")
	cmd.Flags().BoolVar(&external, "external", false, "never launch the backend, only probe backend.url")

	return cmd
}

package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

func newConfigCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}

			out, err := toml.Marshal(cfg.Viper().AllSettings())
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", filepath.Join(cfg.ConfigDir, "config.yaml"))
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})

	return cmd
}

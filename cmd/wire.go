package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/viper"
	"github.com/tfkr-ae/notebridge"
	"github.com/tfkr-ae/notebridge/db"
)

type app struct {
	viper     *viper.Viper
	configDir string
}

func (a *app) loadConfig() (*notebridge.Config, error) {
	cfg, err := notebridge.LoadConfig(a.configDir, a.viper)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func openRepository(cfg *notebridge.Config) (*db.Repository, error) {
	conn, err := db.New(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DBPath(), err)
	}
	return db.NewRepository(conn), nil
}

// withRepository opens the database for a read-only command and closes it afterwards.
func (a *app) withRepository(fn func(repo *db.Repository) error) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	return fn(repo)
}

func wireGateway(cfg *notebridge.Config, logger *slog.Logger) (*notebridge.Gateway, error) {
	repo, err := openRepository(cfg)
	if err != nil {
		return nil, err
	}

	gateway, err := notebridge.New(
		notebridge.WithConfig(cfg),
		notebridge.WithRepo(repo),
		notebridge.WithLogger(logger),
	)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("wire gateway: %w", err)
	}
	return gateway, nil
}

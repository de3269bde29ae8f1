package notebridge

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/viper"
	"github.com/tfkr-ae/notebridge/domain"
	"github.com/tfkr-ae/notebridge/hooks"
	"github.com/tfkr-ae/notebridge/supervisor"
)

// WithOptions applies a series of configuration functions to the gateway instance.
// Each option function can modify the gateway configuration and return an error if it fails.
func (gateway *Gateway) WithOptions(options ...func(*Gateway) error) error {
	for _, option := range options {
		err := option(gateway)
		if err != nil {
			return fmt.Errorf("applying option on notebridge : %w", err)
		}
	}
	return nil
}

// WithConfigDir reads config.yaml from appConfigDir through the global viper instance, so flags
// bound with viper.BindPFlag take precedence. The directory and the file are created on first run.
func WithConfigDir(appConfigDir string) func(*Gateway) error {
	return func(gateway *Gateway) error {
		cfg, err := LoadConfig(appConfigDir, viper.GetViper())
		if err != nil {
			return err
		}
		gateway.Config = cfg
		return nil
	}
}

// WithConfig uses an already loaded configuration.
func WithConfig(cfg *Config) func(*Gateway) error {
	return func(gateway *Gateway) error {
		if cfg == nil {
			return errors.New("config is nil")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		gateway.Config = cfg
		return nil
	}
}

// WithRepo will take the Repository interface and replace any repository already set, closing it first.
func WithRepo(repo Repository) func(*Gateway) error {
	return func(gateway *Gateway) error {
		if gateway.Repo != nil {
			if err := gateway.Repo.Close(); err != nil {
				return err
			}
			gateway.Repo = nil
		}
		gateway.Repo = repo
		return nil
	}
}

// WithSupervisor uses an existing backend handle instead of creating one from the config.
// Events of that handle are not recorded unless it was created with HandleEvent as its event handler.
func WithSupervisor(process *supervisor.Process) func(*Gateway) error {
	return func(gateway *Gateway) error {
		if process == nil {
			return errors.New("supervisor is nil")
		}
		gateway.Supervisor = process
		return nil
	}
}

// WithHooks uses an already loaded hook engine. Engines loaded from a file are watched for changes.
func WithHooks(engine *hooks.Engine) func(*Gateway) error {
	return func(gateway *Gateway) error {
		gateway.Hooks = engine
		return nil
	}
}

// WithTransport replaces the transport used for backend calls and http readiness probes.
func WithTransport(transport http.RoundTripper) func(*Gateway) error {
	return func(gateway *Gateway) error {
		if transport == nil {
			return errors.New("transport is nil")
		}
		gateway.Transport = transport
		return nil
	}
}

// WithLogger sets the process level logger, nil keeps slog.Default.
func WithLogger(logger *slog.Logger) func(*Gateway) error {
	return func(gateway *Gateway) error {
		if logger != nil {
			gateway.Logger = logger
		}
		return nil
	}
}

// WithLogHandler takes a handler function that will be executed on each Log.
// Handlers run on the DB writer goroutine and must not call WriteLog.
func WithLogHandler(handler func(log domain.Log) error) func(*Gateway) error {
	return func(gateway *Gateway) error {
		if gateway.OnLog != nil {
			return errors.New("gateway already has a log handler defined")
		}
		gateway.OnLog = handler
		return nil
	}
}

// WithExchangeHandler takes a handler function that will be executed on each recorded exchange
func WithExchangeHandler(handler func(exchange domain.Exchange) error) func(*Gateway) error {
	return func(gateway *Gateway) error {
		if gateway.OnExchange != nil {
			return errors.New("gateway already has an exchange handler defined")
		}
		gateway.OnExchange = handler
		return nil
	}
}

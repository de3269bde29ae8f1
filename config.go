package notebridge

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configName = "config"
	configType = "yaml"
	envPrefix  = "NOTEBRIDGE"

	// StatusPath serves the supervisor snapshot.
	StatusPath = "/_notebridge/status"
)

type ListenConfig struct {
	Address string `mapstructure:"address"` // Interface the gateway binds to
	Port    string `mapstructure:"port"`    // Port the gateway binds to
}

type BackendConfig struct {
	URL              string            `mapstructure:"url"`     // Base URL requests are forwarded to
	Command          string            `mapstructure:"command"` // Executable to launch, empty for external mode
	Args             []string          `mapstructure:"args"`
	Dir              string            `mapstructure:"dir"` // Working directory, relative paths resolve against the config dir
	Env              map[string]string `mapstructure:"env"`
	Readiness        string            `mapstructure:"readiness"` // tcp, http or delay
	HealthPath       string            `mapstructure:"health_path"`
	StartupDelay     time.Duration     `mapstructure:"startup_delay"`
	ReadyTimeout     time.Duration     `mapstructure:"ready_timeout"`
	RelaunchInterval time.Duration     `mapstructure:"relaunch_interval"`
	StopGrace        time.Duration     `mapstructure:"stop_grace"`
	RequestTimeout   time.Duration     `mapstructure:"request_timeout"` // Upper bound for one forwarded call
}

type GatewayConfig struct {
	ValidateRequests bool     `mapstructure:"validate_requests"` // Validate note requests before forwarding
	CORSOrigin       string   `mapstructure:"cors_origin"`       // Allowed origin, empty disables CORS handling
	AllowPaths       []string `mapstructure:"allow_paths"`       // Path patterns forwarded, empty allows every path
	DenyPaths        []string `mapstructure:"deny_paths"`        // Path patterns never forwarded
}

type HooksConfig struct {
	Script string `mapstructure:"script"` // Lua hook script, empty disables hooks
}

type TLSConfig struct {
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

type DBConfig struct {
	Name string `mapstructure:"name"` // SQLite file name inside the config dir
}

// Config is the gateway configuration as read from config.yaml, the environment and flags.
type Config struct {
	viper     *viper.Viper
	ConfigDir string        `mapstructure:"-"` // Directory holding config.yaml and the database
	Listen    ListenConfig  `mapstructure:"listen"`
	Route     string        `mapstructure:"route"` // Path prefix forwarded to the backend
	Backend   BackendConfig `mapstructure:"backend"`
	Gateway   GatewayConfig `mapstructure:"gateway"`
	Hooks     HooksConfig   `mapstructure:"hooks"`
	TLS       TLSConfig     `mapstructure:"tls"`
	DB        DBConfig      `mapstructure:"db"`
}

// SetDefaults registers every config key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("listen.address", "127.0.0.1")
	v.SetDefault("listen.port", "3000")
	v.SetDefault("route", "/api")
	v.SetDefault("backend.url", "http://localhost:8000")
	v.SetDefault("backend.command", "uvicorn")
	v.SetDefault("backend.args", []string{"fastapi_app:app", "--reload", "--port", "8000"})
	v.SetDefault("backend.dir", "api")
	v.SetDefault("backend.env", map[string]string{})
	v.SetDefault("backend.readiness", "tcp")
	v.SetDefault("backend.health_path", "/health")
	v.SetDefault("backend.startup_delay", "3s")
	v.SetDefault("backend.ready_timeout", "30s")
	v.SetDefault("backend.relaunch_interval", "2s")
	v.SetDefault("backend.stop_grace", "5s")
	v.SetDefault("backend.request_timeout", "120s")
	v.SetDefault("gateway.validate_requests", true)
	v.SetDefault("gateway.cors_origin", "")
	v.SetDefault("gateway.allow_paths", []string{})
	v.SetDefault("gateway.deny_paths", []string{})
	v.SetDefault("hooks.script", "")
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("db.name", "notebridge.db")
}

// DefaultConfig returns the configuration used when no config file exists.
func DefaultConfig() (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	cfg := &Config{viper: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling default config : %w", err)
	}
	return cfg, nil
}

// LoadConfig reads config.yaml from appConfigDir into v, creating the directory and the file on first run.
// NOTEBRIDGE_* environment variables and any flags bound to v take precedence over the file.
func LoadConfig(appConfigDir string, v *viper.Viper) (*Config, error) {
	_, err := os.ReadDir(appConfigDir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Println("[*] creating config dir")
			if err := os.MkdirAll(appConfigDir, 0700); err != nil {
				return nil, fmt.Errorf("creating config dir %s: %w", appConfigDir, err)
			}
		} else {
			return nil, fmt.Errorf("checking if directory exists %s: %w", appConfigDir, err)
		}
	}

	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.AddConfigPath(appConfigDir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	// NOTEBRIDGE_BACKEND_COMMAND="" selects external mode
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file : %w", err)
		}
		// Only the defaults are persisted, flags and environment stay per invocation.
		defaults := viper.New()
		SetDefaults(defaults)
		if err := defaults.SafeWriteConfigAs(filepath.Join(appConfigDir, configName+"."+configType)); err != nil {
			return nil, fmt.Errorf("writing config file : %w", err)
		}
	}

	cfg := &Config{viper: v, ConfigDir: appConfigDir}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config to struct : %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that cannot be fixed up later.
func (cfg *Config) Validate() error {
	if _, err := cfg.BackendURL(); err != nil {
		return err
	}
	if !strings.HasPrefix(cfg.Route, "/") {
		return fmt.Errorf("route %q must start with /", cfg.Route)
	}
	if (cfg.TLS.CertFile == "") != (cfg.TLS.KeyFile == "") {
		return errors.New("tls.cert_file and tls.key_file must be set together")
	}
	return nil
}

// Viper returns the viper instance the config was read from, nil for DefaultConfig.
func (cfg *Config) Viper() *viper.Viper {
	return cfg.viper
}

// BackendURL parses backend.url.
func (cfg *Config) BackendURL() (*url.URL, error) {
	u, err := url.Parse(cfg.Backend.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing backend url %q : %w", cfg.Backend.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend url %q must be http or https", cfg.Backend.URL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("backend url %q has no host", cfg.Backend.URL)
	}
	return u, nil
}

// BackendDir returns backend.dir resolved against the config dir.
func (cfg *Config) BackendDir() string {
	return cfg.resolve(cfg.Backend.Dir)
}

// HookScript returns hooks.script resolved against the config dir.
func (cfg *Config) HookScript() string {
	return cfg.resolve(cfg.Hooks.Script)
}

// DBPath returns the SQLite file path.
func (cfg *Config) DBPath() string {
	return cfg.resolve(cfg.DB.Name)
}

func (cfg *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || cfg.ConfigDir == "" {
		return p
	}
	return filepath.Join(cfg.ConfigDir, p)
}

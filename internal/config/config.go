// Package config loads client configuration from YAML with environment
// variable overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvAPIBaseURL      = "LABFLOW_API_BASE_URL"
	EnvDataDir         = "LABFLOW_DATA_DIR"
	EnvDownloadDir     = "LABFLOW_DOWNLOAD_DIR"
	EnvLogLevel        = "LABFLOW_LOG_LEVEL"
	EnvLogFormat       = "LABFLOW_LOG_FORMAT"
	EnvIdentityTimeout = "LABFLOW_IDENTITY_TIMEOUT"
)

// Config is the root client configuration.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Session  SessionConfig  `yaml:"session"`
	Download DownloadConfig `yaml:"download"`
	Logging  LoggingConfig  `yaml:"logging"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Routes   []RouteConfig  `yaml:"routes"`
}

// APIConfig locates the backend.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// SessionConfig controls session persistence and identity resolution.
type SessionConfig struct {
	DataDir         string        `yaml:"data_dir"`
	IdentityTimeout time.Duration `yaml:"identity_timeout"`
}

// DownloadConfig controls where downloads are saved.
type DownloadConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GatewayConfig configures the local guarded gateway.
type GatewayConfig struct {
	Addr string `yaml:"addr"`
}

// RouteConfig declares one route for the navigation guard. A route with
// RedirectTo set is a static redirect and carries no metadata.
type RouteConfig struct {
	Path       string   `yaml:"path"`
	Public     bool     `yaml:"public"`
	Roles      []string `yaml:"roles"`
	RedirectTo string   `yaml:"redirect_to"`
}

// SessionDBPath returns the path of the session database.
func (c *Config) SessionDBPath() string {
	return filepath.Join(c.Session.DataDir, "session.db")
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:8080",
		},
		Session: SessionConfig{
			DataDir: defaultDataDir(),
		},
		Download: DownloadConfig{
			Dir: ".",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Gateway: GatewayConfig{
			Addr: "127.0.0.1:5173",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data"
	}
	return filepath.Join(home, ".labflow")
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv(EnvAPIBaseURL); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.Session.DataDir = v
	}
	if v := os.Getenv(EnvDownloadDir); v != "" {
		cfg.Download.Dir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv(EnvIdentityTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvIdentityTimeout, err)
		}
		cfg.Session.IdentityTimeout = d
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url must be an absolute http(s) URL, got %q", c.API.BaseURL))
	}
	if c.API.Timeout < 0 {
		errs = append(errs, errors.New("api.timeout must not be negative"))
	}
	if c.Session.DataDir == "" {
		errs = append(errs, errors.New("session.data_dir is required"))
	}
	if c.Session.IdentityTimeout < 0 {
		errs = append(errs, errors.New("session.identity_timeout must not be negative"))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format))
	}

	seen := make(map[string]bool, len(c.Routes))
	for i, r := range c.Routes {
		switch {
		case !strings.HasPrefix(r.Path, "/"):
			errs = append(errs, fmt.Errorf("routes[%d].path must start with /", i))
		case seen[r.Path]:
			errs = append(errs, fmt.Errorf("routes[%d].path %q is declared twice", i, r.Path))
		}
		seen[r.Path] = true
		if r.RedirectTo != "" && (r.Public || len(r.Roles) > 0) {
			errs = append(errs, fmt.Errorf("routes[%d]: a redirect cannot declare public or roles", i))
		}
	}

	return errors.Join(errs...)
}

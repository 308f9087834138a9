// Package config handles CLI, environment and TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"
)

const (
	// DefaultUpstreamBaseURL is the calculation service the gateway fronts.
	DefaultUpstreamBaseURL = "https://tornprobability.com:3000"
	// DefaultAllowedOriginPattern admits the single browser origin served by the gateway.
	DefaultAllowedOriginPattern = `https://oc\.tornrevive\.page`
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/tornprobability-gateway/config.toml",
	"configs/config.toml",
}

// reservedRoutes are served by the gateway itself and cannot host the metrics endpoint.
var reservedRoutes = []string{"/calculate", "/scenarios", "/weights", "/names", "/healthz", "/gateway/status"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config               string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host                 string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port                 int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	UpstreamBaseURL      string `kong:"name='upstream-base-url',help='Upstream base URL (overrides config).',env='UPSTREAM_BASE_URL'"`
	AllowedOriginPattern string `kong:"name='allowed-origin-pattern',help='Regex of origins allowed cross-origin access (overrides config).',env='ALLOWED_ORIGIN_PATTERN'"`
	LogLevel             string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	CORS     CORSConfig     `toml:"cors"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`           // 0 means "use default" (8000)
	BodyMaxBytes int64  `toml:"body_max_bytes"` // 0 disables the inbound body limit
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	BaseURL         string `toml:"base_url"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
}

// CORSConfig holds the cross-origin policy.
type CORSConfig struct {
	AllowedOriginPattern string `toml:"allowed_origin_pattern"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file, if any, and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/tornprobability-gateway/config.toml then configs/config.toml and falls
// back to defaults plus flags and environment when neither exists.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.UpstreamBaseURL != "" {
		c.Upstream.BaseURL = cli.UpstreamBaseURL
	}
	if cli.AllowedOriginPattern != "" {
		c.CORS.AllowedOriginPattern = cli.AllowedOriginPattern
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

// validate reports every invalid field at once.
func (c *Config) validate() error {
	var errs error

	u, err := url.Parse(c.Upstream.BaseURL)
	switch {
	case err != nil:
		errs = multierr.Append(errs, fmt.Errorf("upstream.base_url is not a valid URL: %w", err))
	case u.Scheme != "https":
		errs = multierr.Append(errs, fmt.Errorf("upstream.base_url must use HTTPS; got %q", c.Upstream.BaseURL))
	case u.Host == "":
		errs = multierr.Append(errs, fmt.Errorf("upstream.base_url has no host; got %q", c.Upstream.BaseURL))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port))
	}
	if c.Server.BodyMaxBytes < 0 {
		errs = multierr.Append(errs, fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes))
	}
	if c.Upstream.TimeoutSeconds < 0 {
		errs = multierr.Append(errs, fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds))
	}
	if c.Upstream.IdleConnections < 0 {
		errs = multierr.Append(errs, fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections))
	}

	if _, err := c.CORS.OriginMatcher(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("cors.allowed_origin_pattern: %w", err))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		errs = multierr.Append(errs, fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
	default:
		errs = multierr.Append(errs, fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format))
	}

	if c.Metrics.Enabled {
		errs = multierr.Append(errs, validateMetricsPath(c.Metrics.Path))
	}

	return errs
}

func validateMetricsPath(p string) error {
	if !strings.HasPrefix(p, "/") {
		return fmt.Errorf("metrics.path must start with '/'; got %q", p)
	}
	for _, reserved := range reservedRoutes {
		if p == reserved || strings.HasPrefix(p, reserved+"/") {
			return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
		}
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = DefaultUpstreamBaseURL
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.CORS.AllowedOriginPattern == "" {
		c.CORS.AllowedOriginPattern = DefaultAllowedOriginPattern
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// OriginMatcher compiles the allowed-origin pattern. The whole origin must
// match; a pattern for one host never admits a longer host sharing its prefix.
func (c *CORSConfig) OriginMatcher() (*regexp.Regexp, error) {
	if c.AllowedOriginPattern == "" {
		return nil, errors.New("pattern is empty")
	}
	re, err := regexp.Compile(`^(?:` + c.AllowedOriginPattern + `)$`)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", c.AllowedOriginPattern, err)
	}
	return re, nil
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}

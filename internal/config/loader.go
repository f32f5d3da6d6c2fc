package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// validHTTPMethods contains all valid HTTP method names.
var validHTTPMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true,
	"DELETE": true, "PATCH": true, "OPTIONS": true,
}

// knownPlugins are the plugin names the enabled list may reference.
var knownPlugins = map[string]bool{
	"mock": true, "health": true, "auth": true,
	"session": true, "access_log": true,
}

// Loader handles configuration loading and parsing.
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return l.Parse(data)
}

// Parse parses configuration from YAML bytes.
func (l *Loader) Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := l.expandEnvVars(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values.
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match // Keep original if env var not set
	})
}

// validate checks configuration for errors.
func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	switch cfg.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level: %s", cfg.Logging.Level)
	}

	switch cfg.Auth.Strategy {
	case "none", "basic", "bearer", "api_key":
	default:
		return fmt.Errorf("unknown auth strategy: %s", cfg.Auth.Strategy)
	}

	switch cfg.Session.Storage {
	case "memory", "file", "sqlite", "redis":
	default:
		return fmt.Errorf("unknown session storage: %s", cfg.Session.Storage)
	}

	for _, name := range cfg.Plugins.Enabled {
		if !knownPlugins[name] {
			return fmt.Errorf("unknown plugin: %s", name)
		}
	}

	for i, scenario := range cfg.Mock.Scenarios {
		if scenario.Name == "" {
			return fmt.Errorf("mock scenario %d: name is required", i)
		}
		for j, route := range scenario.Routes {
			if route.Path == "" {
				return fmt.Errorf("mock scenario %s route %d: path is required", scenario.Name, j)
			}
			if route.Method != "" && !validHTTPMethods[strings.ToUpper(route.Method)] {
				return fmt.Errorf("mock scenario %s route %d: invalid method %s", scenario.Name, j, route.Method)
			}
			if route.Response.Status < 100 || route.Response.Status > 599 {
				return fmt.Errorf("mock scenario %s route %d: invalid status %d", scenario.Name, j, route.Response.Status)
			}
		}
	}

	if cfg.Proxy.Enabled {
		if len(cfg.Proxy.Upstreams) == 0 {
			return fmt.Errorf("proxy is enabled but no upstreams are configured")
		}
		switch cfg.Proxy.Strategy {
		case "", "round_robin", "least_connections", "weighted_round_robin", "random":
		default:
			return fmt.Errorf("unknown proxy strategy: %s", cfg.Proxy.Strategy)
		}
		names := make(map[string]bool, len(cfg.Proxy.Upstreams))
		for i, up := range cfg.Proxy.Upstreams {
			if up.Name == "" {
				return fmt.Errorf("upstream %d: name is required", i)
			}
			if names[up.Name] {
				return fmt.Errorf("duplicate upstream name: %s", up.Name)
			}
			names[up.Name] = true
			u, err := url.Parse(up.URL)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("upstream %s: invalid url %q", up.Name, up.URL)
			}
		}
	}

	return nil
}

// PluginBlob returns the raw YAML bytes for one plugin's config section,
// suitable for a plugin's Initialize.
func (c *Config) PluginBlob(name string) ([]byte, error) {
	blob, ok := c.Plugins.Config[name]
	if !ok {
		return nil, nil
	}
	data, err := yaml.Marshal(blob)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode plugin config %s: %w", name, err)
	}
	return data, nil
}

// Save writes the configuration to a file as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyEnvOverrides applies environment variable overrides on top of the
// loaded configuration.
func (c *Config) ApplyEnvOverrides() {
	if host := os.Getenv("NOX_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("NOX_PORT"); port != "" {
		var p int
		if _, err := fmt.Sscanf(port, "%d", &p); err == nil {
			c.Server.Port = p
		}
	}
	if level := os.Getenv("NOX_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if auth := os.Getenv("NOX_AUTH_STRATEGY"); auth != "" {
		c.Auth.Strategy = auth
	}
}

package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the server.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Plugins     PluginConfig      `yaml:"plugins"`
	Mock        MockConfig        `yaml:"mock"`
	Auth        AuthConfig        `yaml:"auth"`
	Session     SessionConfig     `yaml:"session"`
	StaticFiles StaticFilesConfig `yaml:"static_files"`
	Proxy       ProxyConfig       `yaml:"proxy"`
	Health      HealthConfig      `yaml:"health"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	RequestTimeout   int    `yaml:"request_timeout"`    // seconds
	KeepAliveTimeout int    `yaml:"keep_alive_timeout"` // seconds
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level          string `yaml:"level"`
	Format         string `yaml:"format"` // "json" or "text"
	File           string `yaml:"file"`
	RequestLogging bool   `yaml:"request_logging"`
}

// PluginConfig lists enabled plugins and their opaque per-plugin blobs.
type PluginConfig struct {
	Enabled []string                  `yaml:"enabled"`
	Config  map[string]map[string]any `yaml:"config"`
}

// MockConfig holds mock scenario definitions.
type MockConfig struct {
	Scenarios      []MockScenario `yaml:"scenarios"`
	DefaultDelayMs int64          `yaml:"default_delay"` // milliseconds
	RecordRequests bool           `yaml:"record_requests"`
}

// MockScenario groups mock routes under a toggleable name.
type MockScenario struct {
	Name    string      `yaml:"name"`
	Enabled *bool       `yaml:"enabled"`
	Routes  []MockRoute `yaml:"routes"`
}

// Active reports whether the scenario is enabled (default true).
func (s MockScenario) Active() bool {
	return s.Enabled == nil || *s.Enabled
}

// MockRoute describes a single mock route matcher and its response.
type MockRoute struct {
	Path     string            `yaml:"path"`
	Method   string            `yaml:"method"`
	Headers  map[string]string `yaml:"headers"`
	Query    map[string]string `yaml:"query"`
	Response MockResponse      `yaml:"response"`
}

// MockResponse describes the response a mock route produces.
type MockResponse struct {
	Status   int               `yaml:"status"`
	Headers  map[string]string `yaml:"headers"`
	Body     string            `yaml:"body"`
	BodyFile string            `yaml:"body_file"`
	DelayMs  int64             `yaml:"delay"` // milliseconds
	Template bool              `yaml:"template"`
}

// AuthConfig selects the authentication strategy.
type AuthConfig struct {
	Strategy   string            `yaml:"strategy"` // "none", "basic", "bearer", "api_key"
	Realm      string            `yaml:"realm"`
	Users      map[string]string `yaml:"users"`    // username -> password (basic) or token -> user id (bearer)
	APIKeys    []string          `yaml:"api_keys"` // for api_key strategy
	HeaderName string            `yaml:"header_name"`
	JWTSecret  string            `yaml:"jwt_secret"` // bearer: enables JWT validation when set
}

// SessionConfig selects session storage and cookie behavior.
type SessionConfig struct {
	Storage        string         `yaml:"storage"` // "memory", "file", "sqlite", "redis"
	TimeoutSecs    int64          `yaml:"timeout"` // seconds
	CookieName     string         `yaml:"cookie_name"`
	CookieSecure   bool           `yaml:"cookie_secure"`
	CookieHTTPOnly bool           `yaml:"cookie_http_only"`
	StorageConfig  map[string]any `yaml:"storage_config"`
}

// Timeout returns the session timeout as a Duration.
func (s SessionConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSecs) * time.Second
}

// StaticFilesConfig controls the static file handler.
type StaticFilesConfig struct {
	Enabled      bool     `yaml:"enabled"`
	RootDir      string   `yaml:"root_dir"`
	IndexFiles   []string `yaml:"index_files"`
	CacheControl string   `yaml:"cache_control"`
	Prefix       string   `yaml:"prefix"`
}

// ProxyConfig controls the reverse proxy handler.
type ProxyConfig struct {
	Enabled       bool             `yaml:"enabled"`
	Upstreams     []UpstreamConfig `yaml:"upstreams"`
	Strategy      string           `yaml:"strategy"` // round_robin, least_connections, weighted_round_robin, random
	TimeoutSecs   int64            `yaml:"timeout"`  // seconds
	RetryAttempts int              `yaml:"retry_attempts"`
}

// Timeout returns the upstream call timeout as a Duration.
func (p ProxyConfig) Timeout() time.Duration {
	if p.TimeoutSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.TimeoutSecs) * time.Second
}

// UpstreamConfig describes one proxy backend.
type UpstreamConfig struct {
	Name        string `yaml:"name"`
	URL         string `yaml:"url"`
	Weight      int    `yaml:"weight"`
	HealthCheck string `yaml:"health_check"`
}

// HealthConfig controls the built-in health endpoints.
type HealthConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Path     string `yaml:"path"`
	Detailed bool   `yaml:"detailed"`
}

// DefaultConfig returns the configuration used when no file is supplied.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "127.0.0.1",
			Port:             8080,
			RequestTimeout:   30,
			KeepAliveTimeout: 60,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "text",
			RequestLogging: true,
		},
		Plugins: PluginConfig{
			Enabled: []string{"mock", "health"},
			Config:  map[string]map[string]any{},
		},
		Auth: AuthConfig{
			Strategy: "none",
		},
		Session: SessionConfig{
			Storage:        "memory",
			TimeoutSecs:    3600,
			CookieName:     "session_id",
			CookieSecure:   false,
			CookieHTTPOnly: true,
			StorageConfig:  map[string]any{},
		},
		StaticFiles: StaticFilesConfig{
			Enabled:      false,
			RootDir:      "./static",
			IndexFiles:   []string{"index.html"},
			CacheControl: "public, max-age=3600",
		},
		Proxy: ProxyConfig{
			Enabled:       false,
			Strategy:      "round_robin",
			TimeoutSecs:   30,
			RetryAttempts: 3,
		},
		Health: HealthConfig{
			Enabled: true,
			Path:    "/health",
		},
	}
}

// BindAddress returns the host:port the server listens on.
func (c *Config) BindAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// RequestTimeout returns the per-request timeout as a Duration.
func (c *Config) RequestTimeout() time.Duration {
	if c.Server.RequestTimeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Server.RequestTimeout) * time.Second
}

// KeepAliveTimeout returns the idle connection timeout as a Duration.
func (c *Config) KeepAliveTimeout() time.Duration {
	if c.Server.KeepAliveTimeout <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Server.KeepAliveTimeout) * time.Second
}

// PluginEnabled reports whether a plugin name appears in the enabled list.
func (c *Config) PluginEnabled(name string) bool {
	for _, n := range c.Plugins.Enabled {
		if n == name {
			return true
		}
	}
	return false
}

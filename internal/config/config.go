package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variable names recognized as overrides.
const (
	EnvServerURL = "MCP_SERVER_URL"
	EnvAuthToken = "MCP_AUTH_TOKEN"
	EnvSecretKey = "SECRET_KEY"
)

// Config represents the gateway configuration loaded from YAML with
// environment overrides.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
	Session     SessionConfig     `yaml:"session"`
	RateLimiter RateLimiterConfig `yaml:"rate_limiter"`
	Cache       CacheConfig       `yaml:"cache"`
	Audit       AuditConfig       `yaml:"audit"`
}

// ServerConfig controls the HTTP server exposed to front-end callers.
type ServerConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// UpstreamConfig describes the remote tool-invocation server.
type UpstreamConfig struct {
	ServerURL string        `yaml:"server_url"`
	AuthToken string        `yaml:"auth_token"`
	Timeout   time.Duration `yaml:"timeout"`
	// InsecureTLS disables certificate verification against the upstream.
	// Explicit opt-in for test endpoints only.
	InsecureTLS bool `yaml:"insecure_tls"`
}

// SessionConfig configures HS256 session-token signing.
type SessionConfig struct {
	SecretKey string        `yaml:"secret_key"`
	Issuer    string        `yaml:"issuer"`
	TTL       time.Duration `yaml:"ttl"`
}

// RateLimiterConfig defines per-client rate limiting behaviour.
type RateLimiterConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Window            time.Duration `yaml:"window"`
	RedisAddr         string        `yaml:"redis_addr"`
	RedisUsername     string        `yaml:"redis_username"`
	RedisPassword     string        `yaml:"redis_password"`
	RedisDB           int           `yaml:"redis_db"`
}

// CacheConfig configures the tools-list cache.
type CacheConfig struct {
	Enabled     bool          `yaml:"enabled"`
	NumCounters int64         `yaml:"num_counters"`
	MaxCost     int64         `yaml:"max_cost"`
	BufferItems int64         `yaml:"buffer_items"`
	TTL         time.Duration `yaml:"ttl"`
}

// AuditConfig configures request auditing.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads configuration from the supplied path (missing file means
// defaults), then applies .env and environment overrides.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	// .env is optional; real environment variables win over file entries.
	_ = godotenv.Load()

	if v := os.Getenv(EnvServerURL); v != "" {
		cfg.Upstream.ServerURL = v
	}
	if v := os.Getenv(EnvAuthToken); v != "" {
		cfg.Upstream.AuthToken = v
	}
	if v := os.Getenv(EnvSecretKey); v != "" {
		cfg.Session.SecretKey = v
	}

	return cfg, nil
}

// DemoMode reports whether upstream credentials are missing. Startup must not
// crash in that case; the gateway runs with tool calls disabled.
func (c Config) DemoMode() bool {
	return c.Upstream.ServerURL == "" || c.Upstream.AuthToken == ""
}

// Warnings lists configuration gaps worth surfacing at startup.
func (c Config) Warnings() []string {
	var out []string
	if c.Upstream.ServerURL == "" {
		out = append(out, EnvServerURL+" not configured; tool calls disabled (demo mode)")
	}
	if c.Upstream.AuthToken == "" {
		out = append(out, EnvAuthToken+" not configured; tool calls disabled (demo mode)")
	}
	if c.Session.SecretKey == "" {
		out = append(out, EnvSecretKey+" not configured; session tokens disabled")
	}
	if c.Upstream.InsecureTLS {
		out = append(out, "upstream TLS verification disabled; for testing only")
	}
	return out
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:      ":5000",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 150 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Upstream: UpstreamConfig{
			Timeout: 120 * time.Second,
		},
		Session: SessionConfig{
			Issuer: "mcp-gateway",
			TTL:    12 * time.Hour,
		},
		RateLimiter: RateLimiterConfig{
			Enabled:           false,
			RequestsPerSecond: 10,
			Burst:             20,
			Window:            time.Minute,
		},
		Cache: CacheConfig{
			Enabled:     true,
			NumCounters: 1e4,
			MaxCost:     1 << 20,
			BufferItems: 64,
			TTL:         30 * time.Second,
		},
		Audit: AuditConfig{Enabled: true},
	}
}

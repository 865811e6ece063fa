// Package config loads the gateway's YAML configuration file (spec §6.4),
// following cuemby-warren's apply.go pattern of unmarshaling a file into a
// plain struct with gopkg.in/yaml.v3. The gateway binary's only cobra flag
// is the file's path; no flag overrides a value read from the file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// HTTPServer mirrors spec §6.4's httpServer.* table.
type HTTPServer struct {
	Port        int      `yaml:"port"`
	Host        string   `yaml:"host"`
	Endpoint    string   `yaml:"endpoint"`
	Middlewares []string `yaml:"middlewares"`
}

// StreamableHTTP mirrors spec §6.4's streamableHttp.* table. ResponseTimeoutMs
// is milliseconds on the wire, converted to a time.Duration by Timeout().
type StreamableHTTP struct {
	ResponseTimeoutMs       int64  `yaml:"responseTimeoutMs"`
	ResponseModeStrategy    string `yaml:"responseModeStrategy"`
	EnableBackgroundChannel *bool  `yaml:"enableBackgroundChannel"`
	EnableSessionTermination *bool `yaml:"enableSessionTermination"`
}

// Timeout returns ResponseTimeoutMs as a time.Duration.
func (s StreamableHTTP) Timeout() time.Duration {
	return time.Duration(s.ResponseTimeoutMs) * time.Millisecond
}

// Broker selects and configures the Broker backend (spec §4.A: "pluggable
// broker backend").
type Broker struct {
	Backend string `yaml:"backend"` // "memory" or "nats"
	NATS    struct {
		URL            string   `yaml:"url"`
		StreamName     string   `yaml:"streamName"`
		StreamSubjects []string `yaml:"streamSubjects"`
	} `yaml:"nats"`
	Memory struct {
		LogCapacity int `yaml:"logCapacity"`
	} `yaml:"memory"`
}

// SessionStore selects and configures the Session store backend (spec §4.B).
type SessionStore struct {
	Backend string `yaml:"backend"` // "memory" or "redis"
	Redis   struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTLMs    int64  `yaml:"ttlMs"`
	} `yaml:"redis"`
}

// Logging selects the log level and output format (ambient stack, not a
// named spec component).
type Logging struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Auth configures the optional bearer-auth middleware entry named in
// httpServer.middlewares.
type Auth struct {
	// HMACSecret, when set, builds a KeyfuncVerifier over an HMAC key.
	// Otherwise IntrospectionURL must be set.
	HMACSecret      string `yaml:"hmacSecret"`
	IntrospectionURL string `yaml:"introspectionUrl"`
	ClientID        string `yaml:"clientId"`
	ClientSecret    string `yaml:"clientSecret"`
	TokenURL        string `yaml:"tokenUrl"`
}

// RateLimit configures the optional rate-limit middleware entry named in
// httpServer.middlewares.
type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
	MaxKeys           int     `yaml:"maxKeys"`
}

// Config is the root of the gateway's YAML configuration file.
type Config struct {
	HTTPServer                HTTPServer     `yaml:"httpServer"`
	StreamableHTTP            StreamableHTTP `yaml:"streamableHttp"`
	EnforceStrictCapabilities bool           `yaml:"enforceStrictCapabilities"`
	Broker                    Broker         `yaml:"broker"`
	SessionStore              SessionStore   `yaml:"sessionStore"`
	Logging                   Logging        `yaml:"logging"`
	Auth                      Auth           `yaml:"auth"`
	RateLimit                 RateLimit      `yaml:"rateLimit"`
}

// Load reads and parses a YAML config file at path, then applies defaults
// to any field the file left zero-valued.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

func boolPtr(b bool) *bool { return &b }

func (c *Config) applyDefaults() {
	if c.HTTPServer.Host == "" {
		c.HTTPServer.Host = "0.0.0.0"
	}
	if c.HTTPServer.Endpoint == "" {
		c.HTTPServer.Endpoint = "/mcp"
	}
	if c.HTTPServer.Middlewares == nil {
		c.HTTPServer.Middlewares = []string{}
	}
	if c.StreamableHTTP.ResponseTimeoutMs == 0 {
		c.StreamableHTTP.ResponseTimeoutMs = 30000
	}
	if c.StreamableHTTP.ResponseModeStrategy == "" {
		c.StreamableHTTP.ResponseModeStrategy = "default"
	}
	if c.StreamableHTTP.EnableBackgroundChannel == nil {
		c.StreamableHTTP.EnableBackgroundChannel = boolPtr(true)
	}
	if c.StreamableHTTP.EnableSessionTermination == nil {
		c.StreamableHTTP.EnableSessionTermination = boolPtr(true)
	}
	if c.Broker.Backend == "" {
		c.Broker.Backend = "memory"
	}
	if c.Broker.Memory.LogCapacity == 0 {
		c.Broker.Memory.LogCapacity = 1024
	}
	if c.Broker.NATS.StreamName == "" {
		c.Broker.NATS.StreamName = "MCP"
	}
	if len(c.Broker.NATS.StreamSubjects) == 0 {
		c.Broker.NATS.StreamSubjects = []string{"mcp.>"}
	}
	if c.SessionStore.Backend == "" {
		c.SessionStore.Backend = "memory"
	}
	if c.SessionStore.Redis.TTLMs == 0 {
		c.SessionStore.Redis.TTLMs = int64(24 * time.Hour / time.Millisecond)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
	if c.RateLimit.MaxKeys == 0 {
		c.RateLimit.MaxKeys = 10000
	}
}

func (c *Config) validate() error {
	if c.HTTPServer.Port == 0 {
		return fmt.Errorf("httpServer.port is required")
	}
	switch c.Broker.Backend {
	case "memory", "nats":
	default:
		return fmt.Errorf("broker.backend must be \"memory\" or \"nats\", got %q", c.Broker.Backend)
	}
	switch c.SessionStore.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("sessionStore.backend must be \"memory\" or \"redis\", got %q", c.SessionStore.Backend)
	}
	return nil
}

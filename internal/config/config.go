// Package config loads the copilot's configuration from YAML or JSON5
// files, with environment expansion, $include composition, and optional
// hot reload of the tunable subset.
package config

import (
	"fmt"
	"time"

	"github.com/tracklane/copilot/internal/assistant"
	"github.com/tracklane/copilot/internal/assistant/providers"
	"github.com/tracklane/copilot/internal/observability"
	"github.com/tracklane/copilot/internal/ratelimit"
	"github.com/tracklane/copilot/internal/usage"
)

// Config is the root configuration.
type Config struct {
	Server      ServerConfig                 `yaml:"server"`
	Auth        AuthConfig                   `yaml:"auth"`
	Providers   ProvidersConfig              `yaml:"providers"`
	Engine      assistant.EngineConfig       `yaml:"engine"`
	Executor    assistant.ExecutorConfig     `yaml:"executor"`
	Dispatch    assistant.DispatchConfig     `yaml:"dispatch"`
	Cache       CacheConfig                  `yaml:"cache"`
	RateLimit   ratelimit.Config             `yaml:"rate_limit"`
	Rates       map[usage.Tier]usage.Rates   `yaml:"rates"`
	Audit       AuditConfig                  `yaml:"audit"`
	Logging     observability.LogConfig      `yaml:"logging"`
	Tracing     observability.TraceConfig    `yaml:"tracing"`
	Maintenance MaintenanceConfig            `yaml:"maintenance"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

type ProvidersConfig struct {
	// Standard names the provider for the tool-calling tier, Streaming the
	// cheap tier. Valid values: "anthropic", "openai".
	Standard  string                    `yaml:"standard"`
	Streaming string                    `yaml:"streaming"`
	Anthropic providers.AnthropicConfig `yaml:"anthropic"`
	OpenAI    providers.OpenAIConfig    `yaml:"openai"`
}

type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type AuditConfig struct {
	// Driver is "memory", "sqlite", or "postgres".
	Driver    string        `yaml:"driver"`
	DSN       string        `yaml:"dsn"`
	Retention time.Duration `yaml:"retention"`
}

// MaintenanceConfig holds cron expressions for the background sweeps.
// Empty fields disable the corresponding job.
type MaintenanceConfig struct {
	CacheSweep   string `yaml:"cache_sweep"`
	LimiterPrune string `yaml:"limiter_prune"`
	TicketPrune  string `yaml:"ticket_prune"`
	AuditPrune   string `yaml:"audit_prune"`
}

// DefaultConfig returns the config used when a field is absent from the
// loaded files.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			TokenExpiry: 24 * time.Hour,
		},
		Providers: ProvidersConfig{
			Standard:  "anthropic",
			Streaming: "openai",
		},
		Engine:    assistant.DefaultEngineConfig(),
		Executor:  assistant.DefaultExecutorConfig(),
		Dispatch:  assistant.DefaultDispatchConfig(),
		Cache:     CacheConfig{TTL: 5 * time.Minute},
		RateLimit: ratelimit.DefaultConfig(),
		Rates:     usage.DefaultRates(),
		Audit: AuditConfig{
			Driver:    "memory",
			Retention: 30 * 24 * time.Hour,
		},
		Logging: observability.LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: observability.TraceConfig{
			ServiceName:  "copilot",
			SamplingRate: 1,
		},
		Maintenance: MaintenanceConfig{
			CacheSweep:   "*/5 * * * *",
			LimiterPrune: "*/10 * * * *",
			TicketPrune:  "*/5 * * * *",
			AuditPrune:   "0 3 * * *",
		},
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Providers.Standard {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("providers.standard %q is not supported", c.Providers.Standard)
	}
	switch c.Providers.Streaming {
	case "", "anthropic", "openai":
	default:
		return fmt.Errorf("providers.streaming %q is not supported", c.Providers.Streaming)
	}
	switch c.Audit.Driver {
	case "", "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("audit.driver %q is not supported", c.Audit.Driver)
	}
	if (c.Audit.Driver == "sqlite" || c.Audit.Driver == "postgres") && c.Audit.DSN == "" {
		return fmt.Errorf("audit.dsn is required for driver %q", c.Audit.Driver)
	}
	if c.RateLimit.Enabled && c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate_limit.max_requests must be positive when enabled")
	}
	return nil
}

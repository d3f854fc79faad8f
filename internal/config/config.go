// Package config loads orchestrator configuration from a YAML file with
// environment-variable overrides and sensible defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the orchestrator service.
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Session   SessionConfig   `mapstructure:"session"`
	Sanitizer SanitizerConfig `mapstructure:"sanitizer"`
	Intent    IntentConfig    `mapstructure:"intent"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Guard     GuardConfig     `mapstructure:"guard"`
	Breaker   BreakerConfig   `mapstructure:"circuit_breaker"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServiceConfig contains HTTP server settings.
type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	MetricsPort     int           `mapstructure:"metrics_port"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestsPS      float64       `mapstructure:"requests_per_second"` // per caller
	Burst           int           `mapstructure:"burst"`
}

// AuthConfig contains JWT validation settings. Token issuance stays with the
// platform's auth service; only validation happens here.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	SkipAuth  bool   `mapstructure:"skip_auth"` // development mode
}

// SessionConfig controls the session store.
type SessionConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	MaxHistory    int           `mapstructure:"max_history"`
	RedisAddr     string        `mapstructure:"redis_addr"` // empty: in-memory store
}

// SanitizerConfig bounds inbound message size and selects strictness.
type SanitizerConfig struct {
	MinLength  int  `mapstructure:"min_length"`
	MaxLength  int  `mapstructure:"max_length"`
	StrictMode bool `mapstructure:"strict_mode"`
}

// IntentConfig controls the classifier.
type IntentConfig struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	UseLLM              bool    `mapstructure:"use_llm"`
}

// ExecutorConfig controls retry behavior and fan-out.
type ExecutorConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	TaskTimeout    time.Duration `mapstructure:"task_timeout"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
}

// LLMConfig points at the language-model provider.
type LLMConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxToolSteps int           `mapstructure:"max_tool_steps"`
	RequestsPS   float64       `mapstructure:"requests_per_second"`
	Burst        int           `mapstructure:"burst"`
}

// BackendConfig points at the port-logistics REST backend.
type BackendConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// GuardConfig controls the output validator.
type GuardConfig struct {
	RulesPath    string `mapstructure:"rules_path"`
	FallbackText string `mapstructure:"fallback_text"`
}

// BreakerConfig holds circuit breaker thresholds shared by backend and LLM
// clients.
type BreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	SuccessThreshold uint32        `mapstructure:"success_threshold"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

// Load reads configuration from QUAYLINE_CONFIG (or ./config/quayline.yaml)
// and the environment. A missing file is not an error; defaults and env
// overrides still apply.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("QUAYLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfgPath := os.Getenv("QUAYLINE_CONFIG")
	if cfgPath == "" {
		cfgPath = "./config/quayline.yaml"
	}
	v.SetConfigFile(cfgPath)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", cfgPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that would make the pipeline misbehave.
func (c *Config) Validate() error {
	if c.Sanitizer.MaxLength <= c.Sanitizer.MinLength {
		return fmt.Errorf("sanitizer max_length (%d) must exceed min_length (%d)",
			c.Sanitizer.MaxLength, c.Sanitizer.MinLength)
	}
	if c.Intent.ConfidenceThreshold < 0 || c.Intent.ConfidenceThreshold > 1 {
		return fmt.Errorf("intent confidence_threshold must be in [0,1], got %f",
			c.Intent.ConfidenceThreshold)
	}
	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("session idle_timeout must be positive")
	}
	if c.LLM.MaxToolSteps <= 0 {
		return fmt.Errorf("llm max_tool_steps must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.port", 8085)
	v.SetDefault("service.metrics_port", 2112)
	v.SetDefault("service.graceful_timeout", 15*time.Second)
	v.SetDefault("service.read_timeout", 30*time.Second)
	v.SetDefault("service.write_timeout", 60*time.Second)
	v.SetDefault("service.requests_per_second", 5.0)
	v.SetDefault("service.burst", 10)

	v.SetDefault("auth.issuer", "quayline-platform")
	v.SetDefault("auth.skip_auth", false)

	v.SetDefault("session.idle_timeout", 30*time.Minute)
	v.SetDefault("session.sweep_interval", time.Minute)
	v.SetDefault("session.max_history", 100)
	v.SetDefault("session.redis_addr", "")

	v.SetDefault("sanitizer.min_length", 2)
	v.SetDefault("sanitizer.max_length", 4000)
	v.SetDefault("sanitizer.strict_mode", false)

	v.SetDefault("intent.confidence_threshold", 0.6)
	v.SetDefault("intent.use_llm", true)

	v.SetDefault("executor.max_retries", 3)
	v.SetDefault("executor.initial_backoff", 200*time.Millisecond)
	v.SetDefault("executor.max_backoff", 5*time.Second)
	v.SetDefault("executor.task_timeout", 30*time.Second)
	v.SetDefault("executor.max_concurrent", 4)

	v.SetDefault("llm.base_url", "http://llm-gateway:8000")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("llm.max_tool_steps", 5)
	v.SetDefault("llm.requests_per_second", 5.0)
	v.SetDefault("llm.burst", 10)

	v.SetDefault("backend.base_url", "http://port-backend:8080")
	v.SetDefault("backend.timeout", 10*time.Second)

	v.SetDefault("guard.rules_path", "./config/guard_rules.yaml")
	v.SetDefault("guard.fallback_text",
		"I can't share that information. Please contact the terminal operator if you believe this is an error.")

	v.SetDefault("circuit_breaker.max_requests", 3)
	v.SetDefault("circuit_breaker.interval", 60*time.Second)
	v.SetDefault("circuit_breaker.timeout", 10*time.Second)
	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.success_threshold", 2)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

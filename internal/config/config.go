// Package config provides configuration for the turn controller.
//
// Values come from built-in defaults, then an optional YAML file named by
// MIRROR_CONFIG_FILE, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Prompt sources.
const (
	PromptSourceTemplate  = "template"
	PromptSourceAnthropic = "anthropic"
	PromptSourceOpenAI    = "openai"
	PromptSourceStatic    = "static"
)

// minFragmentLen is the smallest bound that still fits any UTF-8 rune.
const minFragmentLen = 4

// Config holds all configuration for the application.
type Config struct {
	// Turn settings
	SessionID           string
	Endless             bool
	ServiceCheckTimeout time.Duration
	AskTimeout          time.Duration
	ListenTimeout       time.Duration
	RepeatTimeout       time.Duration
	MaxFragmentLen      int
	TickInterval        time.Duration

	// Prompt settings
	PromptSource string
	PromptDir    string
	PromptFile   string
	PromptLocale string
	PromptText   string

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	LLMModel        string

	// NATS settings
	NATSURL       string
	NATSCAFile    string
	NATSCertFile  string
	NATSKeyFile   string
	NATSToken     string
	RecordsStream bool

	// Admin server settings
	AdminPort          string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	JWTSecret          string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		ServiceCheckTimeout: 15 * time.Second,
		AskTimeout:          30 * time.Second,
		ListenTimeout:       60 * time.Second,
		RepeatTimeout:       30 * time.Second,
		MaxFragmentLen:      1024,
		TickInterval:        50 * time.Millisecond,

		PromptSource: PromptSourceTemplate,
		PromptDir:    "prompts",
		PromptFile:   "what_input.txt",

		NATSURL:       "nats://localhost:4222",
		RecordsStream: true,

		AdminPort:          "8080",
		ServerReadTimeout:  30 * time.Second,
		ServerWriteTimeout: 30 * time.Second,

		RateLimitRequests: 60,
		RateLimitWindow:   time.Minute,

		LogLevel: "info",

		TracingEndpoint: "localhost:4318",
	}
}

// Load reads the optional config file and then environment variables, and
// validates the result.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("MIRROR_CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	// Turn
	c.SessionID = getEnv("SESSION_ID", c.SessionID)
	c.Endless = getBoolEnv("ENDLESS", c.Endless)
	c.ServiceCheckTimeout = getDurationEnv("SERVICE_CHECK_TIMEOUT", c.ServiceCheckTimeout)
	c.AskTimeout = getDurationEnv("ASK_TIMEOUT", c.AskTimeout)
	c.ListenTimeout = getDurationEnv("LISTEN_TIMEOUT", c.ListenTimeout)
	c.RepeatTimeout = getDurationEnv("REPEAT_TIMEOUT", c.RepeatTimeout)
	c.MaxFragmentLen = getIntEnv("MAX_FRAGMENT_LEN", c.MaxFragmentLen)
	c.TickInterval = getDurationEnv("TICK_INTERVAL", c.TickInterval)

	// Prompt
	c.PromptSource = getEnv("PROMPT_SOURCE", c.PromptSource)
	c.PromptDir = getEnv("PROMPT_DIR", c.PromptDir)
	c.PromptFile = getEnv("PROMPT_FILE", c.PromptFile)
	c.PromptLocale = getEnv("PROMPT_LOCALE", c.PromptLocale)
	c.PromptText = getEnv("PROMPT_TEXT", c.PromptText)

	// LLM
	c.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", c.AnthropicAPIKey)
	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.LLMModel = getEnv("LLM_MODEL", c.LLMModel)

	// NATS
	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.NATSCAFile = getEnv("NATS_CA_FILE", c.NATSCAFile)
	c.NATSCertFile = getEnv("NATS_CERT_FILE", c.NATSCertFile)
	c.NATSKeyFile = getEnv("NATS_KEY_FILE", c.NATSKeyFile)
	c.NATSToken = getEnv("NATS_TOKEN", c.NATSToken)
	c.RecordsStream = getBoolEnv("RECORDS_STREAM", c.RecordsStream)

	// Admin server
	c.AdminPort = getEnv("PORT", c.AdminPort)
	c.ServerReadTimeout = getDurationEnv("SERVER_READ_TIMEOUT", c.ServerReadTimeout)
	c.ServerWriteTimeout = getDurationEnv("SERVER_WRITE_TIMEOUT", c.ServerWriteTimeout)
	c.JWTSecret = getEnv("ADMIN_JWT_SECRET", c.JWTSecret)

	// Rate limiting
	c.RateLimitRequests = getIntEnv("RATE_LIMIT_REQUESTS", c.RateLimitRequests)
	c.RateLimitWindow = getDurationEnv("RATE_LIMIT_WINDOW", c.RateLimitWindow)

	// Logging
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	// Tracing
	c.TracingEndpoint = getEnv("TRACING_ENDPOINT", c.TracingEndpoint)
	c.TracingEnabled = getBoolEnv("TRACING_ENABLED", c.TracingEnabled)
}

// Validate checks that the configuration can run a turn.
func (c *Config) Validate() error {
	timeouts := map[string]time.Duration{
		"service check timeout": c.ServiceCheckTimeout,
		"ask timeout":           c.AskTimeout,
		"listen timeout":        c.ListenTimeout,
		"repeat timeout":        c.RepeatTimeout,
		"tick interval":         c.TickInterval,
	}
	for name, d := range timeouts {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidConfig, name, d)
		}
	}

	if c.MaxFragmentLen < minFragmentLen {
		return fmt.Errorf("%w: max fragment length must be at least %d, got %d", ErrInvalidConfig, minFragmentLen, c.MaxFragmentLen)
	}

	switch c.PromptSource {
	case PromptSourceTemplate:
		if c.PromptFile == "" {
			return fmt.Errorf("%w: prompt file is required for the template source", ErrInvalidConfig)
		}
	case PromptSourceStatic:
		if c.PromptText == "" {
			return fmt.Errorf("%w: prompt text is required for the static source", ErrInvalidConfig)
		}
	case PromptSourceAnthropic:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("%w: ANTHROPIC_API_KEY is required for the anthropic source", ErrInvalidConfig)
		}
	case PromptSourceOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY is required for the openai source", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown prompt source %q", ErrInvalidConfig, c.PromptSource)
	}

	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("%w: rate limit must be positive", ErrInvalidConfig)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or nothing.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}

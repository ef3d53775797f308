package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML layout of a config file. Unset keys keep the
// current value.
type fileConfig struct {
	Turn struct {
		SessionID           string `yaml:"session_id"`
		Endless             *bool  `yaml:"endless"`
		ServiceCheckTimeout string `yaml:"service_check_timeout"`
		AskTimeout          string `yaml:"ask_timeout"`
		ListenTimeout       string `yaml:"listen_timeout"`
		RepeatTimeout       string `yaml:"repeat_timeout"`
		MaxFragmentLen      int    `yaml:"max_fragment_len"`
		TickInterval        string `yaml:"tick_interval"`
	} `yaml:"turn"`

	Prompt struct {
		Source string `yaml:"source"`
		Dir    string `yaml:"dir"`
		File   string `yaml:"file"`
		Locale string `yaml:"locale"`
		Text   string `yaml:"text"`
		Model  string `yaml:"model"`
	} `yaml:"prompt"`

	NATS struct {
		URL           string `yaml:"url"`
		CAFile        string `yaml:"ca_file"`
		CertFile      string `yaml:"cert_file"`
		KeyFile       string `yaml:"key_file"`
		Token         string `yaml:"token"`
		RecordsStream *bool  `yaml:"records_stream"`
	} `yaml:"nats"`

	Admin struct {
		Port              string `yaml:"port"`
		JWTSecret         string `yaml:"jwt_secret"`
		RateLimitRequests int    `yaml:"rate_limit_requests"`
		RateLimitWindow   string `yaml:"rate_limit_window"`
	} `yaml:"admin"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Tracing struct {
		Enabled  *bool  `yaml:"enabled"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"tracing"`
}

// applyFile overlays the YAML file at path onto c. ${VAR} references in the
// file are expanded from the environment.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &fc); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"turn.service_check_timeout", fc.Turn.ServiceCheckTimeout, &c.ServiceCheckTimeout},
		{"turn.ask_timeout", fc.Turn.AskTimeout, &c.AskTimeout},
		{"turn.listen_timeout", fc.Turn.ListenTimeout, &c.ListenTimeout},
		{"turn.repeat_timeout", fc.Turn.RepeatTimeout, &c.RepeatTimeout},
		{"turn.tick_interval", fc.Turn.TickInterval, &c.TickInterval},
		{"admin.rate_limit_window", fc.Admin.RateLimitWindow, &c.RateLimitWindow},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", d.key, d.raw, err)
		}
		*d.dst = v
	}

	setString(&c.SessionID, fc.Turn.SessionID)
	setBool(&c.Endless, fc.Turn.Endless)
	setInt(&c.MaxFragmentLen, fc.Turn.MaxFragmentLen)

	setString(&c.PromptSource, fc.Prompt.Source)
	setString(&c.PromptDir, fc.Prompt.Dir)
	setString(&c.PromptFile, fc.Prompt.File)
	setString(&c.PromptLocale, fc.Prompt.Locale)
	setString(&c.PromptText, fc.Prompt.Text)
	setString(&c.LLMModel, fc.Prompt.Model)

	setString(&c.NATSURL, fc.NATS.URL)
	setString(&c.NATSCAFile, fc.NATS.CAFile)
	setString(&c.NATSCertFile, fc.NATS.CertFile)
	setString(&c.NATSKeyFile, fc.NATS.KeyFile)
	setString(&c.NATSToken, fc.NATS.Token)
	setBool(&c.RecordsStream, fc.NATS.RecordsStream)

	setString(&c.AdminPort, fc.Admin.Port)
	setString(&c.JWTSecret, fc.Admin.JWTSecret)
	setInt(&c.RateLimitRequests, fc.Admin.RateLimitRequests)

	setString(&c.LogLevel, fc.Logging.Level)

	setBool(&c.TracingEnabled, fc.Tracing.Enabled)
	setString(&c.TracingEndpoint, fc.Tracing.Endpoint)

	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

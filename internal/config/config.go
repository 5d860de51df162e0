// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds client configuration.
type Config struct {
	APIBase        string        `env:"TWOCHAIRS_API_BASE" envDefault:"http://127.0.0.1:3000"`
	MaxRetries     int           `env:"TWOCHAIRS_MAX_RETRIES" envDefault:"3"`
	RetryDelay     time.Duration `env:"TWOCHAIRS_RETRY_DELAY" envDefault:"1s"`
	RequestTimeout time.Duration `env:"TWOCHAIRS_REQUEST_TIMEOUT" envDefault:"30s"`
	MaxTextLen     int           `env:"TWOCHAIRS_MAX_TEXT_LEN" envDefault:"2000"`
	StepThreshold  int           `env:"TWOCHAIRS_STEP_THRESHOLD" envDefault:"5"`
	PersistSession bool          `env:"TWOCHAIRS_PERSIST_SESSION" envDefault:"true"`
	DBPath         string        `env:"TWOCHAIRS_DB_PATH" envDefault:"./data/twochairs.db"`
	LogFile        string        `env:"TWOCHAIRS_LOG_FILE" envDefault:"./data/twochairs.log"`
	LogLevel       string        `env:"TWOCHAIRS_LOG_LEVEL" envDefault:"info"`

	ConversationLog ConversationLogConfig
	Stub            StubConfig
}

// ConversationLogConfig controls NDJSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool   `env:"CONVERSATION_LOG_ENABLED" envDefault:"true"`
	Dir           string `env:"CONVERSATION_LOG_DIR" envDefault:"./data/logs/conversations"`
	GlobalEnabled bool   `env:"CONVERSATION_LOG_GLOBAL_ENABLED" envDefault:"false"`
	GlobalPath    string `env:"CONVERSATION_LOG_GLOBAL_PATH" envDefault:"./data/logs/conversations/all.ndjson"`
	QueueSize     int    `env:"CONVERSATION_LOG_QUEUE_SIZE" envDefault:"1000"`
}

// StubConfig configures the local API double.
type StubConfig struct {
	Port           string   `env:"PORT" envDefault:"3000"`
	DBPath         string   `env:"STUB_DB_PATH" envDefault:"./data/stub.db"`
	CycleLength    int      `env:"STUB_CYCLE_LENGTH" envDefault:"6"`
	HotlinesURL    string   `env:"STUB_HOTLINES_URL" envDefault:"https://www.sos.org.sg/contact"`
	ResourcesURL   string   `env:"STUB_RESOURCES_URL" envDefault:"https://www.healthhub.sg/well-being-and-lifestyle/mental-wellness/mental-wellbeing"`
	RateLimit      float64  `env:"STUB_RATE_LIMIT" envDefault:"5"`
	RateBurst      int      `env:"STUB_RATE_BURST" envDefault:"10"`
	AllowedOrigins []string `env:"STUB_ALLOWED_ORIGINS" envDefault:"*"`
	CrisisPhrases  []string `env:"STUB_CRISIS_PHRASES" envDefault:"kill myself,suicide,end my life,want to die,don't want to live,hurt myself,self-harm,overdose"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.APIBase = strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if cfg.ConversationLog.QueueSize <= 0 {
		cfg.ConversationLog.QueueSize = 1000
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the client fields.
func (c *Config) Validate() error {
	if c.APIBase == "" {
		return errors.New("TWOCHAIRS_API_BASE cannot be empty")
	}
	if c.MaxRetries < 0 {
		return errors.New("TWOCHAIRS_MAX_RETRIES must be >= 0")
	}
	if c.RetryDelay < 0 {
		return errors.New("TWOCHAIRS_RETRY_DELAY must be >= 0")
	}
	if c.MaxTextLen <= 0 {
		return errors.New("TWOCHAIRS_MAX_TEXT_LEN must be > 0")
	}
	if c.StepThreshold <= 0 {
		return errors.New("TWOCHAIRS_STEP_THRESHOLD must be > 0")
	}
	if c.PersistSession && c.DBPath == "" {
		return errors.New("TWOCHAIRS_DB_PATH cannot be empty when TWOCHAIRS_PERSIST_SESSION is on")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return errors.New("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalEnabled && c.ConversationLog.GlobalPath == "" {
		return errors.New("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	return nil
}

// ValidateStub checks the fields used by the stub server.
func (c *Config) ValidateStub() error {
	if c.Stub.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.Stub.DBPath == "" {
		return errors.New("STUB_DB_PATH cannot be empty")
	}
	if c.Stub.CycleLength < 2 {
		return errors.New("STUB_CYCLE_LENGTH must be >= 2")
	}
	if c.Stub.RateLimit <= 0 || c.Stub.RateBurst <= 0 {
		return errors.New("STUB_RATE_LIMIT and STUB_RATE_BURST must be > 0")
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

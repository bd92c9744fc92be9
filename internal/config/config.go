// Package config handles loading and validating the gateway configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the voice gateway.
type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Server   ServerConfig   `mapstructure:"server"`
	Sessions SessionsConfig `mapstructure:"sessions"`
	STT      STTConfig      `mapstructure:"stt"`
	LLM      LLMConfig      `mapstructure:"llm"`
	TTS      TTSConfig      `mapstructure:"tts"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServiceConfig identifies this deployment.
type ServiceConfig struct {
	Principal string `mapstructure:"principal"`
	PublicURL string `mapstructure:"public_url"`
	// Greeting overrides the spoken webhook greeting. Empty keeps the
	// built-in line.
	Greeting string `mapstructure:"greeting"`
}

// ServerConfig holds the listener settings.
type ServerConfig struct {
	Port          int `mapstructure:"port"`
	MetricsPort   int `mapstructure:"metrics_port"`
	ShutdownGrace int `mapstructure:"shutdown_grace_seconds"`
}

// SessionsConfig bounds concurrent calls.
type SessionsConfig struct {
	MaxActive         int           `mapstructure:"max_active"`
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
}

// STTConfig selects and configures the speech-to-text provider.
type STTConfig struct {
	Provider     string `mapstructure:"provider"` // "mock", "asr" or "google"
	ASRUrl       string `mapstructure:"asr_url"`
	LanguageCode string `mapstructure:"language_code"`
}

// LLMConfig holds the chat-completions service settings.
type LLMConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	HistoryLimit int           `mapstructure:"history_limit"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// TTSConfig holds the synthesis service settings.
type TTSConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Voice   string        `mapstructure:"voice"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// KafkaConfig holds the event publisher settings.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// Load reads the configuration from file, environment variables, and
// defaults. If configFile is non-empty it is used directly; otherwise the
// standard search order applies: ./voicegw.yaml, ./configs/voicegw.yaml,
// /etc/voicegw/voicegw.yaml.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("service.principal", "svc-voice-gateway")
	v.SetDefault("service.public_url", "http://localhost:8080")
	v.SetDefault("service.greeting", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.shutdown_grace_seconds", 10)
	v.SetDefault("sessions.max_active", 50)
	v.SetDefault("sessions.inactivity_timeout", 10*time.Minute)
	v.SetDefault("sessions.sweep_interval", 30*time.Second)
	v.SetDefault("stt.provider", "mock")
	v.SetDefault("stt.asr_url", "ws://localhost:2700/stream")
	v.SetDefault("stt.language_code", "en-US")
	v.SetDefault("llm.base_url", "https://api.openai.com")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.max_tokens", 120)
	v.SetDefault("llm.history_limit", 8)
	v.SetDefault("llm.timeout", 15*time.Second)
	v.SetDefault("tts.base_url", "http://localhost:5002")
	v.SetDefault("tts.voice", "amber")
	v.SetDefault("tts.timeout", 15*time.Second)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("voicegw")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/voicegw")
	}

	// Environment variables: VOICEGW_SERVER_PORT, VOICEGW_LLM_API_KEY, etc.
	v.SetEnvPrefix("VOICEGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional; env vars and defaults are sufficient
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Resolve env var references in sensitive fields (e.g., "${OPENAI_API_KEY}")
	cfg.LLM.APIKey = resolveEnvRef(cfg.LLM.APIKey)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.STT.Provider {
	case "mock", "asr", "google":
	default:
		return fmt.Errorf("config: unknown stt provider %q", c.STT.Provider)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Sessions.MaxActive < 0 {
		return fmt.Errorf("config: sessions.max_active must not be negative")
	}
	return nil
}

// resolveEnvRef replaces "${VAR_NAME}" patterns with the corresponding env
// var value.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		envKey := val[2 : len(val)-1]
		if envVal := os.Getenv(envKey); envVal != "" {
			return envVal
		}
	}
	return val
}

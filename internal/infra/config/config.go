// Package config loads obra's runtime configuration. Precedence, lowest first:
// defaults, the YAML config file, the .env file, the process environment.
// Every key maps to an env var by upper-casing it and replacing dots with
// underscores (llm.gemini.api_key is LLM_GEMINI_API_KEY).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/matiasleandrokruk/obra/internal/infra/logger"
	"github.com/matiasleandrokruk/obra/internal/infra/telemetry"
)

// EnvConfigFile names the env var holding the config file path.
const EnvConfigFile = "OBRA_CONFIG"

// Config holds runtime configuration for obra.
type Config struct {
	HTTP      HTTPConfig       `mapstructure:"http"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Log       logger.Config    `mapstructure:"log"`
	LLM       LLMConfig        `mapstructure:"llm"`
	Embedding EmbeddingConfig  `mapstructure:"embedding"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Auth      AuthConfig       `mapstructure:"auth"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
}

type HTTPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
}

// Addr is the listen address.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// LLMConfig configures the three completion tiers. A tier without credentials is
// left out of the fallback chain; Ollama is always present.
type LLMConfig struct {
	CallTimeout time.Duration `mapstructure:"call_timeout" validate:"gt=0"`
	Gemini      GeminiConfig  `mapstructure:"gemini"`
	Groq        GroqConfig    `mapstructure:"groq"`
	Ollama      OllamaConfig  `mapstructure:"ollama"`
}

type GeminiConfig struct {
	APIKey  string  `mapstructure:"api_key"`
	BaseURL string  `mapstructure:"base_url" validate:"omitempty,url"`
	Model   string  `mapstructure:"model" validate:"required"`
	RPS     float64 `mapstructure:"rps" validate:"gte=0"`
}

type GroqConfig struct {
	APIKey          string  `mapstructure:"api_key"`
	BaseURL         string  `mapstructure:"base_url" validate:"required,url"`
	Model           string  `mapstructure:"model" validate:"required"`
	MinOutputTokens int     `mapstructure:"min_output_tokens" validate:"gte=0"`
	RPS             float64 `mapstructure:"rps" validate:"gte=0"`
}

type OllamaConfig struct {
	BaseURL    string  `mapstructure:"base_url" validate:"required,url"`
	ChatModel  string  `mapstructure:"chat_model" validate:"required"`
	EmbedModel string  `mapstructure:"embed_model" validate:"required"`
	RPS        float64 `mapstructure:"rps" validate:"gte=0"`
}

type EmbeddingConfig struct {
	Dimensions  int `mapstructure:"dimensions" validate:"min=1"`
	Concurrency int `mapstructure:"concurrency" validate:"min=1,max=256"`
}

// RedisConfig configures the embedding cache. An empty Addr disables it.
type RedisConfig struct {
	Addr string        `mapstructure:"addr"`
	TTL  time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"omitempty,min=32"`
}

var defaults = map[string]any{
	"http.host":                  "0.0.0.0",
	"http.port":                  8080,
	"http.read_timeout":          "15s",
	"http.write_timeout":         "90s",
	"database.path":              "./data/obra.db",
	"log.level":                  "info",
	"log.format":                 "json",
	"log.output":                 "stderr",
	"llm.call_timeout":           "30s",
	"llm.gemini.api_key":         "",
	"llm.gemini.base_url":        "",
	"llm.gemini.model":           "gemini-2.0-flash",
	"llm.gemini.rps":             5,
	"llm.groq.api_key":           "",
	"llm.groq.base_url":          "https://api.groq.com/openai/v1",
	"llm.groq.model":             "llama-3.1-8b-instant",
	"llm.groq.min_output_tokens": 4096,
	"llm.groq.rps":               10,
	"llm.ollama.base_url":        "http://localhost:11434",
	"llm.ollama.chat_model":      "llama3.2:3b",
	"llm.ollama.embed_model":     "nomic-embed-text",
	"llm.ollama.rps":             0,
	"embedding.dimensions":       768,
	"embedding.concurrency":      8,
	"redis.addr":                 "",
	"redis.ttl":                  "24h",
	"auth.jwt_secret":            "",
	"telemetry.otlp_endpoint":    "",
	"telemetry.insecure":         false,
	"telemetry.interval":         "15s",
}

type loadOptions struct {
	configFile string
	envFile    string
}

// Option tunes Load.
type Option func(*loadOptions)

// WithConfigFile reads a YAML config file. It overrides OBRA_CONFIG.
func WithConfigFile(path string) Option {
	return func(o *loadOptions) { o.configFile = path }
}

// WithEnvFile loads an env file other than ./.env.
func WithEnvFile(path string) Option {
	return func(o *loadOptions) { o.envFile = path }
}

// Load reads and validates the configuration. A missing .env file is ignored; a
// missing config file that was asked for is an error.
func Load(opts ...Option) (Config, error) {
	o := loadOptions{configFile: os.Getenv(EnvConfigFile), envFile: ".env"}
	for _, opt := range opts {
		opt(&o)
	}

	if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load %s: %w", o.envFile, err)
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	if o.configFile != "" {
		v.SetConfigFile(o.configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", o.configFile, err)
		}
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	cfg.Log.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field constraint.
func (c Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

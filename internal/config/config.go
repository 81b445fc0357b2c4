// Package config provides configuration loading, validation, and defaults
// for lifetracker. Values come from built-in defaults, an optional YAML file,
// and LIFETRACKER_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrConfiguration wraps every error returned by Load.
var ErrConfiguration = errors.New("configuration error")

// EnvPrefix is the prefix of environment variable overrides, e.g.
// LIFETRACKER_ANALYSIS_PROVIDER overrides analysis.provider.
const EnvPrefix = "LIFETRACKER"

// Config is the root configuration of the application.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Contacts  ContactsConfig  `mapstructure:"contacts"`
	Dialogs   EndpointConfig  `mapstructure:"dialogs"`
	History   EndpointConfig  `mapstructure:"history"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Server    ServerConfig    `mapstructure:"server"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig points at the SQLite database file.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
	// Tables lists the relations reported by list-tables. Empty means
	// every user table found in the database.
	Tables []string `mapstructure:"tables" validate:"dive,sqlident"`
}

// ContactsConfig configures the contact relation and the importer.
type ContactsConfig struct {
	Table     string `mapstructure:"table"      validate:"required,sqlident"`
	BatchSize int    `mapstructure:"batch_size" validate:"min=1,max=1000"`
}

// EndpointConfig describes an Api-Key protected HTTP endpoint of the bot API.
type EndpointConfig struct {
	URL     string        `mapstructure:"url"     validate:"omitempty,url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout" validate:"min=1s,max=10m"`
}

// AnalysisConfig selects and tunes the analysis backend.
type AnalysisConfig struct {
	// Provider is one of "openai" (any OpenAI compatible API, DeepSeek by
	// default), "gemini", or "remote" (POST to Endpoint).
	Provider          string        `mapstructure:"provider"           validate:"oneof=openai gemini remote"`
	Endpoint          string        `mapstructure:"endpoint"           validate:"omitempty,url"`
	Timeout           time.Duration `mapstructure:"timeout"            validate:"min=1s,max=30m"`
	ConcurrencyPolicy string        `mapstructure:"concurrency_policy" validate:"oneof=share reject"`
	Language          string        `mapstructure:"language"           validate:"required"`
}

// OpenAIConfig configures the OpenAI compatible analysis backend.
type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"    validate:"required,url"`
	Model       string  `mapstructure:"model"       validate:"required"`
	Temperature float32 `mapstructure:"temperature" validate:"min=0,max=2"`
	MaxTokens   int     `mapstructure:"max_tokens"  validate:"min=0"`
}

// GeminiConfig configures the Gemini analysis backend.
type GeminiConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"       validate:"required"`
	Temperature float32       `mapstructure:"temperature" validate:"min=0,max=2"`
	MaxRetries  int           `mapstructure:"max_retries" validate:"min=0,max=10"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"              validate:"required"`
	AllowAllOrigins bool          `mapstructure:"allow_all_origins"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"   validate:"min=1s"`
}

// TelegramConfig enables the admin bot when Token is set.
type TelegramConfig struct {
	Token       string `mapstructure:"token"`
	AdminUserID int64  `mapstructure:"admin_user_id" validate:"required_with=Token"`
	// AdminChatID receives analysis notifications; defaults to the admin's private chat.
	AdminChatID int64 `mapstructure:"admin_chat_id"`
}

// SchedulerConfig holds the background task schedules keyed by task name.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

// TaskConfig enables a task with a cron schedule (seconds field allowed).
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}

// Enabled reports whether the Telegram bot is configured.
func (t TelegramConfig) Enabled() bool {
	return t.Token != ""
}

// NotifyChatID returns the chat that receives notifications.
func (t TelegramConfig) NotifyChatID() int64 {
	if t.AdminChatID != 0 {
		return t.AdminChatID
	}
	return t.AdminUserID
}

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Load reads the configuration. An empty path looks for config.yaml in the
// working directory; a missing file is not an error.
func Load(path string) (*Config, error) {
	startTime := time.Now()
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(path != "" && errors.Is(err, fs.ErrNotExist)) {
			return nil, fmt.Errorf("%w: failed to read config file: %v", ErrConfiguration, err)
		}
		slog.Debug("configuration file not found, using defaults", "path", path)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	slog.Debug("configuration loaded",
		"analysis_provider", cfg.Analysis.Provider,
		"contacts_table", cfg.Contacts.Table,
		"db_path", cfg.Database.Path,
		"duration_ms", time.Since(startTime).Milliseconds())

	return cfg, nil
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.RegisterValidation("sqlident", func(fl validator.FieldLevel) bool {
		return identifierRe.MatchString(fl.Field().String())
	}); err != nil {
		return err
	}
	return v.Struct(c)
}

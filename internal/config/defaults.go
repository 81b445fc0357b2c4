package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default values for configuration.
const (
	DefaultLogLevel = "info"

	DefaultDBPath = "lifetracker.db"

	DefaultContactsTable    = "contacts_userbot_leo"
	DefaultImportBatchSize  = 100
	DefaultEndpointTimeout  = 30 * time.Second
	DefaultAnalysisTimeout  = 2 * time.Minute
	DefaultAnalysisLanguage = "Russian"

	DefaultOpenAIBaseURL     = "https://api.deepseek.com/v1"
	DefaultOpenAIModel       = "deepseek-chat"
	DefaultOpenAITemperature = 1.0
	DefaultOpenAIMaxTokens   = 4096

	DefaultGeminiModel       = "gemini-2.0-flash"
	DefaultGeminiTemperature = 1.0
	DefaultGeminiMaxRetries  = 2
	DefaultGeminiRetryDelay  = 2 * time.Second

	DefaultServerAddr           = "127.0.0.1:8080"
	DefaultServerRequestTimeout = 3 * time.Minute
)

// Scheduler task names.
const (
	TaskImportContacts = "import_contacts"
	TaskSQLMaintenance = "sql_maintenance"
)

// setDefaults registers a default for every key so that environment
// overrides are picked up by AutomaticEnv.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.json", false)

	v.SetDefault("database.path", DefaultDBPath)
	v.SetDefault("database.tables", []string{})

	v.SetDefault("contacts.table", DefaultContactsTable)
	v.SetDefault("contacts.batch_size", DefaultImportBatchSize)

	v.SetDefault("dialogs.url", "")
	v.SetDefault("dialogs.api_key", "")
	v.SetDefault("dialogs.timeout", DefaultEndpointTimeout)

	v.SetDefault("history.url", "")
	v.SetDefault("history.api_key", "")
	v.SetDefault("history.timeout", DefaultEndpointTimeout)

	v.SetDefault("analysis.provider", "openai")
	v.SetDefault("analysis.endpoint", "")
	v.SetDefault("analysis.timeout", DefaultAnalysisTimeout)
	v.SetDefault("analysis.concurrency_policy", "share")
	v.SetDefault("analysis.language", DefaultAnalysisLanguage)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", DefaultOpenAIBaseURL)
	v.SetDefault("openai.model", DefaultOpenAIModel)
	v.SetDefault("openai.temperature", DefaultOpenAITemperature)
	v.SetDefault("openai.max_tokens", DefaultOpenAIMaxTokens)

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", DefaultGeminiModel)
	v.SetDefault("gemini.temperature", DefaultGeminiTemperature)
	v.SetDefault("gemini.max_retries", DefaultGeminiMaxRetries)
	v.SetDefault("gemini.retry_delay", DefaultGeminiRetryDelay)

	v.SetDefault("server.addr", DefaultServerAddr)
	v.SetDefault("server.allow_all_origins", false)
	v.SetDefault("server.request_timeout", DefaultServerRequestTimeout)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.admin_user_id", 0)
	v.SetDefault("telegram.admin_chat_id", 0)

	v.SetDefault("scheduler.tasks", map[string]any{
		TaskImportContacts: map[string]any{"enabled": false, "schedule": "0 0 */6 * * *"},
		TaskSQLMaintenance: map[string]any{"enabled": true, "schedule": "0 30 3 * * *"},
	})
}

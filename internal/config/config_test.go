package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/edgard/lifetracker/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Contacts.Table != config.DefaultContactsTable {
		t.Errorf("Contacts.Table = %q, want %q", cfg.Contacts.Table, config.DefaultContactsTable)
	}
	if cfg.Contacts.BatchSize != 100 {
		t.Errorf("Contacts.BatchSize = %d, want 100", cfg.Contacts.BatchSize)
	}
	if cfg.Analysis.Provider != "openai" {
		t.Errorf("Analysis.Provider = %q, want openai", cfg.Analysis.Provider)
	}
	if cfg.Analysis.ConcurrencyPolicy != "share" {
		t.Errorf("Analysis.ConcurrencyPolicy = %q, want share", cfg.Analysis.ConcurrencyPolicy)
	}
	if cfg.OpenAI.BaseURL != config.DefaultOpenAIBaseURL {
		t.Errorf("OpenAI.BaseURL = %q", cfg.OpenAI.BaseURL)
	}
	if cfg.History.Timeout != 30*time.Second {
		t.Errorf("History.Timeout = %v, want 30s", cfg.History.Timeout)
	}
	if cfg.Telegram.Enabled() {
		t.Error("Telegram should be disabled without a token")
	}
	task, ok := cfg.Scheduler.Tasks[config.TaskSQLMaintenance]
	if !ok || !task.Enabled || task.Schedule == "" {
		t.Errorf("sql_maintenance task = %+v, want enabled with schedule", task)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
contacts:
  table: contacts_other
  batch_size: 50
analysis:
  provider: remote
  endpoint: http://localhost:9000/api/analyze
telegram:
  token: "123:abc"
  admin_user_id: 42
`)
	t.Setenv("LIFETRACKER_CONTACTS_BATCH_SIZE", "25")
	t.Setenv("LIFETRACKER_HISTORY_API_KEY", "secret")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Contacts.Table != "contacts_other" {
		t.Errorf("Contacts.Table = %q, want contacts_other", cfg.Contacts.Table)
	}
	if cfg.Contacts.BatchSize != 25 {
		t.Errorf("Contacts.BatchSize = %d, want env override 25", cfg.Contacts.BatchSize)
	}
	if cfg.History.APIKey != "secret" {
		t.Errorf("History.APIKey = %q, want secret", cfg.History.APIKey)
	}
	if cfg.Analysis.Provider != "remote" {
		t.Errorf("Analysis.Provider = %q, want remote", cfg.Analysis.Provider)
	}
	if !cfg.Telegram.Enabled() {
		t.Error("Telegram should be enabled")
	}
	if got := cfg.Telegram.NotifyChatID(); got != 42 {
		t.Errorf("NotifyChatID() = %d, want 42", got)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "table name with injection",
			content: "contacts:\n  table: \"contacts; DROP TABLE x\"\n",
		},
		{
			name:    "unknown provider",
			content: "analysis:\n  provider: llama\n",
		},
		{
			name:    "batch size zero",
			content: "contacts:\n  batch_size: 0\n",
		},
		{
			name:    "unknown concurrency policy",
			content: "analysis:\n  concurrency_policy: queue\n",
		},
		{
			name:    "telegram token without admin",
			content: "telegram:\n  token: \"123:abc\"\n",
		},
		{
			name:    "enabled task without schedule",
			content: "scheduler:\n  tasks:\n    import_contacts:\n      enabled: true\n      schedule: \"\"\n",
		},
		{
			name:    "malformed yaml",
			content: "contacts: [\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := config.Load(path)
			if err == nil {
				t.Fatal("Load() error = nil, want error")
			}
			if !errors.Is(err, config.ErrConfiguration) {
				t.Errorf("Load() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

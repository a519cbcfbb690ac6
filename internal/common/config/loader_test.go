package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromFile_DefaultsAndPlaceholders(t *testing.T) {
	t.Setenv("LEDGER_API_TOKEN", "")
	t.Setenv("TEST_REFERENCE_KEY", "7700")

	path := writeConfig(t, `
sheets:
  workbook_path: /tmp/plan.xlsx
ledger:
  reference_key: "${TEST_REFERENCE_KEY}"
workers:
  run-merge:
    enabled: true
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "xlsx", cfg.Sheets.Backend)
	assert.Equal(t, "/tmp/plan.xlsx", cfg.Sheets.LogWorkbookPath)
	assert.Equal(t, "Rules", cfg.Sheets.RulesSheet)
	assert.Equal(t, "Plan", cfg.Sheets.RecipientsSheet)
	assert.Equal(t, "QR", cfg.Sheets.QRSheet)
	assert.Equal(t, "Email", cfg.Merge.RecipientColumn)
	assert.Equal(t, "SEND", cfg.Merge.SendValue)
	assert.Equal(t, "RESEND", cfg.Merge.ResendValue)
	assert.Equal(t, "transaction_id", cfg.Ledger.Dedup)
	assert.Equal(t, "Transactions", cfg.Ledger.LogSheet)
	assert.Equal(t, "7700", cfg.Ledger.ReferenceKey)
	assert.Equal(t, PlaceholderLedgerToken, cfg.Ledger.Token)
	assert.Equal(t, "log", cfg.Mail.Provider)
	assert.Equal(t, 200, cfg.QR.DefaultSize)

	worker := GetWorkerConfig(cfg, "run-merge")
	assert.Equal(t, 1, worker.MaxJobsActive)
	assert.Equal(t, 3, worker.MaxRetries)
	assert.True(t, IsWorkerEnabled(cfg, "unknown-worker"))
}

func TestLoadFromFile_SecretsFromEnvironment(t *testing.T) {
	t.Setenv("LEDGER_API_TOKEN", "live-token")
	t.Setenv("SMTP_PASSWORD", "")

	path := writeConfig(t, `
mail:
  provider: smtp
  from: office@example.com
  smtp:
    host: smtp.example.com
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "live-token", cfg.Ledger.Token)
	assert.Equal(t, PlaceholderSecret, cfg.Mail.SMTP.Password)
	assert.Equal(t, 587, cfg.Mail.SMTP.Port)
}

func TestLoadFromFile_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown sheet backend",
			yaml:    "sheets:\n  backend: csv\n",
			wantErr: "sheets.backend",
		},
		{
			name:    "postgres backend without host",
			yaml:    "sheets:\n  backend: postgres\n",
			wantErr: "database.postgres.host",
		},
		{
			name:    "smtp without host",
			yaml:    "mail:\n  provider: smtp\n  from: a@b.c\n",
			wantErr: "mail.smtp.host",
		},
		{
			name:    "ses without sender",
			yaml:    "mail:\n  provider: ses\n",
			wantErr: "mail.from",
		},
		{
			name:    "redis dedup without redis",
			yaml:    "ledger:\n  dedup: redis\n",
			wantErr: "ledger.dedup=redis",
		},
		{
			name:    "unknown dedup",
			yaml:    "ledger:\n  dedup: hope\n",
			wantErr: "ledger.dedup must be",
		},
		{
			name:    "camunda without broker",
			yaml:    "camunda:\n  enabled: true\n",
			wantErr: "camunda.broker_address",
		},
		{
			name:    "audit without elasticsearch",
			yaml:    "audit:\n  enabled: true\n",
			wantErr: "database.elasticsearch.addresses",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, GetDuration(1500))
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "mm", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=mm sslmode=disable", p.GetDSN())
}

// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configs/config.yaml (or ./config.yaml), merges config.<APP_ENVIRONMENT>.yaml,
// applies environment overrides and defaults, then validates.
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	v.SetConfigName("config." + env)
	_ = v.MergeInConfig()

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)
	applySecretPlaceholders(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadEnvFile() {
	paths := []string{".env", "../.env", "../../.env"}
	if root := findProjectRoot(); root != "" {
		paths = append(paths, filepath.Join(root, ".env"))
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			if err := godotenv.Load(p); err == nil {
				return
			}
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// expandEnvVars resolves ${VAR} references in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok || !strings.Contains(strVal, "$") {
			continue
		}
		if expanded := os.ExpandEnv(strVal); expanded != strVal {
			v.Set(key, expanded)
		}
	}
}

// overrideEmptyConfig fills secrets from their conventional environment names.
func overrideEmptyConfig(cfg *Config) {
	fromEnv := func(target *string, name string) {
		if *target == "" {
			*target = os.Getenv(name)
		}
	}

	fromEnv(&cfg.Ledger.Token, "LEDGER_API_TOKEN")
	fromEnv(&cfg.Ledger.ReferenceKey, "LEDGER_REFERENCE_KEY")
	fromEnv(&cfg.Mail.SMTP.Username, "SMTP_USERNAME")
	fromEnv(&cfg.Mail.SMTP.Password, "SMTP_PASSWORD")
	fromEnv(&cfg.Database.Postgres.User, "DB_USER")
	fromEnv(&cfg.Database.Postgres.Password, "DB_PASSWORD")
	fromEnv(&cfg.Notifications.SNS.TopicARN, "SNS_TOPIC_ARN")
}

func applySecretPlaceholders(cfg *Config) {
	if cfg.Ledger.Token == "" {
		cfg.Ledger.Token = PlaceholderLedgerToken
	}
	if cfg.Mail.Provider == "smtp" && cfg.Mail.SMTP.Password == "" {
		cfg.Mail.SMTP.Password = PlaceholderSecret
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "mailmerge-workers"
	}

	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 1
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 300000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 10
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 2
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	if cfg.Sheets.Backend == "" {
		cfg.Sheets.Backend = "xlsx"
	}
	if cfg.Sheets.WorkbookPath == "" {
		cfg.Sheets.WorkbookPath = "data/mailmerge.xlsx"
	}
	if cfg.Sheets.LogWorkbookPath == "" {
		cfg.Sheets.LogWorkbookPath = cfg.Sheets.WorkbookPath
	}
	if cfg.Sheets.RulesSheet == "" {
		cfg.Sheets.RulesSheet = "Rules"
	}
	if cfg.Sheets.RecipientsSheet == "" {
		cfg.Sheets.RecipientsSheet = "Plan"
	}
	if cfg.Sheets.QRSheet == "" {
		cfg.Sheets.QRSheet = "QR"
	}

	if cfg.Merge.RecipientColumn == "" {
		cfg.Merge.RecipientColumn = "Email"
	}
	if cfg.Merge.SendValue == "" {
		cfg.Merge.SendValue = "SEND"
	}
	if cfg.Merge.ResendValue == "" {
		cfg.Merge.ResendValue = "RESEND"
	}

	if cfg.Templates.Source == "" {
		cfg.Templates.Source = "file"
	}
	if cfg.Templates.Dir == "" {
		cfg.Templates.Dir = "templates"
	}

	if cfg.Mail.Provider == "" {
		cfg.Mail.Provider = "log"
	}
	if cfg.Mail.SMTP.Port == 0 {
		cfg.Mail.SMTP.Port = 587
	}
	if cfg.Mail.SMTP.Timeout == 0 {
		cfg.Mail.SMTP.Timeout = 30000
	}

	if cfg.QR.Renderer == "" {
		cfg.QR.Renderer = "http"
	}
	if cfg.QR.RendererURL == "" {
		cfg.QR.RendererURL = "https://api.qrserver.com/v1/create-qr-code/"
	}
	if cfg.QR.CountryCode == "" {
		cfg.QR.CountryCode = "CZ"
	}
	if cfg.QR.DefaultSize == 0 {
		cfg.QR.DefaultSize = 200
	}
	if cfg.QR.Timeout == 0 {
		cfg.QR.Timeout = 10000
	}

	if cfg.Ledger.BaseURL == "" {
		cfg.Ledger.BaseURL = "https://fioapi.fio.cz/v1/rest"
	}
	if cfg.Ledger.LogSheet == "" {
		cfg.Ledger.LogSheet = "Transactions"
	}
	if cfg.Ledger.Dedup == "" {
		cfg.Ledger.Dedup = "transaction_id"
	}
	if cfg.Ledger.Timeout == 0 {
		cfg.Ledger.Timeout = 30000
	}

	if cfg.Audit.Index == "" {
		cfg.Audit.Index = "mailmerge-outcomes"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 1
		}
		if worker.Timeout == 0 {
			worker.Timeout = 300000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}
}

func validateConfig(cfg *Config) error {
	switch cfg.Sheets.Backend {
	case "xlsx":
		if cfg.Sheets.WorkbookPath == "" {
			return fmt.Errorf("sheets.workbook_path is required for the xlsx backend")
		}
	case "postgres":
		if cfg.Database.Postgres.Host == "" || cfg.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.host and database.postgres.database are required for the postgres backend")
		}
	default:
		return fmt.Errorf("sheets.backend must be xlsx or postgres, got %q", cfg.Sheets.Backend)
	}

	switch cfg.Templates.Source {
	case "file", "postgres":
	default:
		return fmt.Errorf("templates.source must be file or postgres, got %q", cfg.Templates.Source)
	}
	if cfg.Templates.CacheTTL > 0 && cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required when templates.cache_ttl is set")
	}

	switch cfg.Mail.Provider {
	case "ses", "log":
	case "smtp":
		if cfg.Mail.SMTP.Host == "" {
			return fmt.Errorf("mail.smtp.host is required for the smtp provider")
		}
	default:
		return fmt.Errorf("mail.provider must be ses, smtp or log, got %q", cfg.Mail.Provider)
	}
	if cfg.Mail.Provider != "log" && cfg.Mail.From == "" {
		return fmt.Errorf("mail.from is required")
	}

	switch cfg.QR.Renderer {
	case "http", "local":
	default:
		return fmt.Errorf("qr.renderer must be http or local, got %q", cfg.QR.Renderer)
	}
	if cfg.QR.CacheTTL > 0 && cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required when qr.cache_ttl is set")
	}

	switch cfg.Ledger.Dedup {
	case "transaction_id", "cursor_only":
	case "redis":
		if cfg.Database.Redis.Address == "" {
			return fmt.Errorf("database.redis.address is required for ledger.dedup=redis")
		}
	default:
		return fmt.Errorf("ledger.dedup must be transaction_id, redis or cursor_only, got %q", cfg.Ledger.Dedup)
	}

	if cfg.Camunda.Enabled && cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required when camunda.enabled is true")
	}
	if cfg.Notifications.SNS.Enabled && cfg.Notifications.SNS.TopicARN == "" {
		return fmt.Errorf("notifications.sns.topic_arn is required when SNS notifications are enabled")
	}
	if cfg.Audit.Enabled && len(cfg.Database.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("database.elasticsearch.addresses is required when audit is enabled")
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration.
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetWorkerConfig retrieves worker-specific configuration with fallback to defaults.
func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}
	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 1,
		Timeout:       300000,
		MaxRetries:    3,
	}
}

// IsWorkerEnabled checks if a specific worker is enabled.
func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker.Enabled
	}
	return true
}

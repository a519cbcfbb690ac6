// internal/common/config/config.go
package config

import "fmt"

// PlaceholderSecret marks a secret that was not supplied. Startup succeeds; the component that
// needs the secret refuses to run with it.
const PlaceholderSecret = "MISSING_SECRET"

// PlaceholderLedgerToken is the explicit value used when no ledger API token is configured.
const PlaceholderLedgerToken = "MISSING_LEDGER_TOKEN"

type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Sheets        SheetsConfig            `mapstructure:"sheets"`
	Merge         MergeConfig             `mapstructure:"merge"`
	Templates     TemplatesConfig         `mapstructure:"templates"`
	Mail          MailConfig              `mapstructure:"mail"`
	QR            QRConfig                `mapstructure:"qr"`
	Ledger        LedgerConfig            `mapstructure:"ledger"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
	Audit         AuditConfig             `mapstructure:"audit"`
	Schedule      ScheduleConfig          `mapstructure:"schedule"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Logging       LoggingConfig           `mapstructure:"logging"`
	Server        ServerConfig            `mapstructure:"server"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SheetsConfig selects the tabular storage backend and names the sheets it holds.
type SheetsConfig struct {
	Backend         string `mapstructure:"backend"` // xlsx | postgres
	WorkbookPath    string `mapstructure:"workbook_path"`
	LogWorkbookPath string `mapstructure:"log_workbook_path"`
	RulesSheet      string `mapstructure:"rules_sheet"`
	RecipientsSheet string `mapstructure:"recipients_sheet"`
	QRSheet         string `mapstructure:"qr_sheet"`
}

type MergeConfig struct {
	RecipientColumn string `mapstructure:"recipient_column"`
	SendValue       string `mapstructure:"send_value"`
	ResendValue     string `mapstructure:"resend_value"`
	QRFirstRowOnly  bool   `mapstructure:"qr_first_row_only"`
}

type TemplatesConfig struct {
	Source   string `mapstructure:"source"` // file | postgres
	Dir      string `mapstructure:"dir"`
	CacheTTL int    `mapstructure:"cache_ttl"` // milliseconds, 0 disables the Redis cache
}

type MailConfig struct {
	Provider string     `mapstructure:"provider"` // ses | smtp | log
	From     string     `mapstructure:"from"`
	FromName string     `mapstructure:"from_name"`
	ReplyTo  string     `mapstructure:"reply_to"`
	Region   string     `mapstructure:"region"`
	SMTP     SMTPConfig `mapstructure:"smtp"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	UseTLS   bool   `mapstructure:"use_tls"`
	Timeout  int    `mapstructure:"timeout"` // milliseconds
}

type QRConfig struct {
	Renderer    string `mapstructure:"renderer"` // http | local
	RendererURL string `mapstructure:"renderer_url"`
	CountryCode string `mapstructure:"country_code"`
	DefaultSize int    `mapstructure:"default_size"`
	Timeout     int    `mapstructure:"timeout"`   // milliseconds
	CacheTTL    int    `mapstructure:"cache_ttl"` // milliseconds, 0 disables the Redis cache
}

type LedgerConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	Token        string `mapstructure:"token"`
	ReferenceKey string `mapstructure:"reference_key"`
	LogSheet     string `mapstructure:"log_sheet"`
	Dedup        string `mapstructure:"dedup"`   // transaction_id | redis | cursor_only
	Timeout      int    `mapstructure:"timeout"` // milliseconds
}

type NotificationConfig struct {
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		TopicARN string `mapstructure:"topic_arn"`
		Region   string `mapstructure:"region"`
	} `mapstructure:"sns"`
}

type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Index   string `mapstructure:"index"`
}

type ScheduleConfig struct {
	MergeCron  string `mapstructure:"merge_cron"`
	IngestCron string `mapstructure:"ingest_cron"`
}

type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"` // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

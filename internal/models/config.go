package models

// Config holds the application configuration
type Config struct {
	Max      MaxConfig      `json:"max" yaml:"max"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Routes   []Route        `json:"routes" yaml:"routes"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	Relay    RelayConfig    `json:"relay" yaml:"relay"`
	Media    MediaConfig    `json:"media" yaml:"media"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Retry    RetryConfig    `json:"retry" yaml:"retry"`
	Tracing  TracingConfig  `json:"tracing" yaml:"tracing"`
	LogLevel string         `json:"log_level" yaml:"log_level"`
	LogPath  string         `json:"log_path" yaml:"log_path"`
	LogMaxMB int            `json:"log_max_size_mb" yaml:"log_max_size_mb"`
	TimeZone string         `json:"time_zone" yaml:"time_zone"`
}

// MaxConfig holds settings for the MAX gateway (the source platform)
type MaxConfig struct {
	GatewayURL     string `json:"gateway_url" yaml:"gateway_url"`
	Token          string `json:"token" yaml:"token"`
	Phone          string `json:"phone" yaml:"phone"`
	AppVersion     string `json:"app_version" yaml:"app_version"`
	TimeoutMs      int    `json:"timeout_ms" yaml:"timeout_ms"`
	StartupHistory int    `json:"startup_history" yaml:"startup_history"`
}

// TelegramConfig holds settings for the destination bot
type TelegramConfig struct {
	APIBaseURL     string `json:"api_base_url" yaml:"api_base_url"`
	Token          string `json:"token" yaml:"token"`
	AdminChatID    int64  `json:"admin_chat_id" yaml:"admin_chat_id"`
	TimeoutMs      int    `json:"timeout_ms" yaml:"timeout_ms"`
	PollTimeoutSec int    `json:"poll_timeout_sec" yaml:"poll_timeout_sec"`
	PollingEnabled *bool  `json:"polling_enabled,omitempty" yaml:"polling_enabled,omitempty"`
}

// Route is a static source->destination pairing fixed at startup.
// A nil destination only registers the source chat in the catalog.
type Route struct {
	MaxChatID int64  `json:"max_chat_id" yaml:"max_chat_id"`
	TgChatID  *int64 `json:"tg_chat_id,omitempty" yaml:"tg_chat_id,omitempty"`
}

// StorageConfig selects where the three state documents live
type StorageConfig struct {
	Backend         string `json:"backend" yaml:"backend"` // "json" or "sqlite"
	StatePath       string `json:"state_path" yaml:"state_path"`
	SubscribersPath string `json:"subscribers_path" yaml:"subscribers_path"`
	CatalogPath     string `json:"catalog_path" yaml:"catalog_path"`
	SQLitePath      string `json:"sqlite_path" yaml:"sqlite_path"`
	Encrypt         bool   `json:"encrypt" yaml:"encrypt"`
}

// RelayConfig controls fan-out pacing
type RelayConfig struct {
	AttachmentDelayMs   int `json:"attachment_delay_ms" yaml:"attachment_delay_ms"`
	TitleRefreshMinutes int `json:"title_refresh_minutes" yaml:"title_refresh_minutes"`
}

// MediaConfig holds attachment download limits
type MediaConfig struct {
	MaxSizeMB          int `json:"max_size_mb" yaml:"max_size_mb"`
	DownloadTimeoutSec int `json:"download_timeout_sec" yaml:"download_timeout_sec"`
}

// ServerConfig holds the HTTP server settings
type ServerConfig struct {
	Enabled           bool   `json:"enabled" yaml:"enabled"`
	Port              int    `json:"port" yaml:"port"`
	WebhookSecret     string `json:"webhook_secret" yaml:"webhook_secret"`
	WebhookRatePerMin int    `json:"webhook_rate_per_min" yaml:"webhook_rate_per_min"`
	TrustForwardedFor bool   `json:"trust_forwarded_for" yaml:"trust_forwarded_for"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs" yaml:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs" yaml:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts" yaml:"maxAttempts"`
}

// TracingConfig mirrors tracing.TracingConfig for the config file
type TracingConfig struct {
	Enabled        bool    `json:"enabled" yaml:"enabled"`
	ServiceName    string  `json:"service_name" yaml:"service_name"`
	ServiceVersion string  `json:"service_version" yaml:"service_version"`
	Environment    string  `json:"environment" yaml:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate" yaml:"sample_rate"`
	UseStdout      bool    `json:"use_stdout" yaml:"use_stdout"`
}

// BotPollingEnabled reports whether the control surface should poll for updates
func (t TelegramConfig) BotPollingEnabled() bool {
	return t.PollingEnabled == nil || *t.PollingEnabled
}

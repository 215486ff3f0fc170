package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"maxrelay/internal/constants"
	apperrors "maxrelay/internal/errors"
	"maxrelay/internal/models"
	"maxrelay/internal/security"
	"maxrelay/internal/storage"
	"maxrelay/internal/tracing"
)

// DotEnvFile is loaded before environment overrides are applied. Variables
// already present in the process environment win over the file.
var DotEnvFile = ".env"

// LoadConfig builds the configuration from an optional JSON or YAML file,
// the .env file and the process environment, in that order of increasing
// precedence, then fills defaults and validates the result. An empty path
// means environment-only configuration.
func LoadConfig(path string) (*models.Config, error) {
	config := models.Config{
		// zero is a meaningful history depth, so the default is set before decoding
		Max: models.MaxConfig{StartupHistory: constants.DefaultStartupHistory},
	}

	if path != "" {
		if err := security.ValidateFilePath(path); err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}
		data, err := os.ReadFile(path) // #nosec G304 - validated above
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := decode(path, data, &config); err != nil {
			return nil, apperrors.NewConfigError(path, err.Error())
		}
	}

	if err := loadDotEnv(DotEnvFile); err != nil {
		return nil, err
	}
	if err := applyEnvironmentOverrides(&config); err != nil {
		return nil, err
	}
	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func decode(path string, data []byte, config *models.Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	default:
		return json.Unmarshal(data, config)
	}
}

func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

// ParseRoutes reads the ROUTES syntax: comma separated "src:dst" pairs,
// where a bare "src" registers the chat without a fixed destination.
func ParseRoutes(value string) ([]models.Route, error) {
	var routes []models.Route
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		src, dst, hasDst := strings.Cut(item, ":")
		srcID, err := strconv.ParseInt(strings.TrimSpace(src), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid route source %q: %w", src, err)
		}
		route := models.Route{MaxChatID: srcID}
		if hasDst {
			dstID, err := strconv.ParseInt(strings.TrimSpace(dst), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid route destination %q: %w", dst, err)
			}
			route.TgChatID = &dstID
		}
		routes = append(routes, route)
	}
	return routes, nil
}

type envString struct {
	name   string
	target *string
}

func applyEnvironmentOverrides(c *models.Config) error {
	for _, v := range []envString{
		{"MAX_TOKEN", &c.Max.Token},
		{"MAX_PHONE", &c.Max.Phone},
		{"MAX_APP_VERSION", &c.Max.AppVersion},
		{"MAX_GATEWAY_URL", &c.Max.GatewayURL},
		{"TG_TOKEN", &c.Telegram.Token},
		{"STATE_PATH", &c.Storage.StatePath},
		{"SUBSCRIBERS_PATH", &c.Storage.SubscribersPath},
		{"CATALOG_PATH", &c.Storage.CatalogPath},
		{"LOG_PATH", &c.LogPath},
		{"LOG_LEVEL", &c.LogLevel},
		{"MAXRELAY_WEBHOOK_SECRET", &c.Server.WebhookSecret},
		{"TIME_ZONE", &c.TimeZone},
	} {
		if value := os.Getenv(v.name); value != "" {
			*v.target = value
		}
	}

	if value := os.Getenv("ADMIN_CHAT_ID"); value != "" {
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return apperrors.NewConfigError("ADMIN_CHAT_ID", "must be an integer")
		}
		c.Telegram.AdminChatID = id
	}
	if value := os.Getenv("STARTUP_HISTORY"); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return apperrors.NewConfigError("STARTUP_HISTORY", "must be a non-negative integer")
		}
		c.Max.StartupHistory = n
	}
	if value := os.Getenv("ROUTES"); value != "" {
		routes, err := ParseRoutes(value)
		if err != nil {
			return apperrors.NewConfigError("ROUTES", err.Error())
		}
		c.Routes = routes
	}
	return nil
}

func applyDefaults(c *models.Config) {
	if c.Max.AppVersion == "" {
		c.Max.AppVersion = constants.DefaultMaxAppVersion
	}
	if c.Max.TimeoutMs <= 0 {
		c.Max.TimeoutMs = constants.DefaultMaxTimeoutMs
	}
	if c.Max.StartupHistory < 0 {
		c.Max.StartupHistory = 0
	}
	if c.Telegram.APIBaseURL == "" {
		c.Telegram.APIBaseURL = constants.DefaultTelegramAPIBaseURL
	}
	if c.Telegram.TimeoutMs <= 0 {
		c.Telegram.TimeoutMs = constants.DefaultTelegramTimeoutMs
	}
	if c.Telegram.PollTimeoutSec <= 0 {
		c.Telegram.PollTimeoutSec = constants.DefaultTelegramPollTimeoutSec
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = storage.BackendJSON
	}
	if c.Storage.StatePath == "" {
		c.Storage.StatePath = constants.DefaultStatePath
	}
	if c.Storage.SubscribersPath == "" {
		c.Storage.SubscribersPath = constants.DefaultSubscribersPath
	}
	if c.Storage.CatalogPath == "" {
		c.Storage.CatalogPath = constants.DefaultCatalogPath
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = constants.DefaultSQLitePath
	}

	if c.Relay.AttachmentDelayMs <= 0 {
		c.Relay.AttachmentDelayMs = constants.DefaultAttachmentDelayMs
	}
	if c.Relay.TitleRefreshMinutes <= 0 {
		c.Relay.TitleRefreshMinutes = constants.DefaultTitleRefreshMinutes
	}
	if c.Media.MaxSizeMB <= 0 {
		c.Media.MaxSizeMB = constants.DefaultMaxMediaSizeMB
	}
	if c.Media.DownloadTimeoutSec <= 0 {
		c.Media.DownloadTimeoutSec = constants.DefaultMediaDownloadTimeoutSec
	}
	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.WebhookRatePerMin <= 0 {
		c.Server.WebhookRatePerMin = constants.DefaultWebhookRatePerMin
	}
	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "maxrelay"
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
	if c.LogPath == "" {
		c.LogPath = constants.DefaultLogPath
	}
	if c.LogMaxMB <= 0 {
		c.LogMaxMB = constants.DefaultLogMaxSizeMB
	}
}

func validate(c *models.Config) error {
	if c.Max.Token == "" {
		return apperrors.NewConfigError("MAX_TOKEN", "MAX token is required")
	}
	if c.Max.Phone == "" {
		return apperrors.NewConfigError("MAX_PHONE", "MAX phone is required")
	}
	if c.Max.GatewayURL == "" {
		return apperrors.NewConfigError("MAX_GATEWAY_URL", "MAX gateway URL is required")
	}
	if c.Telegram.Token == "" {
		return apperrors.NewConfigError("TG_TOKEN", "Telegram bot token is required")
	}
	if len(c.Routes) == 0 {
		return apperrors.NewConfigError("ROUTES", "at least one route is required")
	}

	switch c.Storage.Backend {
	case storage.BackendJSON, storage.BackendSQLite:
	default:
		return apperrors.NewConfigError("storage.backend", fmt.Sprintf("unknown backend %q", c.Storage.Backend))
	}
	if c.Storage.Encrypt && len(os.Getenv(storage.EncryptionSecretEnv)) < constants.MinEncryptionSecretLen {
		return apperrors.NewConfigError(storage.EncryptionSecretEnv,
			fmt.Sprintf("must be at least %d characters when storage.encrypt is set", constants.MinEncryptionSecretLen))
	}

	if c.Server.Enabled && c.Server.WebhookSecret == "" {
		fmt.Fprintf(os.Stderr, "WARNING: webhook secret not set. Set MAXRELAY_WEBHOOK_SECRET to authenticate /webhook/max.\n")
	}
	if err := tracing.Validate(c.Tracing); err != nil {
		return apperrors.NewConfigError("tracing", err.Error())
	}
	if _, err := Location(c); err != nil {
		return apperrors.NewConfigError("time_zone", err.Error())
	}
	return nil
}

// Location resolves the zone used to render message timestamps. An empty
// time_zone means the host's local zone.
func Location(c *models.Config) (*time.Location, error) {
	if c.TimeZone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("unknown time zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// SourceChatIDs lists every route source chat in configuration order.
func SourceChatIDs(routes []models.Route) []int64 {
	ids := make([]int64, 0, len(routes))
	for _, r := range routes {
		ids = append(ids, r.MaxChatID)
	}
	return ids
}

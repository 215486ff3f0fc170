package constants

// Default relay configuration values
const (
	DefaultAttachmentDelayMs   = 500
	DefaultStartupHistory      = 3
	DefaultLogTailLines        = 20
	MaxLogTailLines            = 200
	DefaultMaxAppVersion       = "25.12.13"
	DefaultServerPort          = 8082
	DefaultTitleRefreshMinutes = 60
)

// Default persistence locations
const (
	DefaultStatePath       = "data/state.json"
	DefaultSubscribersPath = "data/subscribers.json"
	DefaultCatalogPath     = "data/catalog.json"
	DefaultSQLitePath      = "data/maxrelay.db"
	DefaultLogPath         = "data/app.log"
	DefaultLogMaxSizeMB    = 10
	DefaultLogMaxBackups   = 3
)

// Document names used by the SQLite backend
const (
	DocumentWatermarks  = "watermarks"
	DocumentCatalog     = "catalog"
	DocumentSubscribers = "subscribers"
)

// DefaultTelegramAPIBaseURL is the public Bot API endpoint
const DefaultTelegramAPIBaseURL = "https://api.telegram.org"

// Default timeout values
const (
	DefaultHTTPTimeoutSec          = 30
	DefaultTelegramTimeoutMs       = 15000
	DefaultTelegramPollTimeoutSec  = 25
	DefaultMaxTimeoutMs            = 30000
	DefaultMediaDownloadTimeoutSec = 30
	DefaultMaxMediaSizeMB          = 50
	DefaultDatabaseRetryAttempts   = 3
	DefaultGracefulShutdownSec     = 30
	DefaultServerReadTimeoutSec    = 15
	DefaultServerWriteTimeoutSec   = 15
	DefaultServerIdleTimeoutSec    = 60
	DefaultRetryBackoffMs          = 1000
	DefaultMaxBackoffMs            = 60000
	DefaultMaxAttempts             = 5
)

// Circuit breaker defaults for the destination sender
const (
	DefaultBreakerMaxFailures = 5
	DefaultBreakerTimeoutSec  = 30
)

// Webhook protection
const (
	DefaultWebhookRatePerMin = 120
	DefaultWebhookBurst      = 20
	MaxWebhookBodyBytes      = 1 << 20
)

// Privacy settings
const (
	DefaultTokenMaskLength = 4
)

// Encryption at rest
const (
	EncryptionSalt         = "maxrelay-document-salt-v1"
	MinEncryptionSecretLen = 32
)

// File permission constants
const (
	DefaultFilePermissions      = 0600
	DefaultDirectoryPermissions = 0750
)

const BytesPerMegabyte = 1024 * 1024

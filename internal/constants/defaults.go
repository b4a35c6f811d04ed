package constants

// Default queue configuration values
const (
	DefaultRedisAddr             = "localhost:6379"
	DefaultRedisPrefix           = "telxfwd"
	DefaultConsumerGroup         = "workers"
	DefaultBlockTimeoutMs        = 2000
	DefaultClaimMinIdleSec       = 300
	DefaultResultTTLHours        = 24
	DefaultMaxRetries            = 3
	DefaultWorkerCount           = 1
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
	DefaultDatabaseRetryAttempts = 3
)

// Default hard time limits per task type, in seconds
const (
	DefaultForwardTimeLimitSec = 300
	DefaultSendTimeLimitSec    = 60
	DefaultBulkTimeLimitSec    = 1800
	DefaultHealthTimeLimitSec  = 120
	DefaultCleanupTimeLimitSec = 600
)

// Job retry delays. Forwarding backs off from a minute, everything else from 30s.
const (
	ForwardRetryBaseSec = 60
	DefaultRetryBaseSec = 30
	MaxRetryDelaySec    = 3600
)

// Default session registry values
const (
	DefaultSessionHealthCheckSec      = 300
	DefaultSessionMonitorInitDelaySec = 10
	DefaultReconnectAttempts          = 1
	DefaultBreakerMaxFailures         = 5
	DefaultBreakerTimeoutSec          = 60
	DefaultSessionCheckTimeoutSec     = 30
	DefaultConnectTimeoutSec          = 30
)

// Default queue monitor values
const (
	DefaultMonitorIntervalSec    = 60
	DefaultStuckThresholdMin     = 10
	DefaultCleanupIntervalHours  = 24
	DefaultMonitorTickTimeoutSec = 30
	DefaultStuckScanLimit        = 100
)

// Default beat schedule
const (
	DefaultHealthCheckCron = "*/5 * * * *"
	DefaultTaskCleanupCron = "0 * * * *"
	DefaultLogCleanupCron  = "30 3 * * *"
)

// Default retention and pacing values
const (
	DefaultTaskRetentionDays = 7
	DefaultLogRetentionDays  = 30
	DefaultBulkPacingMs      = 1000
)

// Default server and lifecycle values
const (
	DefaultServerPort            = 8090
	DefaultGracefulShutdownSec   = 30
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultLiveFeedIntervalSec   = 5
	ServerErrorChannelSize       = 1
)

// Supervisor restart policy
const (
	DefaultLoopRestartInitialMs = 500
	DefaultLoopRestartMaxSec    = 30
)

// Privacy settings
const (
	DefaultSecretVisibleChars = 4
)

// Credential encryption
const (
	EncryptionSalt         = "telxfwd-credential-salt-v1"
	MinEncryptionSecretLen = 32
)

// Input limits
const (
	MaxChannelIDLength       = 256
	MaxMessageIDLength       = 128
	MaxKeywords              = 50
	MaxKeywordLength         = 100
	MaxDecorationLength      = 1000
	MaxDelaySeconds          = 3600
	MaxTelegramMessageLength = 4096
	MaxDiscordMessageLength  = 2000
	MaxRetentionDays         = 3650
	MaxBulkMessages          = 500
)

package models

// Config holds the application configuration
type Config struct {
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Queue     QueueConfig     `json:"queue"`
	Worker    WorkerConfig    `json:"worker"`
	Sessions  SessionsConfig  `json:"sessions"`
	Monitor   MonitorConfig   `json:"monitor"`
	Schedule  ScheduleConfig  `json:"schedule"`
	Retention RetentionConfig `json:"retention"`
	Bulk      BulkConfig      `json:"bulk"`
	Server    ServerConfig    `json:"server"`
	Tracing   TracingConfig   `json:"tracing"`
	LogLevel  string          `json:"log_level"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path"`
}

// RedisConfig points at the broker.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"-"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// QueueConfig tunes the broker consumer and the per-task hard time limits.
type QueueConfig struct {
	ConsumerGroup     string         `json:"consumer_group"`
	BlockTimeoutMs    int            `json:"block_timeout_ms"`
	ClaimMinIdleSec   int            `json:"claim_min_idle_sec"`
	ResultTTLHours    int            `json:"result_ttl_hours"`
	DefaultMaxRetries int            `json:"default_max_retries"`
	TaskTimeLimitsSec map[string]int `json:"task_time_limits_sec"`
}

// WorkerConfig sets how many synchronous worker loops a worker process runs.
type WorkerConfig struct {
	Count int `json:"count"`
}

// SessionsConfig holds session registry settings.
type SessionsConfig struct {
	HealthCheckIntervalSec int    `json:"health_check_interval_sec"`
	ReconnectAttempts      int    `json:"reconnect_attempts"`
	BreakerMaxFailures     int    `json:"breaker_max_failures"`
	BreakerTimeoutSec      int    `json:"breaker_timeout_sec"`
	TelegramAPIEndpoint    string `json:"telegram_api_endpoint"`
}

// MonitorConfig holds queue monitor settings.
type MonitorConfig struct {
	IntervalSec          int `json:"interval_sec"`
	StuckThresholdMin    int `json:"stuck_threshold_min"`
	CleanupIntervalHours int `json:"cleanup_interval_hours"`
}

// ScheduleConfig holds the cron expressions of the periodic beat.
type ScheduleConfig struct {
	HealthCheckCron string `json:"health_check_cron"`
	TaskCleanupCron string `json:"task_cleanup_cron"`
	LogCleanupCron  string `json:"log_cleanup_cron"`
}

// RetentionConfig holds retention windows in days.
type RetentionConfig struct {
	TaskDays int `json:"task_days"`
	LogDays  int `json:"log_days"`
}

// BulkConfig holds bulk forwarding pacing.
type BulkConfig struct {
	PacingMs int `json:"pacing_ms"`
}

// ServerConfig holds the status HTTP server settings.
type ServerConfig struct {
	Port int `json:"port"`
}

// TracingConfig mirrors the OpenTelemetry settings.
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	UseStdout      bool    `json:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}

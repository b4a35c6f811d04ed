package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"telxfwd/internal/constants"
	"telxfwd/internal/models"
)

var (
	ErrMissingDBPath    = models.ConfigError{Message: "missing database path"}
	ErrMissingRedisAddr = models.ConfigError{Message: "missing redis address"}
)

// DefaultTimeLimits returns the hard time limit per task type in seconds.
func DefaultTimeLimits() map[string]int {
	return map[string]int{
		string(models.TaskForwardMessage):     constants.DefaultForwardTimeLimitSec,
		string(models.TaskSendMessage):        constants.DefaultSendTimeLimitSec,
		string(models.TaskBulkForward):        constants.DefaultBulkTimeLimitSec,
		string(models.TaskSessionHealthCheck): constants.DefaultHealthTimeLimitSec,
		string(models.TaskCleanup):            constants.DefaultCleanupTimeLimitSec,
	}
}

func LoadConfig(path string) (*models.Config, error) {
	if err := validatePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - path checked by validatePath
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Default returns a configuration with every default applied.
func Default() *models.Config {
	config := &models.Config{
		Database: models.DatabaseConfig{Path: "telxfwd.db"},
		Redis:    models.RedisConfig{Addr: constants.DefaultRedisAddr},
	}
	applyEnvironmentOverrides(config)
	_ = validate(config)
	return config
}

func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	if strings.ContainsRune(path, '\x00') {
		return fmt.Errorf("file path contains a null byte")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("path contains directory traversal: %s", path)
		}
	}
	return nil
}

func validate(c *models.Config) error {
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if err := validatePath(c.Database.Path); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid database path: %v", err)}
	}
	if c.Redis.Addr == "" {
		return ErrMissingRedisAddr
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = constants.DefaultRedisPrefix
	}

	q := &c.Queue
	if q.ConsumerGroup == "" {
		q.ConsumerGroup = constants.DefaultConsumerGroup
	}
	if q.BlockTimeoutMs <= 0 {
		q.BlockTimeoutMs = constants.DefaultBlockTimeoutMs
	}
	if q.ClaimMinIdleSec <= 0 {
		q.ClaimMinIdleSec = constants.DefaultClaimMinIdleSec
	}
	if q.ResultTTLHours <= 0 {
		q.ResultTTLHours = constants.DefaultResultTTLHours
	}
	if q.DefaultMaxRetries < 0 {
		return models.ConfigError{Message: "default_max_retries cannot be negative"}
	}
	if q.DefaultMaxRetries == 0 {
		q.DefaultMaxRetries = constants.DefaultMaxRetries
	}

	limits := DefaultTimeLimits()
	for taskType, sec := range q.TaskTimeLimitsSec {
		if !models.TaskType(taskType).IsValid() {
			return models.ConfigError{Message: fmt.Sprintf("unknown task type in task_time_limits_sec: %s", taskType)}
		}
		if sec > 0 {
			limits[taskType] = sec
		}
	}
	q.TaskTimeLimitsSec = limits

	if c.Worker.Count <= 0 {
		c.Worker.Count = constants.DefaultWorkerCount
	}

	s := &c.Sessions
	if s.HealthCheckIntervalSec <= 0 {
		s.HealthCheckIntervalSec = constants.DefaultSessionHealthCheckSec
	}
	if s.ReconnectAttempts <= 0 {
		s.ReconnectAttempts = constants.DefaultReconnectAttempts
	}
	if s.BreakerMaxFailures <= 0 {
		s.BreakerMaxFailures = constants.DefaultBreakerMaxFailures
	}
	if s.BreakerTimeoutSec <= 0 {
		s.BreakerTimeoutSec = constants.DefaultBreakerTimeoutSec
	}

	m := &c.Monitor
	if m.IntervalSec <= 0 {
		m.IntervalSec = constants.DefaultMonitorIntervalSec
	}
	if m.StuckThresholdMin <= 0 {
		m.StuckThresholdMin = constants.DefaultStuckThresholdMin
	}
	if m.CleanupIntervalHours <= 0 {
		m.CleanupIntervalHours = constants.DefaultCleanupIntervalHours
	}

	if c.Schedule.HealthCheckCron == "" {
		c.Schedule.HealthCheckCron = constants.DefaultHealthCheckCron
	}
	if c.Schedule.TaskCleanupCron == "" {
		c.Schedule.TaskCleanupCron = constants.DefaultTaskCleanupCron
	}
	if c.Schedule.LogCleanupCron == "" {
		c.Schedule.LogCleanupCron = constants.DefaultLogCleanupCron
	}

	if c.Retention.TaskDays <= 0 {
		c.Retention.TaskDays = constants.DefaultTaskRetentionDays
	}
	if c.Retention.LogDays <= 0 {
		c.Retention.LogDays = constants.DefaultLogRetentionDays
	}
	if c.Bulk.PacingMs <= 0 {
		c.Bulk.PacingMs = constants.DefaultBulkPacingMs
	}

	if c.Server.Port == 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return models.ConfigError{Message: fmt.Sprintf("invalid server port: %d", c.Server.Port)}
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "telxfwd"
	}
	if c.Tracing.SampleRate <= 0 {
		c.Tracing.SampleRate = 1.0
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if path := os.Getenv("TELXFWD_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if addr := os.Getenv("TELXFWD_REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	// SECURITY: the broker password is only taken from the environment
	if password := os.Getenv("TELXFWD_REDIS_PASSWORD"); password != "" {
		c.Redis.Password = password
	}
	if level := os.Getenv("TELXFWD_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if port := os.Getenv("TELXFWD_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
}

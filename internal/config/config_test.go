package config

import (
	"os"
	"path/filepath"
	"testing"

	"telxfwd/internal/constants"
	"telxfwd/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		setEnv    map[string]string
		wantError bool
		validate  func(*testing.T, *models.Config)
	}{
		{
			name: "defaults applied",
			content: `{
				"database": {"path": "data/telxfwd.db"},
				"redis": {"addr": "redis:6379"}
			}`,
			validate: func(t *testing.T, c *models.Config) {
				assert.Equal(t, "data/telxfwd.db", c.Database.Path)
				assert.Equal(t, constants.DefaultRedisPrefix, c.Redis.Prefix)
				assert.Equal(t, constants.DefaultConsumerGroup, c.Queue.ConsumerGroup)
				assert.Equal(t, constants.DefaultMaxRetries, c.Queue.DefaultMaxRetries)
				assert.Equal(t, constants.DefaultBulkTimeLimitSec, c.Queue.TaskTimeLimitsSec["bulk_forward"])
				assert.Equal(t, constants.DefaultSessionHealthCheckSec, c.Sessions.HealthCheckIntervalSec)
				assert.Equal(t, constants.DefaultStuckThresholdMin, c.Monitor.StuckThresholdMin)
				assert.Equal(t, constants.DefaultHealthCheckCron, c.Schedule.HealthCheckCron)
				assert.Equal(t, constants.DefaultTaskRetentionDays, c.Retention.TaskDays)
				assert.Equal(t, constants.DefaultServerPort, c.Server.Port)
				assert.Equal(t, "info", c.LogLevel)
			},
		},
		{
			name: "time limit override",
			content: `{
				"database": {"path": "db.sqlite"},
				"redis": {"addr": "redis:6379"},
				"queue": {"task_time_limits_sec": {"send_message": 15}}
			}`,
			validate: func(t *testing.T, c *models.Config) {
				assert.Equal(t, 15, c.Queue.TaskTimeLimitsSec["send_message"])
				assert.Equal(t, constants.DefaultForwardTimeLimitSec, c.Queue.TaskTimeLimitsSec["forward_message"])
			},
		},
		{
			name: "unknown task type",
			content: `{
				"database": {"path": "db.sqlite"},
				"redis": {"addr": "redis:6379"},
				"queue": {"task_time_limits_sec": {"teleport": 15}}
			}`,
			wantError: true,
		},
		{
			name:      "missing database path",
			content:   `{"redis": {"addr": "redis:6379"}}`,
			wantError: true,
		},
		{
			name:    "environment overrides",
			content: `{"database": {"path": "db.sqlite"}}`,
			setEnv: map[string]string{
				"TELXFWD_REDIS_ADDR":     "cache:6380",
				"TELXFWD_REDIS_PASSWORD": "hunter2",
				"TELXFWD_HTTP_PORT":      "9999",
				"TELXFWD_LOG_LEVEL":      "debug",
			},
			validate: func(t *testing.T, c *models.Config) {
				assert.Equal(t, "cache:6380", c.Redis.Addr)
				assert.Equal(t, "hunter2", c.Redis.Password)
				assert.Equal(t, 9999, c.Server.Port)
				assert.Equal(t, "debug", c.LogLevel)
			},
		},
		{
			name:      "invalid json",
			content:   `{"database":`,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.setEnv {
				t.Setenv(k, v)
			}

			cfg, err := LoadConfig(writeConfig(t, tt.content))
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.validate(t, cfg)
		})
	}
}

func TestLoadConfig_RejectsTraversal(t *testing.T) {
	_, err := LoadConfig("../../etc/passwd")
	assert.Error(t, err)

	_, err = LoadConfig("")
	assert.Error(t, err)
}

func TestLoadConfig_PasswordNotReadFromFile(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `{
		"database": {"path": "db.sqlite"},
		"redis": {"addr": "redis:6379", "password": "from-file"}
	}`))
	require.NoError(t, err)
	assert.Empty(t, cfg.Redis.Password)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, constants.DefaultRedisAddr, cfg.Redis.Addr)
	assert.Len(t, cfg.Queue.TaskTimeLimitsSec, len(models.AllTaskTypes()))
}

package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigError_Error(t *testing.T) {
	err := ConfigError{Message: "test error"}
	assert.Equal(t, "test error", err.Error())
}

func TestPairType_Platforms(t *testing.T) {
	tests := []struct {
		pairType PairType
		src      Platform
		dst      Platform
		cross    bool
	}{
		{PairTelegramToTelegram, PlatformTelegram, PlatformTelegram, false},
		{PairTelegramToDiscord, PlatformTelegram, PlatformDiscord, true},
		{PairDiscordToTelegram, PlatformDiscord, PlatformTelegram, true},
		{PairDiscordToDiscord, PlatformDiscord, PlatformDiscord, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.pairType), func(t *testing.T) {
			src, dst, err := tt.pairType.Platforms()
			require.NoError(t, err)
			assert.Equal(t, tt.src, src)
			assert.Equal(t, tt.dst, dst)
			assert.Equal(t, tt.cross, tt.pairType.CrossPlatform())
			assert.Equal(t, tt.pairType, NewPairType(src, dst))
		})
	}

	_, _, err := PairType("signal_to_telegram").Platforms()
	assert.Error(t, err)
}

func TestParsePlatform(t *testing.T) {
	p, err := ParsePlatform("discord")
	require.NoError(t, err)
	assert.Equal(t, PlatformDiscord, p)

	_, err = ParsePlatform("whatsapp")
	assert.Error(t, err)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		allowed  bool
	}{
		{JobPending, JobProcessing, true},
		{JobPending, JobCancelled, true},
		{JobProcessing, JobCompleted, true},
		{JobProcessing, JobPending, true},
		{JobFailed, JobPending, true},
		{JobCompleted, JobPending, false},
		{JobCancelled, JobPending, false},
		{JobCompleted, JobFailed, false},
		{JobPending, JobCompleted, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestUser_PlanActive(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.True(t, (&User{Status: UserStatusActive}).PlanActive(now))
	assert.True(t, (&User{Status: UserStatusActive, PlanExpiresAt: &future}).PlanActive(now))
	assert.False(t, (&User{Status: UserStatusActive, PlanExpiresAt: &past}).PlanActive(now))
	assert.False(t, (&User{Status: UserStatusSuspended}).PlanActive(now))
}

func TestJob_CanRetryAndView(t *testing.T) {
	job := &Job{ID: "j1", TaskType: TaskSendMessage, Status: JobFailed, RetryCount: 2, MaxRetries: 3}
	assert.True(t, job.CanRetry())
	job.RetryCount = 3
	assert.False(t, job.CanRetry())

	view := job.View()
	assert.Equal(t, "j1", view.ID)
	assert.Equal(t, JobFailed, view.Status)
	assert.Equal(t, 3, view.RetryCount)
}

func TestLinkedAccount_Usable(t *testing.T) {
	assert.True(t, (&LinkedAccount{Status: AccountStatusActive}).Usable())
	assert.True(t, (&LinkedAccount{Status: AccountStatusDisconnected}).Usable())
	assert.False(t, (&LinkedAccount{Status: AccountStatusInactive}).Usable())
	assert.False(t, (&LinkedAccount{Status: AccountStatusPendingVerification}).Usable())
}

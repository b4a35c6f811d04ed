package plan

import (
	"testing"
	"time"

	appErrors "telxfwd/internal/errors"
	"telxfwd/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitsFor(t *testing.T) {
	tests := []struct {
		tier      string
		pairs     int
		telegram  int
		discord   int
		priority  int
		pairTypes int
	}{
		{"free", 1, 1, 0, 1, 1},
		{"pro", 15, 2, 1, 2, 3},
		{"elite", UnlimitedPairs, 3, 3, 3, 4},
		{"ELITE ", UnlimitedPairs, 3, 3, 3, 4},
		{"platinum", 1, 1, 0, 1, 1},
		{"", 1, 1, 0, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.tier, func(t *testing.T) {
			l := LimitsFor(tt.tier)
			assert.Equal(t, tt.pairs, l.MaxForwardingPairs)
			assert.Equal(t, tt.telegram, l.MaxTelegramAccounts)
			assert.Equal(t, tt.discord, l.MaxDiscordAccounts)
			assert.Equal(t, tt.priority, l.MaxQueuePriority)
			assert.Len(t, l.AllowedPairTypes, tt.pairTypes)
		})
	}
}

func TestLimitsFor_ReturnsCopies(t *testing.T) {
	l := LimitsFor("pro")
	l.Features[0] = "tampered"
	l.AllowedPairTypes[0] = "tampered"

	fresh := LimitsFor("pro")
	assert.Equal(t, FeatureBasicForwarding, fresh.Features[0])
	assert.Equal(t, models.PairTelegramToTelegram, fresh.AllowedPairTypes[0])
}

func TestFeatureAllowed(t *testing.T) {
	tests := []struct {
		tier    string
		feature Feature
		allowed bool
	}{
		{"free", FeatureBasicForwarding, true},
		{"free", FeatureCopyMode, false},
		{"free", FeatureBulkOperations, false},
		{"pro", FeatureCopyMode, true},
		{"pro", FeatureCustomDelays, true},
		{"pro", FeatureBulkOperations, false},
		{"elite", FeatureBulkOperations, true},
		{"elite", FeatureWebhookSupport, true},
		{"unknown", FeatureAPIAccess, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, FeatureAllowed(tt.tier, tt.feature), "%s/%s", tt.tier, tt.feature)
	}
}

func TestQueuePriorityFor_WithinBand(t *testing.T) {
	for _, tier := range []string{"free", "pro", "elite", "bogus"} {
		p := QueuePriorityFor(tier)
		assert.GreaterOrEqual(t, p, 1)
		assert.LessOrEqual(t, p, LimitsFor(tier).MaxQueuePriority)
	}
}

func TestValidatePriority_NeverRejects(t *testing.T) {
	tests := []struct {
		tier      string
		requested int
		allowed   bool
		effective int
	}{
		{"free", 1, true, 1},
		{"free", 3, false, 1},
		{"pro", 2, true, 2},
		{"pro", 3, false, 2},
		{"elite", 3, true, 3},
		{"elite", 0, false, 1},
		{"elite", -5, false, 1},
		{"nope", 3, false, 1},
	}

	for _, tt := range tests {
		allowed, effective := ValidatePriority(tt.tier, tt.requested)
		assert.Equal(t, tt.allowed, allowed, "%s/%d", tt.tier, tt.requested)
		assert.Equal(t, tt.effective, effective, "%s/%d", tt.tier, tt.requested)
		assert.GreaterOrEqual(t, effective, 1)
		assert.LessOrEqual(t, effective, QueuePriorityFor(tt.tier))
	}
}

func TestAccountLimitAndPairTypes(t *testing.T) {
	assert.Equal(t, 0, AccountLimit("free", models.PlatformDiscord))
	assert.Equal(t, 2, AccountLimit("pro", models.PlatformTelegram))
	assert.Equal(t, 0, AccountLimit("pro", models.Platform("signal")))

	assert.True(t, PairTypeAllowed("pro", models.PairTelegramToDiscord))
	assert.False(t, PairTypeAllowed("pro", models.PairDiscordToDiscord))
	assert.False(t, PairTypeAllowed("free", models.PairTelegramToDiscord))
}

func TestEffectiveTier(t *testing.T) {
	now := time.Now()
	expired := now.Add(-time.Minute)

	assert.Equal(t, "elite", EffectiveTier(&models.User{Plan: "elite", Status: models.UserStatusActive}, now))
	assert.Equal(t, "free", EffectiveTier(&models.User{Plan: "elite", Status: models.UserStatusActive, PlanExpiresAt: &expired}, now))
	assert.Equal(t, "free", EffectiveTier(&models.User{Plan: "pro", Status: models.UserStatusSuspended}, now))
	assert.Equal(t, "free", EffectiveTier(nil, now))
}

func TestValidatePairCreation(t *testing.T) {
	t.Run("free tier second pair hits the pair-count limit", func(t *testing.T) {
		err := ValidatePairCreation("free", 1, models.PairTelegramToDiscord)
		require.Error(t, err)
		appErr, ok := appErrors.As(err)
		require.True(t, ok)
		assert.Equal(t, appErrors.ErrCodePlanLimit, appErr.Code)
		assert.Equal(t, appErrors.KindValidation, appErr.Kind)
		assert.Equal(t, "forwarding pairs", appErr.Context["limit_name"])
		assert.Equal(t, 1, appErr.Context["limit"])
	})

	t.Run("pair type not in plan", func(t *testing.T) {
		err := ValidatePairCreation("free", 0, models.PairTelegramToDiscord)
		assert.Equal(t, appErrors.ErrCodePlatformPair, appErrors.GetCode(err))
	})

	t.Run("allowed", func(t *testing.T) {
		assert.NoError(t, ValidatePairCreation("pro", 3, models.PairDiscordToTelegram))
	})
}

func TestValidateAccountCreation(t *testing.T) {
	assert.Error(t, ValidateAccountCreation("free", models.PlatformDiscord, 0))
	assert.Error(t, ValidateAccountCreation("pro", models.PlatformTelegram, 2))
	assert.NoError(t, ValidateAccountCreation("elite", models.PlatformDiscord, 2))
}

func TestUpgradeMessage(t *testing.T) {
	assert.Contains(t, UpgradeMessage("free"), "Pro")
	assert.Contains(t, UpgradeMessage("pro"), "Elite")
	assert.Equal(t, UpgradeMessage("free"), UpgradeMessage("garbage"))
}

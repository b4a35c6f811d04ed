// Package plan maps subscription tiers to limits and feature flags.
// Every function is pure; unknown tiers resolve to the free tier.
package plan

import (
	"strings"
	"time"

	appErrors "telxfwd/internal/errors"
	"telxfwd/internal/models"
)

type Tier string

const (
	TierFree  Tier = "free"
	TierPro   Tier = "pro"
	TierElite Tier = "elite"
)

type Feature string

const (
	FeatureBasicForwarding     Feature = "basic_forwarding"
	FeatureCopyMode            Feature = "copy_mode"
	FeatureChainForwarding     Feature = "chain_forwarding"
	FeatureDiscordForwarding   Feature = "discord_forwarding"
	FeaturePriorityQueue       Feature = "priority_queue"
	FeatureAdvancedScheduling  Feature = "advanced_scheduling"
	FeatureBulkOperations      Feature = "bulk_operations"
	FeatureAPIAccess           Feature = "api_access"
	FeatureCustomDelays        Feature = "custom_delays"
	FeatureWebhookSupport      Feature = "webhook_support"
	FeatureTextFiltering       Feature = "text_filtering"
	FeatureScheduledForwarding Feature = "scheduled_forwarding"
)

// UnlimitedPairs is the pair ceiling of the top tier.
const UnlimitedPairs = 999

// Limits is the derived, never persisted, policy of one tier.
type Limits struct {
	Tier                Tier              `json:"tier"`
	MaxForwardingPairs  int               `json:"max_forwarding_pairs"`
	MaxTelegramAccounts int               `json:"max_telegram_accounts"`
	MaxDiscordAccounts  int               `json:"max_discord_accounts"`
	MaxQueuePriority    int               `json:"max_queue_priority"`
	AllowedPairTypes    []models.PairType `json:"allowed_pair_types"`
	Features            []Feature         `json:"features"`
	RequestsPerMinute   int               `json:"requests_per_minute"`
	MessagesPerHour     int               `json:"messages_per_hour"`
}

var freeFeatures = []Feature{FeatureBasicForwarding, FeatureTextFiltering}

var proFeatures = append(append([]Feature{}, freeFeatures...),
	FeatureCopyMode,
	FeatureDiscordForwarding,
	FeatureCustomDelays,
	FeatureAPIAccess,
	FeaturePriorityQueue,
)

var eliteFeatures = []Feature{
	FeatureBasicForwarding,
	FeatureCopyMode,
	FeatureChainForwarding,
	FeatureDiscordForwarding,
	FeaturePriorityQueue,
	FeatureAdvancedScheduling,
	FeatureBulkOperations,
	FeatureAPIAccess,
	FeatureCustomDelays,
	FeatureWebhookSupport,
	FeatureTextFiltering,
	FeatureScheduledForwarding,
}

var tiers = map[Tier]Limits{
	TierFree: {
		Tier:                TierFree,
		MaxForwardingPairs:  1,
		MaxTelegramAccounts: 1,
		MaxDiscordAccounts:  0,
		MaxQueuePriority:    1,
		AllowedPairTypes:    []models.PairType{models.PairTelegramToTelegram},
		Features:            freeFeatures,
		RequestsPerMinute:   10,
		MessagesPerHour:     50,
	},
	TierPro: {
		Tier:                TierPro,
		MaxForwardingPairs:  15,
		MaxTelegramAccounts: 2,
		MaxDiscordAccounts:  1,
		MaxQueuePriority:    2,
		AllowedPairTypes: []models.PairType{
			models.PairTelegramToTelegram,
			models.PairTelegramToDiscord,
			models.PairDiscordToTelegram,
		},
		Features:          proFeatures,
		RequestsPerMinute: 100,
		MessagesPerHour:   1000,
	},
	TierElite: {
		Tier:                TierElite,
		MaxForwardingPairs:  UnlimitedPairs,
		MaxTelegramAccounts: 3,
		MaxDiscordAccounts:  3,
		MaxQueuePriority:    3,
		AllowedPairTypes: []models.PairType{
			models.PairTelegramToTelegram,
			models.PairTelegramToDiscord,
			models.PairDiscordToTelegram,
			models.PairDiscordToDiscord,
		},
		Features:          eliteFeatures,
		RequestsPerMinute: 1000,
		MessagesPerHour:   10000,
	},
}

var upgradeMessages = map[Tier]string{
	TierFree:  "Upgrade to Pro for 15 forwarding pairs, Discord forwarding and copy mode.",
	TierPro:   "Upgrade to Elite for unlimited pairs, bulk operations and the highest queue priority.",
	TierElite: "You are on the highest plan.",
}

// ParseTier normalizes a tier string, failing closed to free.
func ParseTier(s string) Tier {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := tiers[t]; ok {
		return t
	}
	return TierFree
}

// LimitsFor returns the limits of a tier. The returned slices are copies.
func LimitsFor(tier string) Limits {
	l := tiers[ParseTier(tier)]
	l.AllowedPairTypes = append([]models.PairType(nil), l.AllowedPairTypes...)
	l.Features = append([]Feature(nil), l.Features...)
	return l
}

// FeatureAllowed reports whether the tier includes a feature.
func FeatureAllowed(tier string, feature Feature) bool {
	for _, f := range tiers[ParseTier(tier)].Features {
		if f == feature {
			return true
		}
	}
	return false
}

// QueuePriorityFor returns the default band for a tier.
func QueuePriorityFor(tier string) int {
	return tiers[ParseTier(tier)].MaxQueuePriority
}

// ValidatePriority caps a requested priority to the tier ceiling. It never
// rejects: allowed is false when the request had to be adjusted.
func ValidatePriority(tier string, requested int) (bool, int) {
	ceiling := QueuePriorityFor(tier)
	switch {
	case requested < 1:
		return false, 1
	case requested > ceiling:
		return false, ceiling
	default:
		return true, requested
	}
}

// AccountLimit returns how many accounts of a platform the tier may link.
func AccountLimit(tier string, platform models.Platform) int {
	l := tiers[ParseTier(tier)]
	switch platform {
	case models.PlatformTelegram:
		return l.MaxTelegramAccounts
	case models.PlatformDiscord:
		return l.MaxDiscordAccounts
	default:
		return 0
	}
}

// PairTypeAllowed reports whether the tier may forward in a direction.
func PairTypeAllowed(tier string, pairType models.PairType) bool {
	for _, t := range tiers[ParseTier(tier)].AllowedPairTypes {
		if t == pairType {
			return true
		}
	}
	return false
}

// UpgradeMessage returns the upsell text shown when a limit is hit.
func UpgradeMessage(tier string) string {
	return upgradeMessages[ParseTier(tier)]
}

// EffectiveTier is the tier a user currently gets: expired or suspended
// subscriptions fall back to free.
func EffectiveTier(user *models.User, now time.Time) string {
	if user == nil || !user.PlanActive(now) {
		return string(TierFree)
	}
	return string(ParseTier(user.Plan))
}

// ValidatePairCreation checks a new pair against the tier. The pair count is
// checked first so the caller sees the most fundamental limit.
func ValidatePairCreation(tier string, activePairs int, pairType models.PairType) error {
	l := tiers[ParseTier(tier)]
	if activePairs >= l.MaxForwardingPairs {
		return appErrors.NewPlanLimitError(string(l.Tier), "forwarding pairs", l.MaxForwardingPairs).
			WithContext("current", activePairs).
			WithContext("upgrade", UpgradeMessage(tier))
	}
	if !PairTypeAllowed(tier, pairType) {
		return appErrors.NewPlatformPairError(string(l.Tier), string(pairType)).
			WithContext("upgrade", UpgradeMessage(tier))
	}
	return nil
}

// ValidateAccountCreation checks the per-platform account cap.
func ValidateAccountCreation(tier string, platform models.Platform, linked int) error {
	limit := AccountLimit(tier, platform)
	if linked >= limit {
		return appErrors.NewPlanLimitError(string(ParseTier(tier)), string(platform)+" accounts", limit).
			WithContext("current", linked).
			WithContext("upgrade", UpgradeMessage(tier))
	}
	return nil
}

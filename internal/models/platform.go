package models

import "fmt"

// Platform identifies the messaging network a linked account belongs to.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformDiscord  Platform = "discord"
)

// AllPlatforms returns the supported platforms in a stable order.
func AllPlatforms() []Platform {
	return []Platform{PlatformTelegram, PlatformDiscord}
}

func (p Platform) IsValid() bool {
	return p == PlatformTelegram || p == PlatformDiscord
}

// ParsePlatform converts a string into a Platform.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(s)
	if !p.IsValid() {
		return "", fmt.Errorf("unknown platform %q", s)
	}
	return p, nil
}

// PairType describes the direction of a forwarding pair across platforms.
type PairType string

const (
	PairTelegramToTelegram PairType = "telegram_to_telegram"
	PairTelegramToDiscord  PairType = "telegram_to_discord"
	PairDiscordToTelegram  PairType = "discord_to_telegram"
	PairDiscordToDiscord   PairType = "discord_to_discord"
)

// NewPairType builds the pair type for a source and destination platform.
func NewPairType(source, destination Platform) PairType {
	return PairType(fmt.Sprintf("%s_to_%s", source, destination))
}

// Platforms splits a pair type into its source and destination platforms.
func (t PairType) Platforms() (Platform, Platform, error) {
	switch t {
	case PairTelegramToTelegram:
		return PlatformTelegram, PlatformTelegram, nil
	case PairTelegramToDiscord:
		return PlatformTelegram, PlatformDiscord, nil
	case PairDiscordToTelegram:
		return PlatformDiscord, PlatformTelegram, nil
	case PairDiscordToDiscord:
		return PlatformDiscord, PlatformDiscord, nil
	default:
		return "", "", fmt.Errorf("unknown pair type %q", string(t))
	}
}

// CrossPlatform reports whether source and destination differ.
func (t PairType) CrossPlatform() bool {
	src, dst, err := t.Platforms()
	return err == nil && src != dst
}

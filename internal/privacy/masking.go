package privacy

import (
	"strings"

	"telxfwd/internal/constants"

	"github.com/sirupsen/logrus"
)

// MaskSecret hides a credential, keeping only its last few characters.
// Example: "123456:ABCdefGHIjkl" -> "***************Ijkl"
func MaskSecret(secret string) string {
	return maskString(secret, constants.DefaultSecretVisibleChars)
}

// MaskChannel masks a channel identifier while keeping its shape.
// Example: "-1001234567890" -> "-100******7890", "@newsfeed" -> "@****feed"
func MaskChannel(channel string) string {
	switch {
	case channel == "":
		return ""
	case strings.HasPrefix(channel, "-100") && len(channel) > 4:
		return "-100" + maskString(channel[4:], 4)
	case strings.HasPrefix(channel, "@") && len(channel) > 1:
		return "@" + maskString(channel[1:], 4)
	default:
		return maskString(channel, 4)
	}
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields logrus.Fields) logrus.Fields {
	if fields == nil {
		return nil
	}

	masked := make(logrus.Fields, len(fields))
	for k, v := range fields {
		s, isString := v.(string)
		if !isString {
			masked[k] = v
			continue
		}

		switch k {
		case "credential", "token", "bot_token", "session_string", "password":
			masked[k] = MaskSecret(s)
		case "channel", "channel_id", "chat_id", "source_channel", "destination_channel", "target":
			masked[k] = MaskChannel(s)
		default:
			masked[k] = v
		}
	}

	return masked
}

// Hook masks sensitive fields on every log entry before it is formatted.
type Hook struct{}

func (Hook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (Hook) Fire(entry *logrus.Entry) error {
	entry.Data = MaskSensitiveFields(entry.Data)
	return nil
}

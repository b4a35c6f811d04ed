package validation

import (
	"fmt"
	"strconv"
	"strings"

	"telxfwd/internal/constants"
	"telxfwd/internal/errors"
	"telxfwd/internal/models"
)

// ValidateChannelID validates an opaque channel identifier
func ValidateChannelID(channel, field string) error {
	if strings.TrimSpace(channel) == "" {
		return errors.NewValidationError(field, channel, "cannot be empty")
	}
	if len(channel) > constants.MaxChannelIDLength {
		return errors.NewValidationError(field, channel,
			fmt.Sprintf("too long (max %d characters)", constants.MaxChannelIDLength))
	}
	if hasControlChars(channel) {
		return errors.NewValidationError(field, channel, "contains invalid characters")
	}
	return nil
}

// ValidateMessageID validates message ID format and length
func ValidateMessageID(messageID string) error {
	if messageID == "" {
		return errors.NewValidationError("message_id", messageID, "cannot be empty")
	}
	if len(messageID) > constants.MaxMessageIDLength {
		return errors.NewValidationError("message_id", messageID,
			fmt.Sprintf("too long (max %d characters)", constants.MaxMessageIDLength))
	}
	if hasControlChars(messageID) {
		return errors.NewValidationError("message_id", messageID, "contains invalid characters")
	}
	return nil
}

// ValidateKeywords validates a filter or exclude keyword list
func ValidateKeywords(keywords []string, field string) error {
	if len(keywords) > constants.MaxKeywords {
		return errors.NewValidationError(field, strconv.Itoa(len(keywords)),
			fmt.Sprintf("too many keywords (max %d)", constants.MaxKeywords))
	}
	for _, kw := range keywords {
		if strings.TrimSpace(kw) == "" {
			return errors.NewValidationError(field, kw, "keywords cannot be blank")
		}
		if len(kw) > constants.MaxKeywordLength {
			return errors.NewValidationError(field, kw,
				fmt.Sprintf("keyword too long (max %d characters)", constants.MaxKeywordLength))
		}
	}
	return nil
}

// ValidateStringLength validates string length against bounds
func ValidateStringLength(value, fieldName string, minLength, maxLength int) error {
	if len(value) < minLength {
		return errors.NewValidationError(fieldName, value,
			fmt.Sprintf("too short (min %d characters)", minLength))
	}
	if len(value) > maxLength {
		return errors.NewValidationError(fieldName, value,
			fmt.Sprintf("too long (max %d characters)", maxLength))
	}
	return nil
}

// ValidateNumericRange validates numeric values against bounds
func ValidateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.NewValidationError(fieldName, strconv.Itoa(value), fmt.Sprintf("too small (min %d)", min))
	}
	if value > max {
		return errors.NewValidationError(fieldName, strconv.Itoa(value), fmt.Sprintf("too large (max %d)", max))
	}
	return nil
}

// ValidateRetentionDays validates data retention period
func ValidateRetentionDays(days int) error {
	return ValidateNumericRange(days, "days_old", 1, constants.MaxRetentionDays)
}

// ValidateMessageText checks outgoing text against the platform's length limit.
func ValidateMessageText(platform models.Platform, text string) error {
	if text == "" {
		return errors.NewValidationError("message", "", "cannot be empty")
	}
	limit := constants.MaxTelegramMessageLength
	if platform == models.PlatformDiscord {
		limit = constants.MaxDiscordMessageLength
	}
	if n := len([]rune(text)); n > limit {
		return errors.NewValidationError("message", strconv.Itoa(n),
			fmt.Sprintf("too long for %s (max %d characters)", platform, limit))
	}
	return nil
}

// ValidatePair checks the shape of a forwarding pair before it is persisted.
// Plan limits and account ownership are checked by the caller.
func ValidatePair(pair *models.ForwardingPair) error {
	if _, _, err := pair.PairType.Platforms(); err != nil {
		return errors.NewValidationError("pair_type", string(pair.PairType), "unknown pair type")
	}
	if err := ValidateChannelID(pair.SourceChannel, "source_channel"); err != nil {
		return err
	}
	if err := ValidateChannelID(pair.DestinationChannel, "destination_channel"); err != nil {
		return err
	}
	if pair.SourceChannel == pair.DestinationChannel && !pair.PairType.CrossPlatform() {
		return errors.NewValidationError("destination_channel", pair.DestinationChannel,
			"must differ from the source channel")
	}
	if err := ValidateNumericRange(pair.DelaySeconds, "delay_seconds", 0, constants.MaxDelaySeconds); err != nil {
		return err
	}
	if err := ValidateKeywords(pair.FilterKeywords, "filter_keywords"); err != nil {
		return err
	}
	if err := ValidateKeywords(pair.ExcludeKeywords, "exclude_keywords"); err != nil {
		return err
	}

	decorations := map[string]string{
		"custom_prefix": pair.CustomPrefix,
		"custom_suffix": pair.CustomSuffix,
		"custom_header": pair.CustomHeader,
		"custom_footer": pair.CustomFooter,
	}
	for field, value := range decorations {
		if err := ValidateStringLength(value, field, 0, constants.MaxDecorationLength); err != nil {
			return err
		}
	}

	return nil
}

func hasControlChars(s string) bool {
	for _, char := range s {
		if char == '\x00' || char == '\n' || char == '\r' || char == '\t' {
			return true
		}
	}
	return false
}

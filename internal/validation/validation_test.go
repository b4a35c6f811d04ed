package validation

import (
	"strings"
	"testing"

	"telxfwd/internal/errors"
	"telxfwd/internal/models"

	"github.com/stretchr/testify/assert"
)

func validPair() *models.ForwardingPair {
	return &models.ForwardingPair{
		SourceChannel:      "@source",
		DestinationChannel: "@dest",
		PairType:           models.PairTelegramToTelegram,
		FilterKeywords:     []string{"alpha"},
	}
}

func TestValidatePair(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *models.ForwardingPair)
		wantErr bool
	}{
		{"valid", func(p *models.ForwardingPair) {}, false},
		{"unknown type", func(p *models.ForwardingPair) { p.PairType = "telegram_to_fax" }, true},
		{"empty source", func(p *models.ForwardingPair) { p.SourceChannel = " " }, true},
		{"control chars", func(p *models.ForwardingPair) { p.DestinationChannel = "a\nb" }, true},
		{"same channel same platform", func(p *models.ForwardingPair) { p.DestinationChannel = "@source" }, true},
		{"same channel cross platform", func(p *models.ForwardingPair) {
			p.DestinationChannel = "@source"
			p.PairType = models.PairTelegramToDiscord
		}, false},
		{"negative delay", func(p *models.ForwardingPair) { p.DelaySeconds = -1 }, true},
		{"delay too large", func(p *models.ForwardingPair) { p.DelaySeconds = 7200 }, true},
		{"blank keyword", func(p *models.ForwardingPair) { p.ExcludeKeywords = []string{""} }, true},
		{"prefix too long", func(p *models.ForwardingPair) { p.CustomPrefix = strings.Repeat("x", 1001) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair := validPair()
			tt.mutate(pair)
			err := ValidatePair(pair)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, errors.KindValidation, errors.KindOf(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateKeywords_TooMany(t *testing.T) {
	keywords := make([]string, 51)
	for i := range keywords {
		keywords[i] = "k"
	}
	assert.Error(t, ValidateKeywords(keywords, "filter_keywords"))
	assert.NoError(t, ValidateKeywords(keywords[:50], "filter_keywords"))
}

func TestValidateMessageText(t *testing.T) {
	assert.Error(t, ValidateMessageText(models.PlatformTelegram, ""))
	assert.NoError(t, ValidateMessageText(models.PlatformTelegram, strings.Repeat("a", 4096)))
	assert.Error(t, ValidateMessageText(models.PlatformTelegram, strings.Repeat("a", 4097)))
	assert.Error(t, ValidateMessageText(models.PlatformDiscord, strings.Repeat("a", 2001)))
	assert.NoError(t, ValidateMessageText(models.PlatformDiscord, strings.Repeat("é", 2000)))
}

func TestValidateMessageID(t *testing.T) {
	assert.NoError(t, ValidateMessageID("12345"))
	assert.Error(t, ValidateMessageID(""))
	assert.Error(t, ValidateMessageID("a\x00b"))
	assert.Error(t, ValidateMessageID(strings.Repeat("1", 129)))
}

func TestValidateRetentionDays(t *testing.T) {
	assert.NoError(t, ValidateRetentionDays(7))
	assert.Error(t, ValidateRetentionDays(0))
	assert.Error(t, ValidateRetentionDays(4000))
}

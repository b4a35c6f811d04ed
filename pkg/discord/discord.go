// Package discord implements messaging sessions on top of the Discord REST API.
package discord

import (
	"context"
	"errors"
	"net/http"
	"strings"

	appErrors "telxfwd/internal/errors"
	"telxfwd/internal/models"
	"telxfwd/internal/session"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
)

const platformName = "discord"

// API is the part of *discordgo.Session a messaging session needs.
type API interface {
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	Close() error
}

// Connector opens bot sessions, verifying the token with a users/@me call.
type Connector struct {
	logger *logrus.Logger
	newAPI func(token string) (API, error)
}

func NewConnector(logger *logrus.Logger) *Connector {
	if logger == nil {
		logger = logrus.New()
	}
	return &Connector{
		logger: logger,
		newAPI: func(token string) (API, error) {
			s, err := discordgo.New(botToken(token))
			if err != nil {
				return nil, err
			}
			// rate limits surface as errors so the queue can reschedule
			s.ShouldRetryOnRateLimit = false
			return s, nil
		},
	}
}

func (c *Connector) Connect(ctx context.Context, account *models.LinkedAccount) (session.MessagingSession, error) {
	api, err := c.newAPI(account.Credential)
	if err != nil {
		return nil, appErrors.NewCredentialError(platformName, account.ID, err)
	}

	me, err := api.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		_ = api.Close()
		return nil, mapError(account.ID, err, true)
	}

	c.logger.WithFields(logrus.Fields{
		"account_id": account.ID,
		"bot_user":   me.Username,
	}).Debug("Discord session connected")
	return &Session{api: api, accountID: account.ID}, nil
}

// Session is one authenticated bot.
type Session struct {
	api       API
	accountID int64
}

func NewSession(api API, accountID int64) *Session {
	return &Session{api: api, accountID: accountID}
}

func (s *Session) Platform() models.Platform {
	return models.PlatformDiscord
}

func (s *Session) Send(ctx context.Context, target, content string) (string, error) {
	msg, err := s.api.ChannelMessageSend(target, content, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError(s.accountID, err, false)
	}
	return msg.ID, nil
}

// Forward copies message ref from source into dest. Discord has no native
// forward for bots, so content and embeds are re-posted.
func (s *Session) Forward(ctx context.Context, source, dest, ref string) (string, error) {
	original, err := s.api.ChannelMessage(source, ref, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError(s.accountID, err, false)
	}

	msg, err := s.api.ChannelMessageSendComplex(dest, &discordgo.MessageSend{
		Content: original.Content,
		Embeds:  original.Embeds,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError(s.accountID, err, false)
	}
	return msg.ID, nil
}

func (s *Session) IsAlive(ctx context.Context) error {
	if _, err := s.api.User("@me", discordgo.WithContext(ctx)); err != nil {
		return mapError(s.accountID, err, true)
	}
	return nil
}

func (s *Session) Close() error {
	return s.api.Close()
}

func botToken(credential string) string {
	if strings.HasPrefix(credential, "Bot ") {
		return credential
	}
	return "Bot " + credential
}

// mapError classifies a discordgo failure. identity marks calls that only
// touch the bot's own user, where a 403 means the bot itself is refused; on
// channel calls it only means missing permissions.
func mapError(accountID int64, err error, identity bool) error {
	var rateErr *discordgo.RateLimitError
	if errors.As(err, &rateErr) && rateErr.RateLimit != nil && rateErr.TooManyRequests != nil {
		return appErrors.NewRateLimitError(platformName, rateErr.RetryAfter).
			WithContext("account_id", accountID)
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		status := restErr.Response.StatusCode
		if status == http.StatusForbidden && !identity {
			return appErrors.NewPermanentError(appErrors.ErrCodePlatformAPI, "discord denied access to the channel", err).
				WithContext("account_id", accountID)
		}
		return appErrors.NewAPIError(platformName, status, err).WithContext("account_id", accountID)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return appErrors.NewTimeoutError("discord request", "deadline").WithContext("account_id", accountID)
	}
	return appErrors.NewTransientError(appErrors.ErrCodeDisconnected, "discord request failed", err).
		WithContext("account_id", accountID)
}

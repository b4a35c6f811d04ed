// Package telegram implements messaging sessions on top of the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	appErrors "telxfwd/internal/errors"
	"telxfwd/internal/models"
	"telxfwd/internal/session"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

const platformName = "telegram"

// API is the part of *tgbotapi.BotAPI a session needs.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetMe() (tgbotapi.User, error)
	StopReceivingUpdates()
}

// Connector opens bot sessions. The handshake is the getMe call the client
// performs on construction.
type Connector struct {
	endpoint string
	client   *http.Client
	logger   *logrus.Logger
	newAPI   func(token, endpoint string, client *http.Client) (API, error)
}

func NewConnector(endpoint string, httpClient *http.Client, logger *logrus.Logger) *Connector {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Connector{
		endpoint: endpoint,
		client:   httpClient,
		logger:   logger,
		newAPI: func(token, endpoint string, client *http.Client) (API, error) {
			return tgbotapi.NewBotAPIWithClient(token, endpoint, client)
		},
	}
}

func (c *Connector) Connect(ctx context.Context, account *models.LinkedAccount) (session.MessagingSession, error) {
	api, err := call(ctx, func() (API, error) {
		return c.newAPI(account.Credential, c.endpoint, c.client)
	})
	if err != nil {
		return nil, connectError(account.ID, err)
	}

	c.logger.WithField("account_id", account.ID).Debug("Telegram session connected")
	return &Session{api: api, accountID: account.ID}, nil
}

// Session is one authenticated bot.
type Session struct {
	api       API
	accountID int64
	closeOnce sync.Once
}

func NewSession(api API, accountID int64) *Session {
	return &Session{api: api, accountID: accountID}
}

func (s *Session) Platform() models.Platform {
	return models.PlatformTelegram
}

func (s *Session) Send(ctx context.Context, target, content string) (string, error) {
	var msg tgbotapi.MessageConfig
	if username, ok := channelUsername(target); ok {
		msg = tgbotapi.NewMessageToChannel(username, content)
	} else {
		chatID, err := parseChatID(target)
		if err != nil {
			return "", err
		}
		msg = tgbotapi.NewMessage(chatID, content)
	}

	sent, err := call(ctx, func() (tgbotapi.Message, error) { return s.api.Send(msg) })
	if err != nil {
		return "", dispatchError(s.accountID, err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

func (s *Session) Forward(ctx context.Context, source, dest, ref string) (string, error) {
	messageID, err := strconv.Atoi(ref)
	if err != nil {
		return "", appErrors.NewValidationError("message_id", ref, "telegram message ids are numeric")
	}

	var fwd tgbotapi.ForwardConfig
	fwd.MessageID = messageID
	if username, ok := channelUsername(dest); ok {
		fwd.ChannelUsername = username
	} else if fwd.ChatID, err = parseChatID(dest); err != nil {
		return "", err
	}
	if username, ok := channelUsername(source); ok {
		fwd.FromChannelUsername = username
	} else if fwd.FromChatID, err = parseChatID(source); err != nil {
		return "", err
	}

	sent, err := call(ctx, func() (tgbotapi.Message, error) { return s.api.Send(fwd) })
	if err != nil {
		return "", dispatchError(s.accountID, err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

func (s *Session) IsAlive(ctx context.Context) error {
	if _, err := call(ctx, s.api.GetMe); err != nil {
		return connectError(s.accountID, err)
	}
	return nil
}

// Close is idempotent; the client panics when stopped twice.
func (s *Session) Close() error {
	s.closeOnce.Do(s.api.StopReceivingUpdates)
	return nil
}

func channelUsername(target string) (string, bool) {
	if strings.HasPrefix(target, "@") && len(target) > 1 {
		return target, true
	}
	return "", false
}

func parseChatID(target string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(target), 10, 64)
	if err != nil {
		return 0, appErrors.NewValidationError("channel_id", target, "expected a numeric chat id or @username")
	}
	return id, nil
}

// call runs a blocking client call and gives up when ctx ends first. The
// client's own HTTP timeout bounds the abandoned call.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// connectError maps failures of the handshake and liveness calls, where a
// 401 or 403 means the bot token itself is no longer valid.
func connectError(accountID int64, err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.RetryAfter > 0 {
			return rateLimited(accountID, apiErr.RetryAfter)
		}
		return appErrors.NewAPIError(platformName, apiErr.Code, err).WithContext("account_id", accountID)
	}
	return transportError(accountID, err)
}

// dispatchError maps failures of send and forward. A 403 here means the bot
// lost access to one chat, which says nothing about the credential.
func dispatchError(accountID int64, err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.RetryAfter > 0:
			return rateLimited(accountID, apiErr.RetryAfter)
		case apiErr.Code == http.StatusForbidden:
			return appErrors.NewPermanentError(appErrors.ErrCodePlatformAPI, "telegram refused access to the chat", err).
				WithContext("account_id", accountID)
		}
		return appErrors.NewAPIError(platformName, apiErr.Code, err).WithContext("account_id", accountID)
	}
	return transportError(accountID, err)
}

func rateLimited(accountID int64, retryAfterSec int) error {
	return appErrors.NewRateLimitError(platformName, time.Duration(retryAfterSec)*time.Second).
		WithContext("account_id", accountID)
}

func transportError(accountID int64, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return appErrors.NewTimeoutError("telegram request", "deadline").WithContext("account_id", accountID)
	}
	return appErrors.NewTransientError(appErrors.ErrCodeDisconnected, "telegram request failed", err).
		WithContext("account_id", accountID)
}

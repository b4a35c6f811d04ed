// Package session owns the live platform connections of linked accounts.
package session

import (
	"context"
	"errors"
	"time"

	"telxfwd/internal/constants"
	appErrors "telxfwd/internal/errors"
	"telxfwd/internal/models"
	"telxfwd/pkg/circuitbreaker"
)

// MessagingSession is one live connection for one linked account.
// Implementations need not be safe for concurrent use; the registry
// serializes calls per account.
type MessagingSession interface {
	Platform() models.Platform
	// Send posts content to target and returns the new message id.
	Send(ctx context.Context, target, content string) (string, error)
	// Forward re-posts message ref from source into dest natively.
	Forward(ctx context.Context, source, dest, ref string) (string, error)
	// IsAlive performs a cheap round trip and reports connection problems.
	IsAlive(ctx context.Context) error
	Close() error
}

// Connector performs the handshake for one platform.
type Connector interface {
	Connect(ctx context.Context, account *models.LinkedAccount) (MessagingSession, error)
}

// Store is the slice of the persistence port the registry needs.
type Store interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetAccount(ctx context.Context, id int64) (*models.LinkedAccount, error)
	ListAccountsByStatus(ctx context.Context, status models.AccountStatus) ([]*models.LinkedAccount, error)
	CreateAccount(ctx context.Context, account *models.LinkedAccount) error
	CountLinkedAccounts(ctx context.Context, userID int64, platform models.Platform) (int, error)
	UpdateAccountStatus(ctx context.Context, id int64, status models.AccountStatus) error
	TouchAccount(ctx context.Context, id int64, seen time.Time) error
	InsertErrorLog(ctx context.Context, entry *models.ErrorLog) error
	ListPairsByAccount(ctx context.Context, accountID int64) ([]*models.ForwardingPair, error)
}

type Config struct {
	HealthCheckInterval time.Duration
	ReconnectAttempts   int
	BreakerMaxFailures  uint32
	BreakerTimeout      time.Duration
	ConnectTimeout      time.Duration
	CheckTimeout        time.Duration
}

// ConfigFrom converts the sessions section of the app config.
func ConfigFrom(c models.SessionsConfig) Config {
	return Config{
		HealthCheckInterval: time.Duration(c.HealthCheckIntervalSec) * time.Second,
		ReconnectAttempts:   c.ReconnectAttempts,
		BreakerMaxFailures:  uint32(c.BreakerMaxFailures),
		BreakerTimeout:      time.Duration(c.BreakerTimeoutSec) * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = time.Duration(constants.DefaultSessionHealthCheckSec) * time.Second
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = constants.DefaultReconnectAttempts
	}
	if c.BreakerMaxFailures == 0 {
		c.BreakerMaxFailures = constants.DefaultBreakerMaxFailures
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = time.Duration(constants.DefaultBreakerTimeoutSec) * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = time.Duration(constants.DefaultConnectTimeoutSec) * time.Second
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = time.Duration(constants.DefaultSessionCheckTimeoutSec) * time.Second
	}
	return c
}

// classify turns whatever a session or connector returned into an AppError.
// Unknown failures are treated as transient disconnects.
func classify(platform models.Platform, accountID int64, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := appErrors.As(err); ok {
		return err
	}

	var openErr *circuitbreaker.OpenError
	if errors.As(err, &openErr) {
		return appErrors.NewTransientError(appErrors.ErrCodeDisconnected, "session circuit open", err).
			WithContext("account_id", accountID).
			WithRetryAfter(openErr.RetryAfter)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return appErrors.NewTimeoutError(string(platform)+" call", "deadline").
			WithContext("account_id", accountID)
	}

	return appErrors.NewTransientError(appErrors.ErrCodeDisconnected, string(platform)+" session failed", err).
		WithContext("account_id", accountID)
}

// breakerCounts reports which failures should open the per-account breaker.
func breakerCounts(err error) bool {
	if _, ok := appErrors.As(err); !ok {
		return true
	}
	return appErrors.IsRetryable(err)
}

package session

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	appErrors "telxfwd/internal/errors"
	"telxfwd/internal/metrics"
	"telxfwd/internal/models"
	"telxfwd/internal/plan"
	"telxfwd/internal/tracing"
	"telxfwd/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
)

// entryLock is a one-slot semaphore used as a mutex whose acquisition can be
// abandoned when the caller's context ends. A handler cut off by its time
// limit may keep holding it until the platform call returns.
type entryLock chan struct{}

func (l entryLock) Lock() { l <- struct{}{} }

func (l entryLock) LockContext(ctx context.Context) error {
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l entryLock) Unlock() { <-l }

// entry is the registry slot of one account. mu serializes every call on the
// session; healthy is readable without it.
type entry struct {
	mu      entryLock
	account *models.LinkedAccount
	session MessagingSession
	breaker *circuitbreaker.CircuitBreaker
	dropped bool

	// guarded by Registry.mu
	platform models.Platform

	healthy atomic.Bool
}

// Registry keeps at most one live session per linked account. Calls for one
// account are serialized, calls for different accounts run in parallel.
type Registry struct {
	store      Store
	connectors map[models.Platform]Connector
	config     Config
	logger     *logrus.Logger
	errLogger  *appErrors.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	mu       sync.RWMutex
	entries  map[int64]*entry
	shutdown bool
}

func NewRegistry(store Store, connectors map[models.Platform]Connector, config Config, m *metrics.Metrics, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		store:      store,
		connectors: connectors,
		config:     config.withDefaults(),
		logger:     logger,
		errLogger:  appErrors.WrapLogger(logger),
		metrics:    m,
		now:        time.Now,
		entries:    make(map[int64]*entry),
	}
}

// Init connects every active account. Individual failures are logged and
// never abort startup; the number of connected sessions is returned.
func (r *Registry) Init(ctx context.Context) (int, error) {
	r.mu.Lock()
	r.shutdown = false
	r.mu.Unlock()

	accounts, err := r.store.ListAccountsByStatus(ctx, models.AccountStatusActive)
	if err != nil {
		return 0, err
	}

	connected := 0
	for _, account := range accounts {
		if ctx.Err() != nil {
			return connected, ctx.Err()
		}
		if _, err := r.EnsureConnected(ctx, account.ID); err != nil {
			r.errLogger.LogRetryableError(err, "Failed to connect account on startup", logrus.Fields{
				"account_id": account.ID,
				"platform":   account.Platform,
			})
			continue
		}
		connected++
	}

	r.logger.WithFields(logrus.Fields{
		"accounts":  len(accounts),
		"connected": connected,
	}).Info("Session registry initialized")
	return connected, nil
}

// EnsureConnected returns the live session of an account, connecting it when
// no healthy session exists. Dispatch should go through Send and Forward so
// calls stay serialized.
func (r *Registry) EnsureConnected(ctx context.Context, accountID int64) (MessagingSession, error) {
	e, err := r.acquire(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	return e.session, nil
}

// Send posts content to target through the account's session.
func (r *Registry) Send(ctx context.Context, accountID int64, target, content string) (string, error) {
	return r.dispatch(ctx, "send", accountID, func(ctx context.Context, s MessagingSession) (string, error) {
		return s.Send(ctx, target, content)
	})
}

// Forward re-posts message ref from source into dest through the account's session.
func (r *Registry) Forward(ctx context.Context, accountID int64, source, dest, ref string) (string, error) {
	return r.dispatch(ctx, "forward", accountID, func(ctx context.Context, s MessagingSession) (string, error) {
		return s.Forward(ctx, source, dest, ref)
	})
}

func (r *Registry) dispatch(ctx context.Context, operation string, accountID int64, call func(context.Context, MessagingSession) (string, error)) (string, error) {
	e, err := r.acquire(ctx, accountID)
	if err != nil {
		return "", err
	}
	defer e.mu.Unlock()

	platform := e.account.Platform
	ctx, span := tracing.StartDispatchSpan(ctx, operation, platform, accountID)

	var messageID string
	err = e.breaker.Execute(ctx, func(ctx context.Context) error {
		var callErr error
		messageID, callErr = call(ctx, e.session)
		return callErr
	})
	err = classify(platform, accountID, err)

	tracing.EndSpan(span, err)
	r.metrics.SessionDispatched(string(platform), operation, err == nil)

	if err == nil {
		return messageID, nil
	}

	switch {
	case appErrors.IsCredentialError(err):
		r.invalidate(ctx, e, err)
	case appErrors.IsRetryable(err) && appErrors.GetCode(err) != appErrors.ErrCodeRateLimit:
		e.healthy.Store(false)
		r.refreshGauges()
	}
	return "", err
}

// AddAccount links a new account: the plan's per-platform cap is checked
// before the handshake, and the account is persisted active only after the
// handshake succeeded.
func (r *Registry) AddAccount(ctx context.Context, account *models.LinkedAccount) (*models.LinkedAccount, error) {
	if !account.Platform.IsValid() {
		return nil, appErrors.NewValidationError("platform", string(account.Platform), "unsupported platform")
	}
	connector, ok := r.connectors[account.Platform]
	if !ok {
		return nil, appErrors.NewValidationError("platform", string(account.Platform), "no connector configured")
	}
	if account.Credential == "" {
		return nil, appErrors.NewValidationError("credential", "", "credential is required")
	}

	user, err := r.store.GetUser(ctx, account.UserID)
	if err != nil {
		return nil, err
	}
	tier := plan.EffectiveTier(user, r.now())

	linked, err := r.store.CountLinkedAccounts(ctx, account.UserID, account.Platform)
	if err != nil {
		return nil, err
	}
	if err := plan.ValidateAccountCreation(tier, account.Platform, linked); err != nil {
		return nil, err
	}

	session, err := r.connect(ctx, connector, account)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	account.Status = models.AccountStatusActive
	account.LastSeen = &now
	if err := r.store.CreateAccount(ctx, account); err != nil {
		r.closeQuietly(account.ID, session)
		return nil, err
	}

	e := r.newEntry(account.ID)
	e.mu.Lock()
	r.mu.Lock()
	r.entries[account.ID] = e
	r.mu.Unlock()
	r.attach(e, account, session)
	e.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"account_id": account.ID,
		"user_id":    account.UserID,
		"platform":   account.Platform,
	}).Info("Linked account connected")
	return account, nil
}

// Remove closes the account's session, marks it inactive and forgets it.
// Close errors are logged only. Pairs referencing the account are kept; each
// active one gets an error log row so the break is visible to its owner.
func (r *Registry) Remove(ctx context.Context, accountID int64) error {
	r.detach(accountID)

	if err := r.store.UpdateAccountStatus(ctx, accountID, models.AccountStatusInactive); err != nil {
		return err
	}
	r.logger.WithField("account_id", accountID).Info("Linked account removed")

	pairs, err := r.store.ListPairsByAccount(ctx, accountID)
	if err != nil {
		r.logger.WithError(err).WithField("account_id", accountID).Warn("Failed to list pairs of removed account")
		return nil
	}
	for _, pair := range pairs {
		if pair.Status != models.PairStatusActive {
			continue
		}
		r.recordBrokenPair(ctx, pair, accountID)
	}
	return nil
}

func (r *Registry) recordBrokenPair(ctx context.Context, pair *models.ForwardingPair, accountID int64) {
	userID := pair.UserID
	entry := &models.ErrorLog{
		UserID:       &userID,
		AccountID:    &accountID,
		ErrorType:    "pair_account_removed",
		ErrorMessage: fmt.Sprintf("forwarding pair %d references removed account %d", pair.ID, accountID),
		Severity:     models.SeverityWarning,
	}
	if err := r.store.InsertErrorLog(ctx, entry); err != nil {
		r.logger.WithError(err).WithField("pair_id", pair.ID).Warn("Failed to write error log")
	}
	r.logger.WithFields(logrus.Fields{
		"pair_id":    pair.ID,
		"account_id": accountID,
		"user_id":    pair.UserID,
	}).Warn("Forwarding pair lost its account")
}

// Disconnect closes and forgets the session without changing the account status.
func (r *Registry) Disconnect(accountID int64) {
	r.detach(accountID)
}

// Shutdown closes every session. The registry refuses new connections until
// Init is called again.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.shutdown = true
	entries := r.entries
	r.entries = make(map[int64]*entry)
	r.mu.Unlock()

	for id, e := range entries {
		e.mu.Lock()
		e.dropped = true
		r.release(id, e)
		e.mu.Unlock()
	}
	r.refreshGauges()
	r.logger.WithField("sessions", len(entries)).Info("Session registry shut down")
}

// Live reports whether the account currently has a healthy session.
func (r *Registry) Live(accountID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[accountID]
	return ok && e.healthy.Load()
}

// acquire returns the account's entry locked and holding a connected session.
func (r *Registry) acquire(ctx context.Context, accountID int64) (*entry, error) {
	for {
		e, err := r.entryFor(accountID)
		if err != nil {
			return nil, err
		}

		if err := e.mu.LockContext(ctx); err != nil {
			return nil, appErrors.NewTransientError(appErrors.ErrCodeTimeout, "account session is busy", err).
				WithContext("account_id", accountID)
		}
		if e.dropped {
			e.mu.Unlock()
			continue
		}
		if e.session != nil && e.healthy.Load() {
			return e, nil
		}
		if e.account != nil {
			if err := e.breaker.Blocked(); err != nil {
				e.mu.Unlock()
				return nil, classify(e.account.Platform, accountID, err)
			}
		}

		if err := r.reconnect(ctx, e, accountID); err != nil {
			r.forget(accountID, e)
			e.mu.Unlock()
			return nil, err
		}
		return e, nil
	}
}

// reconnect replaces the entry's session with a fresh one. Caller holds e.mu.
func (r *Registry) reconnect(ctx context.Context, e *entry, accountID int64) error {
	account, err := r.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.Usable() {
		return appErrors.NewNotFoundError("usable account", strconv.FormatInt(accountID, 10)).
			WithContext("status", account.Status)
	}
	connector, ok := r.connectors[account.Platform]
	if !ok {
		return appErrors.NewInternalError(fmt.Sprintf("no connector for platform %s", account.Platform), nil)
	}

	if e.session != nil {
		r.release(accountID, e)
	}

	session, err := r.connect(ctx, connector, account)
	if err != nil {
		if appErrors.IsCredentialError(err) {
			r.setStatus(ctx, accountID, models.AccountStatusPendingVerification)
		}
		return err
	}

	if account.Status != models.AccountStatusActive {
		account.Status = models.AccountStatusActive
		r.setStatus(ctx, accountID, models.AccountStatusActive)
	}
	r.touch(ctx, accountID)
	r.attach(e, account, session)
	return nil
}

func (r *Registry) connect(ctx context.Context, connector Connector, account *models.LinkedAccount) (MessagingSession, error) {
	connectCtx, cancel := context.WithTimeout(ctx, r.config.ConnectTimeout)
	defer cancel()

	session, err := connector.Connect(connectCtx, account)
	if err != nil {
		return nil, classify(account.Platform, account.ID, err)
	}
	return session, nil
}

// invalidate handles a rejected credential: the account waits for
// re-verification and its session is dropped. Caller holds e.mu.
func (r *Registry) invalidate(ctx context.Context, e *entry, cause error) {
	accountID := e.account.ID
	r.errLogger.LogError(cause, "Credential rejected, account needs verification", logrus.Fields{
		"account_id": accountID,
		"platform":   e.account.Platform,
	})
	r.setStatus(ctx, accountID, models.AccountStatusPendingVerification)
	r.release(accountID, e)
	r.forget(accountID, e)
}

func (r *Registry) entryFor(accountID int64) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shutdown {
		return nil, appErrors.NewInternalError("session registry is shut down", nil)
	}
	e, ok := r.entries[accountID]
	if !ok {
		e = r.newEntry(accountID)
		r.entries[accountID] = e
	}
	return e, nil
}

func (r *Registry) newEntry(accountID int64) *entry {
	return &entry{
		mu: make(entryLock, 1),
		breaker: circuitbreaker.New(fmt.Sprintf("account-%d", accountID), circuitbreaker.Config{
			MaxFailures: r.config.BreakerMaxFailures,
			Timeout:     r.config.BreakerTimeout,
			IsFailure:   breakerCounts,
		}, r.logger),
	}
}

// attach installs a connected session. Caller holds e.mu.
func (r *Registry) attach(e *entry, account *models.LinkedAccount, session MessagingSession) {
	e.account = account
	e.session = session

	r.mu.Lock()
	e.platform = account.Platform
	r.mu.Unlock()

	e.healthy.Store(true)
	r.refreshGauges()
}

// release closes the entry's session. Caller holds e.mu.
func (r *Registry) release(accountID int64, e *entry) {
	e.healthy.Store(false)
	if e.session == nil {
		return
	}
	r.closeQuietly(accountID, e.session)
	e.session = nil
}

// forget removes the entry from the map if it is still the registered one.
// Caller holds e.mu.
func (r *Registry) forget(accountID int64, e *entry) {
	e.dropped = true
	r.mu.Lock()
	if r.entries[accountID] == e {
		delete(r.entries, accountID)
	}
	r.mu.Unlock()
	r.refreshGauges()
}

func (r *Registry) detach(accountID int64) {
	r.mu.Lock()
	e, ok := r.entries[accountID]
	delete(r.entries, accountID)
	r.mu.Unlock()

	if ok {
		e.mu.Lock()
		e.dropped = true
		r.release(accountID, e)
		e.mu.Unlock()
	}
	r.refreshGauges()
}

func (r *Registry) closeQuietly(accountID int64, session MessagingSession) {
	if err := session.Close(); err != nil {
		r.logger.WithError(err).WithField("account_id", accountID).Warn("Failed to close session")
	}
}

func (r *Registry) setStatus(ctx context.Context, accountID int64, status models.AccountStatus) {
	if err := r.store.UpdateAccountStatus(ctx, accountID, status); err != nil {
		r.errLogger.LogError(err, "Failed to update account status", logrus.Fields{
			"account_id": accountID,
			"status":     status,
		})
	}
}

func (r *Registry) touch(ctx context.Context, accountID int64) {
	if err := r.store.TouchAccount(ctx, accountID, r.now()); err != nil {
		r.logger.WithError(err).WithField("account_id", accountID).Debug("Failed to update last seen")
	}
}

func (r *Registry) refreshGauges() {
	if r.metrics == nil {
		return
	}
	counts := make(map[models.Platform]int)
	r.mu.RLock()
	for _, e := range r.entries {
		if e.healthy.Load() {
			counts[e.platform]++
		}
	}
	r.mu.RUnlock()

	for _, platform := range models.AllPlatforms() {
		r.metrics.SetSessionsActive(string(platform), counts[platform])
	}
}

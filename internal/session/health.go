package session

import (
	"context"
	"encoding/json"
	"time"

	appErrors "telxfwd/internal/errors"
	"telxfwd/internal/models"
	"telxfwd/internal/retry"

	"github.com/sirupsen/logrus"
)

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// SweepReport counts what one liveness sweep did.
type SweepReport struct {
	Checked     int `json:"checked"`
	Healthy     int `json:"healthy"`
	Reconnected int `json:"reconnected"`
	Dropped     int `json:"dropped"`
}

// PlatformHealth compares live sessions with the accounts that should have one.
type PlatformHealth struct {
	ActiveSessions int    `json:"active_sessions"`
	ActiveAccounts int    `json:"active_accounts"`
	Status         string `json:"status"`
}

// HealthReport is the per-platform session summary. It marshals flat, as
// {"telegram": {...}, "discord": {...}, "overall": "..."}.
type HealthReport struct {
	Platforms map[models.Platform]PlatformHealth
	Overall   string
	CheckedAt time.Time
}

func (h HealthReport) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(h.Platforms)+2)
	for platform, ph := range h.Platforms {
		out[string(platform)] = ph
	}
	out["overall"] = h.Overall
	out["checked_at"] = h.CheckedAt
	return json.Marshal(out)
}

// Degraded lists the platforms where some active account lacks a live session.
func (h HealthReport) Degraded() []models.Platform {
	var degraded []models.Platform
	for _, platform := range models.AllPlatforms() {
		if ph, ok := h.Platforms[platform]; ok && ph.Status == StatusDegraded {
			degraded = append(degraded, platform)
		}
	}
	return degraded
}

// Sweep checks every open session. A failed liveness call gets a reconnect;
// when that fails too the account is marked disconnected (or
// pending_verification for a rejected credential) and its session dropped.
func (r *Registry) Sweep(ctx context.Context) SweepReport {
	var report SweepReport

	for id, e := range r.snapshot() {
		if ctx.Err() != nil {
			break
		}
		r.sweepOne(ctx, id, e, &report)
	}

	r.logger.WithFields(logrus.Fields{
		"checked":     report.Checked,
		"healthy":     report.Healthy,
		"reconnected": report.Reconnected,
		"dropped":     report.Dropped,
	}).Info("Session sweep finished")
	return report
}

func (r *Registry) sweepOne(ctx context.Context, accountID int64, e *entry, report *SweepReport) {
	lockCtx, cancelLock := context.WithTimeout(ctx, r.config.CheckTimeout)
	err := e.mu.LockContext(lockCtx)
	cancelLock()
	if err != nil {
		r.logger.WithField("account_id", accountID).Debug("Session busy, skipped by sweep")
		return
	}
	defer e.mu.Unlock()

	if e.dropped || e.session == nil {
		return
	}
	report.Checked++
	account := e.account

	checkCtx, cancel := context.WithTimeout(ctx, r.config.CheckTimeout)
	err = e.session.IsAlive(checkCtx)
	cancel()

	if err == nil {
		e.healthy.Store(true)
		r.touch(ctx, accountID)
		report.Healthy++
		return
	}

	err = classify(account.Platform, accountID, err)
	r.errLogger.LogWarn(err, "Session liveness check failed", logrus.Fields{
		"account_id": accountID,
		"platform":   account.Platform,
	})
	e.healthy.Store(false)

	if !appErrors.IsCredentialError(err) {
		err = r.reconnectWithBackoff(ctx, e, accountID)
		r.metrics.SessionReconnected(string(account.Platform), err == nil)
		if err == nil {
			e.breaker.Reset()
			report.Reconnected++
			r.logger.WithField("account_id", accountID).Info("Session reconnected")
			return
		}
	}

	switch {
	case appErrors.IsCredentialError(err):
		r.setStatus(ctx, accountID, models.AccountStatusPendingVerification)
	case appErrors.GetCode(err) == appErrors.ErrCodeNotFound:
		// account went inactive meanwhile; keep its status
	default:
		r.setStatus(ctx, accountID, models.AccountStatusDisconnected)
	}

	r.release(accountID, e)
	r.forget(accountID, e)
	r.recordReconnectFailure(ctx, account, err)
	report.Dropped++
}

// reconnectWithBackoff runs the configured reconnect attempts. Caller holds e.mu.
func (r *Registry) reconnectWithBackoff(ctx context.Context, e *entry, accountID int64) error {
	config := retry.DefaultBackoffConfig()
	config.MaxAttempts = r.config.ReconnectAttempts

	return retry.NewBackoff(config).RetryWithPredicate(ctx, func() error {
		return r.reconnect(ctx, e, accountID)
	}, func(err error) bool {
		return !appErrors.IsPermanent(err) && appErrors.GetCode(err) != appErrors.ErrCodeNotFound
	})
}

func (r *Registry) recordReconnectFailure(ctx context.Context, account *models.LinkedAccount, cause error) {
	severity := models.SeverityWarning
	if appErrors.IsCredentialError(cause) {
		severity = models.SeverityCritical
	}
	userID, accountID := account.UserID, account.ID
	entry := &models.ErrorLog{
		UserID:       &userID,
		AccountID:    &accountID,
		ErrorType:    "session_reconnect_failed",
		ErrorMessage: cause.Error(),
		Severity:     severity,
	}
	if err := r.store.InsertErrorLog(ctx, entry); err != nil {
		r.logger.WithError(err).WithField("account_id", accountID).Warn("Failed to write error log")
	}
}

// Health summarizes live sessions against active accounts per platform.
func (r *Registry) Health(ctx context.Context) (HealthReport, error) {
	report, _, err := r.health(ctx)
	return report, err
}

func (r *Registry) health(ctx context.Context) (HealthReport, []*models.LinkedAccount, error) {
	accounts, err := r.store.ListAccountsByStatus(ctx, models.AccountStatusActive)
	if err != nil {
		return HealthReport{}, nil, err
	}

	report := HealthReport{
		Platforms: make(map[models.Platform]PlatformHealth),
		Overall:   StatusHealthy,
		CheckedAt: r.now().UTC(),
	}
	for _, platform := range models.AllPlatforms() {
		report.Platforms[platform] = PlatformHealth{Status: StatusHealthy}
	}

	for _, account := range accounts {
		ph := report.Platforms[account.Platform]
		ph.ActiveAccounts++
		if r.Live(account.ID) {
			ph.ActiveSessions++
		}
		report.Platforms[account.Platform] = ph
	}

	for platform, ph := range report.Platforms {
		if ph.ActiveSessions < ph.ActiveAccounts {
			ph.Status = StatusDegraded
			report.Platforms[platform] = ph
			report.Overall = StatusDegraded
		}
	}
	return report, accounts, nil
}

// Repair reconnects active accounts without a live session on degraded
// platforms and returns how many came back.
func (r *Registry) Repair(ctx context.Context) (int, error) {
	report, accounts, err := r.health(ctx)
	if err != nil {
		return 0, err
	}

	degraded := make(map[models.Platform]bool)
	for _, platform := range report.Degraded() {
		degraded[platform] = true
	}
	if len(degraded) == 0 {
		return 0, nil
	}

	repaired := 0
	for _, account := range accounts {
		if !degraded[account.Platform] || r.Live(account.ID) {
			continue
		}
		if ctx.Err() != nil {
			return repaired, ctx.Err()
		}
		if _, err := r.EnsureConnected(ctx, account.ID); err != nil {
			r.errLogger.LogRetryableError(err, "Failed to repair session", logrus.Fields{
				"account_id": account.ID,
				"platform":   account.Platform,
			})
			continue
		}
		repaired++
	}

	if repaired > 0 {
		r.logger.WithField("repaired", repaired).Info("Repaired degraded sessions")
	}
	return repaired, nil
}

// RunHealthLoop sweeps all sessions every health check interval until ctx ends.
func (r *Registry) RunHealthLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.config.HealthCheckInterval)
	defer ticker.Stop()

	r.logger.WithField("interval", r.config.HealthCheckInterval).Info("Session health loop started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

func (r *Registry) snapshot() map[int64]*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[int64]*entry, len(r.entries))
	for id, e := range r.entries {
		out[id] = e
	}
	return out
}

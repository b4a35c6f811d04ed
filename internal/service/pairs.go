package service

import (
	"context"
	"strconv"
	"time"

	appErrors "telxfwd/internal/errors"
	"telxfwd/internal/models"
	"telxfwd/internal/plan"
	"telxfwd/internal/validation"

	"github.com/sirupsen/logrus"
)

// PairStore is the persistence used by PairService.
type PairStore interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetAccount(ctx context.Context, id int64) (*models.LinkedAccount, error)
	CountLinkedAccounts(ctx context.Context, userID int64, platform models.Platform) (int, error)
	CountActivePairs(ctx context.Context, userID int64) (int, error)
	PairRouteExists(ctx context.Context, userID int64, source, destination string) (bool, error)
	CreatePair(ctx context.Context, pair *models.ForwardingPair) error
	GetPair(ctx context.Context, id int64) (*models.ForwardingPair, error)
	UpdatePairStatus(ctx context.Context, id int64, status models.PairStatus) error
	DeletePair(ctx context.Context, id int64) (bool, error)
	ListPairsByUser(ctx context.Context, userID int64) ([]*models.ForwardingPair, error)
	ListAccountsByUser(ctx context.Context, userID int64) ([]*models.LinkedAccount, error)
}

// BrokenPair is an active pair that cannot deliver because an account it
// references is no longer usable.
type BrokenPair struct {
	PairID        int64                `json:"pair_id"`
	AccountID     int64                `json:"account_id"`
	Role          string               `json:"role"`
	AccountStatus models.AccountStatus `json:"account_status"`
}

// PlanUsage is a user's plan limits next to what they currently use.
type PlanUsage struct {
	Tier             string       `json:"tier"`
	PlanActive       bool         `json:"plan_active"`
	Limits           plan.Limits  `json:"limits"`
	ActivePairs      int          `json:"active_pairs"`
	TelegramAccounts int          `json:"telegram_accounts"`
	DiscordAccounts  int          `json:"discord_accounts"`
	UpgradeMessage   string       `json:"upgrade_message"`
	BrokenPairs      []BrokenPair `json:"broken_pairs"`
}

// PairService creates and manages forwarding pairs under plan restrictions.
type PairService struct {
	store  PairStore
	logger *logrus.Logger
	now    func() time.Time
}

func NewPairService(store PairStore, logger *logrus.Logger) *PairService {
	return &PairService{store: store, logger: logger, now: time.Now}
}

// PlanLimitsFor returns the limits that apply to the user right now.
func (s *PairService) PlanLimitsFor(ctx context.Context, userID int64) (PlanUsage, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return PlanUsage{}, err
	}
	now := s.now()
	tier := plan.EffectiveTier(user, now)

	usage := PlanUsage{
		Tier:           tier,
		PlanActive:     user.PlanActive(now),
		Limits:         plan.LimitsFor(tier),
		UpgradeMessage: plan.UpgradeMessage(tier),
	}
	if usage.ActivePairs, err = s.store.CountActivePairs(ctx, userID); err != nil {
		return PlanUsage{}, err
	}
	if usage.TelegramAccounts, err = s.store.CountLinkedAccounts(ctx, userID, models.PlatformTelegram); err != nil {
		return PlanUsage{}, err
	}
	if usage.DiscordAccounts, err = s.store.CountLinkedAccounts(ctx, userID, models.PlatformDiscord); err != nil {
		return PlanUsage{}, err
	}
	if usage.BrokenPairs, err = s.BrokenPairs(ctx, userID); err != nil {
		return PlanUsage{}, err
	}
	return usage, nil
}

// BrokenPairs lists the user's active pairs whose source or destination
// account is missing or not active.
func (s *PairService) BrokenPairs(ctx context.Context, userID int64) ([]BrokenPair, error) {
	pairs, err := s.store.ListPairsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	accounts, err := s.store.ListAccountsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	status := make(map[int64]models.AccountStatus, len(accounts))
	for _, account := range accounts {
		status[account.ID] = account.Status
	}

	broken := []BrokenPair{}
	check := func(pair *models.ForwardingPair, accountID *int64, role string) {
		if accountID == nil {
			return
		}
		st, ok := status[*accountID]
		if ok && st == models.AccountStatusActive {
			return
		}
		if !ok {
			st = models.AccountStatusInactive
		}
		broken = append(broken, BrokenPair{PairID: pair.ID, AccountID: *accountID, Role: role, AccountStatus: st})
	}
	for _, pair := range pairs {
		if pair.Status != models.PairStatusActive {
			continue
		}
		check(pair, pair.SourceAccountID, "source")
		check(pair, pair.DestinationAccountID, "destination")
	}
	return broken, nil
}

// CreatePair validates a new pair against the owner's plan, the pair's
// own shape and the referenced accounts, then persists it active.
func (s *PairService) CreatePair(ctx context.Context, userID int64, pair *models.ForwardingPair) (*models.ForwardingPair, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	tier := plan.EffectiveTier(user, s.now())

	active, err := s.store.CountActivePairs(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := plan.ValidatePairCreation(tier, active, pair.PairType); err != nil {
		return nil, err
	}
	if pair.CopyMode && !plan.FeatureAllowed(tier, plan.FeatureCopyMode) {
		return nil, appErrors.NewFeatureError(tier, string(plan.FeatureCopyMode))
	}
	if pair.DelaySeconds > 0 && !plan.FeatureAllowed(tier, plan.FeatureCustomDelays) {
		return nil, appErrors.NewFeatureError(tier, string(plan.FeatureCustomDelays))
	}

	if err := validation.ValidatePair(pair); err != nil {
		return nil, err
	}
	src, dst, _ := pair.PairType.Platforms()
	if err := requireDispatchAccount(pair, src, dst); err != nil {
		return nil, err
	}
	if err := s.checkAccount(ctx, userID, pair.SourceAccountID, src, "source_account_id"); err != nil {
		return nil, err
	}
	if err := s.checkAccount(ctx, userID, pair.DestinationAccountID, dst, "destination_account_id"); err != nil {
		return nil, err
	}

	exists, err := s.store.PairRouteExists(ctx, userID, pair.SourceChannel, pair.DestinationChannel)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, appErrors.NewDuplicateError("forwarding pair", pair.SourceChannel+" -> "+pair.DestinationChannel)
	}

	pair.UserID = userID
	pair.Status = models.PairStatusActive
	if err := s.store.CreatePair(ctx, pair); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"pair_id":   pair.ID,
		"user_id":   userID,
		"pair_type": pair.PairType,
	}).Info("Forwarding pair created")
	return pair, nil
}

// requireDispatchAccount rejects a pair that lacks the account its messages
// would be sent through: the source account for a native forward, else the
// destination account (or, within one platform, the source account).
func requireDispatchAccount(pair *models.ForwardingPair, src, dst models.Platform) error {
	if src == dst && !pair.CopyMode {
		if pair.SourceAccountID == nil {
			return appErrors.NewValidationError("source_account_id", "", "is required to forward natively")
		}
		return nil
	}
	if pair.DestinationAccountID == nil && (src != dst || pair.SourceAccountID == nil) {
		return appErrors.NewValidationError("destination_account_id", "", "is required to post into "+string(dst))
	}
	return nil
}

// checkAccount requires a referenced account to belong to the user and to
// live on the platform the pair type expects.
func (s *PairService) checkAccount(ctx context.Context, userID int64, accountID *int64, platform models.Platform, field string) error {
	if accountID == nil {
		return nil
	}
	account, err := s.store.GetAccount(ctx, *accountID)
	if err != nil {
		return err
	}
	if account.UserID != userID {
		return appErrors.NewNotFoundError("linked account", strconv.FormatInt(*accountID, 10))
	}
	if account.Platform != platform {
		return appErrors.NewValidationError(field, strconv.FormatInt(*accountID, 10),
			"account is on "+string(account.Platform)+", pair expects "+string(platform))
	}
	return nil
}

// PausePair stops forwarding through a pair without deleting it.
func (s *PairService) PausePair(ctx context.Context, userID, pairID int64) error {
	if _, err := s.owned(ctx, userID, pairID); err != nil {
		return err
	}
	return s.store.UpdatePairStatus(ctx, pairID, models.PairStatusPaused)
}

// ResumePair reactivates a paused pair. Resuming counts against the plan's
// pair limit like creating does.
func (s *PairService) ResumePair(ctx context.Context, userID, pairID int64) error {
	pair, err := s.owned(ctx, userID, pairID)
	if err != nil {
		return err
	}
	if pair.Status == models.PairStatusActive {
		return nil
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	active, err := s.store.CountActivePairs(ctx, userID)
	if err != nil {
		return err
	}
	if err := plan.ValidatePairCreation(plan.EffectiveTier(user, s.now()), active, pair.PairType); err != nil {
		return err
	}
	return s.store.UpdatePairStatus(ctx, pairID, models.PairStatusActive)
}

// DeletePair removes a pair together with its message logs.
func (s *PairService) DeletePair(ctx context.Context, userID, pairID int64) error {
	if _, err := s.owned(ctx, userID, pairID); err != nil {
		return err
	}
	if _, err := s.store.DeletePair(ctx, pairID); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{"pair_id": pairID, "user_id": userID}).Info("Forwarding pair deleted")
	return nil
}

func (s *PairService) owned(ctx context.Context, userID, pairID int64) (*models.ForwardingPair, error) {
	pair, err := s.store.GetPair(ctx, pairID)
	if err != nil {
		return nil, err
	}
	if pair.UserID != userID {
		return nil, appErrors.NewNotFoundError("forwarding pair", strconv.FormatInt(pairID, 10))
	}
	return pair, nil
}

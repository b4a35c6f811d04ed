package tasks

import (
	"context"
	"time"

	appErrors "telxfwd/internal/errors"
	"telxfwd/internal/models"
	"telxfwd/internal/validation"
)

// SendPayload is the payload of a send_message job.
type SendPayload struct {
	Platform  models.Platform `json:"platform"`
	AccountID int64           `json:"account_id"`
	ChannelID string          `json:"channel_id"`
	Message   string          `json:"message"`
}

// sendExecutor posts one message outside any pair.
type sendExecutor struct {
	deps Deps
}

func (e *sendExecutor) Execute(ctx context.Context, job *models.Job) (map[string]interface{}, error) {
	var p SendPayload
	if err := decodePayload(job, &p); err != nil {
		return nil, err
	}
	if !p.Platform.IsValid() {
		return nil, appErrors.NewValidationError("platform", string(p.Platform), "unsupported platform")
	}
	if err := validation.ValidateChannelID(p.ChannelID, "channel_id"); err != nil {
		return nil, err
	}
	if err := validation.ValidateMessageText(p.Platform, p.Message); err != nil {
		return nil, err
	}

	account, err := e.deps.Store.GetAccount(ctx, p.AccountID)
	if err != nil {
		return nil, err
	}
	if account.UserID != job.UserID {
		return nil, appErrors.NewNotFoundError("linked account", idString(p.AccountID))
	}
	if account.Platform != p.Platform {
		return nil, appErrors.NewValidationError("platform", string(p.Platform),
			"account belongs to "+string(account.Platform))
	}

	now := time.Now()
	tier, err := activeTier(ctx, e.deps.Store, job.UserID, now)
	if err != nil {
		return nil, err
	}
	if err := e.deps.Limiter.Allow(job.UserID, tier, now); err != nil {
		return nil, err
	}

	msgID, err := e.deps.Dispatcher.Send(ctx, account.ID, p.ChannelID, p.Message)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"success":                true,
		"platform":               string(p.Platform),
		"destination_message_id": msgID,
	}, nil
}

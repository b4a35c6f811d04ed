package tasks

import (
	"context"
	"time"

	appErrors "telxfwd/internal/errors"
	"telxfwd/internal/models"
	"telxfwd/internal/plan"
	"telxfwd/internal/queue"
	"telxfwd/internal/validation"

	"github.com/sirupsen/logrus"
)

// ForwardPayload is the payload of a forward_message job.
type ForwardPayload struct {
	PairID  int64       `json:"pair_id"`
	Message MessageData `json:"message"`
}

type forwarder struct {
	deps Deps
	now  func() time.Time
}

func newForwarder(deps Deps) *forwarder {
	return &forwarder{deps: deps, now: time.Now}
}

func (f *forwarder) Execute(ctx context.Context, job *models.Job) (map[string]interface{}, error) {
	var p ForwardPayload
	if err := decodePayload(job, &p); err != nil {
		return nil, err
	}
	if p.PairID <= 0 {
		return nil, appErrors.NewValidationError("pair_id", "", "is required")
	}
	return f.forward(ctx, job.UserID, p.PairID, p.Message, job.CreatedAt)
}

// forward mirrors one message through a pair. Filtered messages are logged
// as skipped and succeed; dispatch failures are logged and returned. A pair
// delay that has not elapsed since queuedAt defers the job through the queue.
func (f *forwarder) forward(ctx context.Context, userID, pairID int64, msg MessageData, queuedAt time.Time) (map[string]interface{}, error) {
	started := f.now()

	pair, tier, err := f.loadPair(ctx, userID, pairID)
	if err != nil {
		return nil, err
	}

	if pair.DelaySeconds > 0 {
		if plan.FeatureAllowed(tier, plan.FeatureCustomDelays) {
			due := queuedAt.Add(time.Duration(pair.DelaySeconds) * time.Second)
			if started.Before(due) {
				return nil, queue.Defer(due, "pair delay")
			}
		} else {
			f.deps.Logger.WithFields(logrus.Fields{
				"pair_id": pair.ID,
				"tier":    tier,
			}).Warn("Custom delay not in plan, forwarding immediately")
		}
	}

	entry := &models.MessageLog{
		PairID:          pair.ID,
		UserID:          userID,
		SourceMessageID: string(msg.MessageID),
		MessageType:     msg.messageType(),
		MessageSize:     len(msg.Text),
		HasMedia:        msg.HasMedia,
		MediaType:       msg.MediaType,
	}

	if reason := FilterMessage(pair, msg.Text); reason != "" {
		entry.Status = models.MessageLogSkipped
		entry.SkipReason = reason
		f.record(ctx, entry, started)
		f.deps.Metrics.MessageForwarded(string(models.MessageLogSkipped))
		return map[string]interface{}{
			"skipped": true,
			"reason":  reason,
			"pair_id": pair.ID,
		}, nil
	}

	if err := f.deps.Limiter.Allow(userID, tier, f.now()); err != nil {
		return nil, err
	}

	destID, platform, err := f.dispatch(ctx, pair, msg)
	if err != nil {
		entry.Status = models.MessageLogFailed
		entry.ErrorMessage = err.Error()
		f.record(ctx, entry, started)
		f.deps.Metrics.MessageForwarded(string(models.MessageLogFailed))
		return nil, err
	}

	entry.Status = models.MessageLogSuccess
	entry.DestinationMessageID = destID
	f.record(ctx, entry, started)
	f.deps.Metrics.MessageForwarded(string(models.MessageLogSuccess))

	return map[string]interface{}{
		"success":                true,
		"pair_id":                pair.ID,
		"platform":               string(platform),
		"destination_message_id": destID,
		"processing_ms":          entry.ProcessingMs,
	}, nil
}

// loadPair re-validates the pair and its owner's plan at execution time.
func (f *forwarder) loadPair(ctx context.Context, userID, pairID int64) (*models.ForwardingPair, string, error) {
	pair, err := f.deps.Store.GetPair(ctx, pairID)
	if err != nil {
		return nil, "", err
	}
	if pair.UserID != userID {
		return nil, "", appErrors.NewNotFoundError("forwarding pair", idString(pairID))
	}
	if pair.Status != models.PairStatusActive {
		return nil, "", appErrors.NewValidationError("pair_id", idString(pairID), "forwarding pair is not active")
	}

	tier, err := activeTier(ctx, f.deps.Store, userID, f.now())
	if err != nil {
		return nil, "", err
	}
	if pair.CopyMode && !plan.FeatureAllowed(tier, plan.FeatureCopyMode) {
		return nil, "", appErrors.NewFeatureError(tier, string(plan.FeatureCopyMode))
	}
	if !plan.PairTypeAllowed(tier, pair.PairType) {
		return nil, "", appErrors.NewPlatformPairError(tier, string(pair.PairType))
	}
	return pair, tier, nil
}

// dispatch forwards natively when source and destination share a platform
// and copy mode is off; otherwise it sends the decorated text as a new message.
func (f *forwarder) dispatch(ctx context.Context, pair *models.ForwardingPair, msg MessageData) (string, models.Platform, error) {
	src, dst, err := pair.PairType.Platforms()
	if err != nil {
		return "", "", appErrors.NewValidationError("pair_type", string(pair.PairType), "unknown pair type")
	}

	if src == dst && !pair.CopyMode {
		if pair.SourceAccountID == nil {
			return "", dst, appErrors.NewValidationError("source_account_id", "", "pair has no source account")
		}
		if err := validation.ValidateMessageID(string(msg.MessageID)); err != nil {
			return "", dst, err
		}
		id, err := f.deps.Dispatcher.Forward(ctx, *pair.SourceAccountID,
			pair.SourceChannel, pair.DestinationChannel, string(msg.MessageID))
		return id, dst, err
	}

	accountID := pair.DestinationAccountID
	if accountID == nil && src == dst {
		accountID = pair.SourceAccountID
	}
	if accountID == nil {
		return "", dst, appErrors.NewValidationError("destination_account_id", "", "pair has no destination account")
	}

	content := FormatMessage(pair, msg.Text)
	if err := validation.ValidateMessageText(dst, content); err != nil {
		return "", dst, err
	}
	id, err := f.deps.Dispatcher.Send(ctx, *accountID, pair.DestinationChannel, content)
	return id, dst, err
}

func (f *forwarder) record(ctx context.Context, entry *models.MessageLog, started time.Time) {
	entry.ProcessingMs = f.now().Sub(started).Milliseconds()
	if err := f.deps.Store.InsertMessageLog(ctx, entry); err != nil {
		f.deps.Logger.WithError(err).WithField("pair_id", entry.PairID).Warn("Failed to write message log")
	}
}

package tasks

import (
	"context"
	"fmt"
	"time"

	"telxfwd/internal/constants"
	appErrors "telxfwd/internal/errors"
	"telxfwd/internal/models"
	"telxfwd/internal/plan"
	"telxfwd/internal/queue"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// BulkPayload is the payload of a bulk_forward job.
type BulkPayload struct {
	PairID   int64         `json:"pair_id"`
	Messages []MessageData `json:"messages"`
}

// BulkItem is the outcome of one message in a bulk job.
type BulkItem struct {
	Index   int                    `json:"index"`
	Success bool                   `json:"success"`
	Result  map[string]interface{} `json:"result,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// bulkExecutor forwards a batch sequentially, paced so external rate limits
// are not tripped. Item failures are reported, not raised.
type bulkExecutor struct {
	deps    Deps
	forward *forwarder
	pacing  time.Duration
}

func newBulkExecutor(deps Deps, forward *forwarder, pacing time.Duration) *bulkExecutor {
	return &bulkExecutor{deps: deps, forward: forward, pacing: pacing}
}

func (e *bulkExecutor) Execute(ctx context.Context, job *models.Job) (map[string]interface{}, error) {
	var p BulkPayload
	if err := decodePayload(job, &p); err != nil {
		return nil, err
	}
	if p.PairID <= 0 {
		return nil, appErrors.NewValidationError("pair_id", "", "is required")
	}
	if len(p.Messages) == 0 {
		return nil, appErrors.NewValidationError("messages", "", "cannot be empty")
	}
	if len(p.Messages) > constants.MaxBulkMessages {
		return nil, appErrors.NewValidationError("messages", fmt.Sprint(len(p.Messages)),
			fmt.Sprintf("at most %d messages per bulk job", constants.MaxBulkMessages))
	}

	tier, err := activeTier(ctx, e.deps.Store, job.UserID, time.Now())
	if err != nil {
		return nil, err
	}
	if !plan.FeatureAllowed(tier, plan.FeatureBulkOperations) {
		return nil, appErrors.NewFeatureError(tier, string(plan.FeatureBulkOperations))
	}

	pacer := rate.NewLimiter(rate.Every(e.pacing), 1)
	items := make([]BulkItem, 0, len(p.Messages))
	var succeeded, failed, skipped int

	for i, msg := range p.Messages {
		if err := pacer.Wait(ctx); err != nil {
			return nil, err
		}

		result, err := e.forward.forward(ctx, job.UserID, p.PairID, msg, job.CreatedAt)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// the delay check precedes every item's filters, so only the
			// first item can defer and nothing has been sent yet
			if _, ok := queue.AsDeferral(err); ok {
				return nil, err
			}
			failed++
			items = append(items, BulkItem{Index: i, Error: errorMessage(err)})
			e.deps.Logger.WithFields(logrus.Fields{
				"job_id": job.ID,
				"index":  i,
				"error":  err.Error(),
			}).Warn("Bulk item failed")
			continue
		}

		if result["skipped"] == true {
			skipped++
		} else {
			succeeded++
		}
		items = append(items, BulkItem{Index: i, Success: true, Result: result})
	}

	return map[string]interface{}{
		"total":     len(p.Messages),
		"succeeded": succeeded,
		"failed":    failed,
		"skipped":   skipped,
		"results":   items,
	}, nil
}

func errorMessage(err error) string {
	if appErr, ok := appErrors.As(err); ok {
		return appErr.Message
	}
	return err.Error()
}

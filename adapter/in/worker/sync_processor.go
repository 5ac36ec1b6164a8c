package worker

import (
	"context"
	"errors"
	"time"

	"sync_server/core/service/dispatch"
	"sync_server/core/service/queue"
	"sync_server/pkg/apperr"
	"sync_server/pkg/logger"
)

// SyncProcessor runs sync cycle jobs pulled off the trigger stream.
type SyncProcessor struct {
	dispatchSvc *dispatch.Service
	queueSvc    *queue.Service
}

func NewSyncProcessor(dispatchSvc *dispatch.Service, queueSvc *queue.Service) *SyncProcessor {
	return &SyncProcessor{
		dispatchSvc: dispatchSvc,
		queueSvc:    queueSvc,
	}
}

// ProcessSyncUser runs one sync cycle for the user named in the payload.
// An offline user is not an error; the cycle is simply deferred until the
// user comes back online.
func (p *SyncProcessor) ProcessSyncUser(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[SyncUserPayload](msg)
	if err != nil {
		return err
	}
	if payload.UserID == "" {
		logger.Warn("[SyncProcessor] sync.user job without user_id, dropping")
		return nil
	}

	result, err := p.dispatchSvc.SyncUser(ctx, payload.UserID)
	if err != nil {
		var appErr *apperr.AppError
		if errors.As(err, &appErr) && appErr.Code == apperr.CodeBadRequest {
			logger.Debug("[SyncProcessor] sync deferred for user %s: %s", payload.UserID, appErr.Message)
			return nil
		}
		return err
	}

	logger.Info("[SyncProcessor] cycle %s for user %s: %d items, %d completed, %d failed, %d conflicts",
		result.CycleID, payload.UserID, result.TotalItems, result.Completed, result.Failed, result.Conflicts)
	return nil
}

// ProcessRetrySweep resurrects FAILED items still under the retry ceiling.
func (p *SyncProcessor) ProcessRetrySweep(ctx context.Context, msg *Message) error {
	requeued, err := p.dispatchSvc.RetryFailedItems(ctx)
	if err != nil {
		return err
	}
	if requeued > 0 {
		logger.Info("[SyncProcessor] retry sweep requeued %d items", requeued)
	}
	return nil
}

// ProcessQueuePurge drops COMPLETED items older than the retention window.
func (p *SyncProcessor) ProcessQueuePurge(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[QueuePurgePayload](msg)
	if err != nil {
		return err
	}

	hours := payload.OlderThanHours
	if hours <= 0 {
		hours = 72
	}

	purged, err := p.queueSvc.PurgeCompleted(ctx, time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		return err
	}
	if purged > 0 {
		logger.Info("[SyncProcessor] purged %d completed queue items", purged)
	}
	return nil
}

// Package dispatch runs sync cycles: it drains a user's queue, applies each
// mutation against server state under the retry policy, and routes diverged
// items into conflict detection.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sync_server/core/domain"
	"sync_server/core/port/out"
	"sync_server/core/service/conflict"
	"sync_server/core/service/queue"
	"sync_server/core/service/status"
	"sync_server/pkg/apperr"
	"sync_server/pkg/logger"
	"sync_server/pkg/retry"

	"github.com/google/uuid"
)

const defaultMaxRetries = 3

// CycleResult summarizes one completed dispatch cycle.
type CycleResult struct {
	CycleID    string `json:"cycle_id"`
	TotalItems int    `json:"total_items"`
	Completed  int    `json:"completed"`
	Retried    int    `json:"retried"`
	Failed     int    `json:"failed"`
	Conflicts  int    `json:"conflicts"`
}

// Service orchestrates dispatch cycles over the queue, status tracker and
// conflict resolver.
type Service struct {
	queueSvc    *queue.Service
	statusSvc   *status.Service
	conflictSvc *conflict.Service

	apply    out.ApplyPort
	notifier out.DeviceNotifierPort
	reports  out.ReportRepository

	policy     *retry.Policy
	maxRetries int
}

func NewService(
	queueSvc *queue.Service,
	statusSvc *status.Service,
	conflictSvc *conflict.Service,
	apply out.ApplyPort,
	notifier out.DeviceNotifierPort,
	reports out.ReportRepository,
	policy *retry.Policy,
	maxRetries int,
) *Service {
	if policy == nil {
		policy = retry.NewPolicy()
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Service{
		queueSvc:    queueSvc,
		statusSvc:   statusSvc,
		conflictSvc: conflictSvc,
		apply:       apply,
		notifier:    notifier,
		reports:     reports,
		policy:      policy,
		maxRetries:  maxRetries,
	}
}

// SyncUser runs one full dispatch cycle for the user: claim batches until the
// queue is drained, apply every item, and record the outcome on the status
// tracker. A failing item never aborts the cycle; the failure is recorded on
// that item and the cycle moves on.
func (s *Service) SyncUser(ctx context.Context, userID string) (*CycleResult, error) {
	st, err := s.statusSvc.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if st.IsOffline {
		return nil, apperr.BadRequest("user is offline, sync deferred")
	}

	if err := s.statusSvc.SetSyncing(ctx, userID); err != nil {
		return nil, err
	}

	result := &CycleResult{CycleID: uuid.NewString()}
	startedAt := time.Now()
	log := logger.WithFields(map[string]any{"cycle_id": result.CycleID, "user_id": userID})
	log.Info("Dispatch cycle started")

	for {
		if err := ctx.Err(); err != nil {
			s.finishCycle(ctx, userID, startedAt, result, err)
			return result, err
		}

		batch, err := s.queueSvc.GetNextBatch(ctx, userID)
		if err != nil {
			s.finishCycle(ctx, userID, startedAt, result, err)
			return result, err
		}
		if len(batch) == 0 {
			break
		}

		for _, item := range batch {
			result.TotalItems++
			s.processItem(ctx, item, result)
		}
	}

	s.finishCycle(ctx, userID, startedAt, result, nil)
	log.WithFields(map[string]any{
		"total":     result.TotalItems,
		"completed": result.Completed,
		"retried":   result.Retried,
		"failed":    result.Failed,
		"conflicts": result.Conflicts,
	}).Info("Dispatch cycle finished")

	return result, nil
}

// SyncAllUsers runs one cycle per user with pending work. Offline users are
// skipped; an erroring user does not stop the sweep.
func (s *Service) SyncAllUsers(ctx context.Context) (int, error) {
	users, err := s.queueSvc.UsersWithPending(ctx)
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		if _, err := s.SyncUser(ctx, userID); err != nil {
			logger.WithError(err).WithField("user_id", userID).Warn("User sync cycle failed")
			continue
		}
		synced++
	}
	return synced, nil
}

// RetryFailedItems resurrects FAILED items still under the retry ceiling back
// to PENDING. This sweep is the only path a FAILED item has back into
// dispatch.
func (s *Service) RetryFailedItems(ctx context.Context) (int, error) {
	items, err := s.queueSvc.GetFailedForRetry(ctx, s.maxRetries)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, item := range items {
		if err := s.queueSvc.RequeueFailed(ctx, item.ID); err != nil {
			logger.WithError(err).WithField("queue_id", item.ID).Warn("Failed to requeue item")
			continue
		}
		requeued++
	}
	if requeued > 0 {
		logger.Info("Requeued %d failed sync items", requeued)
	}
	return requeued, nil
}

// RecentReports returns the newest cycle reports for a user.
func (s *Service) RecentReports(ctx context.Context, userID string, limit int) ([]*out.SyncCycleReport, error) {
	if s.reports == nil {
		return []*out.SyncCycleReport{}, nil
	}
	reports, err := s.reports.GetRecentByUser(ctx, userID, limit)
	if err != nil {
		return nil, apperr.Storage(err, "failed to load sync reports")
	}
	return reports, nil
}

// processItem applies one claimed item. Outcomes:
//   - success: COMPLETED, other devices notified
//   - diverged: conflict recorded, item COMPLETED (the conflict record owns it now)
//   - exhausted: retryCount bumped; PENDING under the ceiling, FAILED at it
func (s *Service) processItem(ctx context.Context, item *domain.QueueItem, result *CycleResult) {
	conflictErr, err := retry.Execute(ctx, s.policy, "apply "+item.EntityType,
		func() (*out.ConflictError, error) {
			applyErr := s.apply.Apply(ctx, item)
			var ce *out.ConflictError
			if errors.As(applyErr, &ce) {
				// Divergence is deterministic; retrying would report it again.
				return ce, nil
			}
			return nil, applyErr
		})
	if err != nil {
		s.recordFailure(ctx, item, result, err)
		return
	}

	if conflictErr != nil {
		s.recordConflict(ctx, item, conflictErr, result)
		return
	}

	if err := s.queueSvc.MarkCompleted(ctx, item.ID); err != nil {
		logger.WithError(err).WithField("queue_id", item.ID).Error("Failed to mark item completed")
		result.Failed++
		return
	}
	result.Completed++
	s.notifyDevices(ctx, item)
}

func (s *Service) recordFailure(ctx context.Context, item *domain.QueueItem, result *CycleResult, cause error) {
	newCount := item.RetryCount + 1
	target := domain.QueueStatusPending
	if newCount >= s.maxRetries {
		target = domain.QueueStatusFailed
		if retry.IsExhausted(cause) {
			// The stored last_error carries the RETRY_EXHAUSTED code so
			// clients can tell a dead item from a transient failure.
			cause = apperr.RetryExhausted(cause, newCount)
		}
	}

	if err := s.queueSvc.UpdateStatusWithRetry(ctx, item.ID, target, newCount, cause.Error()); err != nil {
		logger.WithError(err).WithField("queue_id", item.ID).Error("Failed to record item failure")
	}

	if target == domain.QueueStatusFailed {
		result.Failed++
	} else {
		result.Retried++
	}
}

func (s *Service) recordConflict(ctx context.Context, item *domain.QueueItem, ce *out.ConflictError, result *CycleResult) {
	_, err := s.conflictSvc.DetectConflict(ctx, &conflict.DetectInput{
		UserID:          item.UserID,
		EntityType:      item.EntityType,
		EntityID:        item.EntityID,
		LocalData:       item.Payload,
		LocalTimestamp:  item.ClientTimestamp,
		RemoteData:      ce.RemoteData,
		RemoteTimestamp: ce.RemoteTimestamp,
		RemoteDeviceID:  ce.RemoteDeviceID,
	})
	if err != nil {
		s.recordFailure(ctx, item, result, fmt.Errorf("record conflict: %w", err))
		return
	}

	// The queue item's job is done; the conflict record carries the
	// divergence forward.
	if err := s.queueSvc.MarkCompleted(ctx, item.ID); err != nil {
		logger.WithError(err).WithField("queue_id", item.ID).Error("Failed to close conflicted item")
	}
	result.Conflicts++
}

func (s *Service) notifyDevices(ctx context.Context, item *domain.QueueItem) {
	event := &out.DataChangedEvent{
		EventID:    uuid.NewString(),
		UserID:     item.UserID,
		EntityType: item.EntityType,
		EntityID:   item.EntityID,
		Operation:  string(item.OperationType),
	}
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyDataChanged(ctx, event); err != nil {
		logger.WithError(err).WithField("queue_id", item.ID).Warn("Device notification failed")
	}
}

func (s *Service) finishCycle(ctx context.Context, userID string, startedAt time.Time, result *CycleResult, cycleErr error) {
	if cycleErr != nil {
		if err := s.statusSvc.SetSyncError(ctx, userID, cycleErr.Error()); err != nil {
			logger.WithError(err).WithField("user_id", userID).Error("Failed to record sync error")
		}
	} else if result.Failed > 0 {
		msg := fmt.Sprintf("%d items failed to sync", result.Failed)
		if err := s.statusSvc.SetSyncError(ctx, userID, msg); err != nil {
			logger.WithError(err).WithField("user_id", userID).Error("Failed to record sync error")
		}
	} else {
		if err := s.statusSvc.SetIdle(ctx, userID); err != nil {
			logger.WithError(err).WithField("user_id", userID).Error("Failed to mark sync idle")
		}
	}

	report := &out.SyncCycleReport{
		CycleID:    result.CycleID,
		UserID:     userID,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
		TotalItems: result.TotalItems,
		Completed:  result.Completed,
		Retried:    result.Retried,
		Failed:     result.Failed,
		Conflicts:  result.Conflicts,
	}
	if s.reports != nil {
		if err := s.reports.Save(ctx, report); err != nil {
			logger.WithError(err).WithField("cycle_id", result.CycleID).Warn("Failed to archive cycle report")
		}
	}
}

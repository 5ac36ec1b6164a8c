// Package queue implements the durable per-user sync queue.
package queue

import (
	"context"
	"errors"
	"time"

	"sync_server/core/domain"
	"sync_server/core/port/out"
	"sync_server/pkg/apperr"
	"sync_server/pkg/logger"

	"github.com/goccy/go-json"
)

const defaultBatchSize = 100

// Request carries one client mutation to be queued.
type Request struct {
	EntityType      string               `json:"entity_type"`
	OperationType   domain.OperationType `json:"operation_type"`
	EntityID        string               `json:"entity_id,omitempty"`
	Payload         json.RawMessage      `json:"payload,omitempty"`
	ClientTimestamp time.Time            `json:"client_timestamp"`
	Priority        int                  `json:"priority,omitempty"`
}

// Service manages the sync queue. The queue itself never enforces the retry
// ceiling; callers decide whether a failed item goes back to PENDING or to
// FAILED.
type Service struct {
	queueRepo  out.QueueRepository
	statusRepo out.StatusRepository
	batchSize  int
}

// NewService creates a queue service.
func NewService(queueRepo out.QueueRepository, statusRepo out.StatusRepository, batchSize int) *Service {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Service{
		queueRepo:  queueRepo,
		statusRepo: statusRepo,
		batchSize:  batchSize,
	}
}

// QueueRequest persists a PENDING queue item for the user and refreshes the
// user's pending-changes mirror.
func (s *Service) QueueRequest(ctx context.Context, userID string, req *Request) (*domain.QueueItem, error) {
	if req.EntityType == "" {
		return nil, apperr.MissingField("entity_type")
	}
	if !req.OperationType.IsValid() {
		return nil, apperr.BadRequest("operation_type must be CREATE, UPDATE or DELETE")
	}

	clientTS := req.ClientTimestamp
	if clientTS.IsZero() {
		clientTS = time.Now()
	}

	item := &domain.QueueItem{
		UserID:          userID,
		EntityType:      req.EntityType,
		EntityID:        req.EntityID,
		OperationType:   req.OperationType,
		Payload:         req.Payload,
		ClientTimestamp: clientTS,
		Status:          domain.QueueStatusPending,
		Priority:        req.Priority,
		CreatedAt:       time.Now(),
	}

	if err := s.queueRepo.Create(ctx, item); err != nil {
		return nil, apperr.Storage(err, "failed to queue sync request")
	}

	s.refreshPendingCount(ctx, userID)

	logger.WithFields(map[string]any{
		"user_id":     userID,
		"queue_id":    item.ID,
		"entity_type": item.EntityType,
		"operation":   string(item.OperationType),
	}).Info("Queued sync request")

	return item, nil
}

// GetPendingItems returns the user's PENDING items in strict FIFO order
// (createdAt ascending, priority ignored). Inspection only, never dispatch.
func (s *Service) GetPendingItems(ctx context.Context, userID string) ([]*domain.QueueItem, error) {
	items, err := s.queueRepo.GetPendingByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Storage(err, "")
	}
	return items, nil
}

// GetNextBatch claims the next batch for dispatch: priority descending,
// createdAt ascending within a band, atomically flipped to IN_PROGRESS.
// This is the only priority-aware read path.
func (s *Service) GetNextBatch(ctx context.Context, userID string) ([]*domain.QueueItem, error) {
	items, err := s.queueRepo.ClaimNextBatch(ctx, userID, s.batchSize)
	if err != nil {
		return nil, apperr.Storage(err, "")
	}
	return items, nil
}

// MarkCompleted transitions an IN_PROGRESS item to COMPLETED.
func (s *Service) MarkCompleted(ctx context.Context, queueItemID int64) error {
	item, err := s.getItem(ctx, queueItemID)
	if err != nil {
		return err
	}
	if !item.Status.CanTransition(domain.QueueStatusCompleted) {
		return apperr.BadRequest("queue item is not in progress").WithDetail("status", string(item.Status))
	}

	if err := s.queueRepo.UpdateStatus(ctx, queueItemID, domain.QueueStatusCompleted, time.Now()); err != nil {
		return s.mapRepoError(err, queueItemID)
	}
	return nil
}

// UpdateStatusWithRetry records one failed application attempt. The caller
// supplies the target status (PENDING to retry later, FAILED when its ceiling
// is exhausted); the queue trusts it.
func (s *Service) UpdateStatusWithRetry(ctx context.Context, queueItemID int64, status domain.QueueItemStatus, retryCount int, lastError string) error {
	if status != domain.QueueStatusPending && status != domain.QueueStatusFailed {
		return apperr.BadRequest("retry status must be PENDING or FAILED")
	}

	item, err := s.getItem(ctx, queueItemID)
	if err != nil {
		return err
	}
	if !item.Status.CanTransition(status) {
		return apperr.BadRequest("invalid queue item transition").
			WithDetail("from", string(item.Status)).
			WithDetail("to", string(status))
	}

	if err := s.queueRepo.UpdateStatusWithRetry(ctx, queueItemID, status, retryCount, lastError, time.Now()); err != nil {
		return s.mapRepoError(err, queueItemID)
	}

	if status == domain.QueueStatusPending {
		s.refreshPendingCount(ctx, item.UserID)
	}

	logger.WithFields(map[string]any{
		"queue_id": queueItemID,
		"status":   string(status),
		"attempt":  retryCount,
	}).Warn("Queue item failed: %s", lastError)

	return nil
}

// ClearCompletedItems deletes the user's COMPLETED items and returns how many
// were removed. PENDING, IN_PROGRESS and FAILED items are never touched.
func (s *Service) ClearCompletedItems(ctx context.Context, userID string) (int, error) {
	count, err := s.queueRepo.DeleteCompletedByUser(ctx, userID)
	if err != nil {
		return 0, apperr.Storage(err, "")
	}
	logger.WithField("user_id", userID).Info("Cleared %d completed sync items", count)
	return count, nil
}

// GetPendingCount derives the pending count from the queue itself.
func (s *Service) GetPendingCount(ctx context.Context, userID string) (int, error) {
	count, err := s.queueRepo.CountByUserAndStatus(ctx, userID, domain.QueueStatusPending)
	if err != nil {
		return 0, apperr.Storage(err, "")
	}
	return count, nil
}

// DeleteItem removes one of the user's queue items regardless of status.
// Another user's item is reported as not found, never deleted.
func (s *Service) DeleteItem(ctx context.Context, userID string, queueItemID int64) error {
	item, err := s.getItem(ctx, queueItemID)
	if err != nil {
		return err
	}
	if item.UserID != userID {
		return apperr.NotFound("queue item", queueItemID)
	}

	if err := s.queueRepo.Delete(ctx, queueItemID); err != nil {
		return s.mapRepoError(err, queueItemID)
	}
	if item.Status == domain.QueueStatusPending {
		s.refreshPendingCount(ctx, userID)
	}
	return nil
}

// CancelPending deletes all of the user's PENDING items and zeroes the
// pending mirror. Explicit user action, not part of any dispatch path.
func (s *Service) CancelPending(ctx context.Context, userID string) (int, error) {
	count, err := s.queueRepo.DeletePendingByUser(ctx, userID)
	if err != nil {
		return 0, apperr.Storage(err, "")
	}
	s.refreshPendingCount(ctx, userID)
	logger.WithField("user_id", userID).Info("Cancelled %d pending sync items", count)
	return count, nil
}

// UsersWithPending lists the users that currently have PENDING items.
func (s *Service) UsersWithPending(ctx context.Context) ([]string, error) {
	users, err := s.queueRepo.GetUsersWithPending(ctx)
	if err != nil {
		return nil, apperr.Storage(err, "")
	}
	return users, nil
}

// GetFailedForRetry lists FAILED items still under the given ceiling. Used by
// the explicit retry sweep only.
func (s *Service) GetFailedForRetry(ctx context.Context, maxRetries int) ([]*domain.QueueItem, error) {
	items, err := s.queueRepo.GetFailedUnderCeiling(ctx, maxRetries)
	if err != nil {
		return nil, apperr.Storage(err, "")
	}
	return items, nil
}

// RequeueFailed resurrects one FAILED item to PENDING. Resurrection is always
// an explicit operation, never an implicit side effect of a failure.
func (s *Service) RequeueFailed(ctx context.Context, queueItemID int64) error {
	item, err := s.getItem(ctx, queueItemID)
	if err != nil {
		return err
	}
	if item.Status != domain.QueueStatusFailed {
		return apperr.BadRequest("only FAILED items can be requeued").WithDetail("status", string(item.Status))
	}

	if err := s.queueRepo.ResetToPending(ctx, queueItemID); err != nil {
		return s.mapRepoError(err, queueItemID)
	}
	s.refreshPendingCount(ctx, item.UserID)
	return nil
}

// PurgeCompleted deletes COMPLETED items older than the given cutoff, across
// all users. Periodic cleanup.
func (s *Service) PurgeCompleted(ctx context.Context, before time.Time) (int, error) {
	count, err := s.queueRepo.DeleteCompletedBefore(ctx, before)
	if err != nil {
		return 0, apperr.Storage(err, "")
	}
	return count, nil
}

func (s *Service) getItem(ctx context.Context, id int64) (*domain.QueueItem, error) {
	item, err := s.queueRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Storage(err, "")
	}
	if item == nil {
		return nil, apperr.NotFound("queue item", id)
	}
	return item, nil
}

func (s *Service) mapRepoError(err error, id int64) error {
	if errors.Is(err, domain.ErrNotFound) {
		return apperr.NotFound("queue item", id)
	}
	return apperr.Storage(err, "")
}

// refreshPendingCount re-derives the user's pending count from the queue and
// pushes it into the status mirror. The queue is the source of truth; a failed
// mirror refresh is logged and the next mutation repairs it.
func (s *Service) refreshPendingCount(ctx context.Context, userID string) {
	count, err := s.queueRepo.CountByUserAndStatus(ctx, userID, domain.QueueStatusPending)
	if err != nil {
		logger.WithError(err).WithField("user_id", userID).Warn("Failed to derive pending count")
		return
	}
	if err := s.statusRepo.UpdatePendingChanges(ctx, userID, count); err != nil {
		logger.WithError(err).WithField("user_id", userID).Warn("Failed to refresh pending count mirror")
	}
}

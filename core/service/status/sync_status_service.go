// Package status manages the per-user sync status record.
package status

import (
	"context"
	"errors"
	"time"

	"sync_server/core/domain"
	"sync_server/core/port/out"
	"sync_server/pkg/apperr"
	"sync_server/pkg/logger"
)

// Service owns the lazily-created per-user status row. Every read and write
// goes through GetOrCreate so a user who has never synced still gets a
// well-formed IDLE status.
type Service struct {
	statusRepo out.StatusRepository
	queueRepo  out.QueueRepository
}

func NewService(statusRepo out.StatusRepository, queueRepo out.QueueRepository) *Service {
	return &Service{statusRepo: statusRepo, queueRepo: queueRepo}
}

// GetOrCreate returns the user's status, creating the initial IDLE record on
// first contact. The pending count is always re-derived from the queue.
func (s *Service) GetOrCreate(ctx context.Context, userID string) (*domain.SyncStatus, error) {
	status, err := s.statusRepo.GetByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Storage(err, "")
	}
	if status == nil {
		status = &domain.SyncStatus{
			UserID:    userID,
			SyncState: domain.SyncStateIdle,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		if err := s.statusRepo.Create(ctx, status); err != nil {
			// Concurrent first contact may have created the row already.
			existing, getErr := s.statusRepo.GetByUser(ctx, userID)
			if getErr != nil || existing == nil {
				return nil, apperr.Storage(err, "failed to initialize sync status")
			}
			status = existing
		}
		logger.WithField("user_id", userID).Debug("Initialized sync status")
	}

	pending, err := s.queueRepo.CountByUserAndStatus(ctx, userID, domain.QueueStatusPending)
	if err != nil {
		return nil, apperr.Storage(err, "")
	}
	status.PendingChanges = pending
	return status, nil
}

// EnterOfflineMode marks the user offline. Offline and syncing are mutually
// exclusive; the store forces the state out of SYNCING.
func (s *Service) EnterOfflineMode(ctx context.Context, userID string) (*domain.SyncStatus, error) {
	if _, err := s.GetOrCreate(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.statusRepo.EnterOffline(ctx, userID, time.Now()); err != nil {
		return nil, s.mapRepoError(err, userID)
	}
	logger.WithField("user_id", userID).Info("User entered offline mode")
	return s.GetOrCreate(ctx, userID)
}

// ExitOfflineMode clears the offline flag and moves the user to SYNCING so
// queued changes are picked up on the next dispatch cycle.
func (s *Service) ExitOfflineMode(ctx context.Context, userID string) (*domain.SyncStatus, error) {
	if _, err := s.GetOrCreate(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.statusRepo.ExitOffline(ctx, userID); err != nil {
		return nil, s.mapRepoError(err, userID)
	}
	logger.WithField("user_id", userID).Info("User back online, sync scheduled")
	return s.GetOrCreate(ctx, userID)
}

// SetSyncing flips the state to SYNCING at the start of a dispatch cycle.
func (s *Service) SetSyncing(ctx context.Context, userID string) error {
	if _, err := s.GetOrCreate(ctx, userID); err != nil {
		return err
	}
	if err := s.statusRepo.SetState(ctx, userID, domain.SyncStateSyncing, ""); err != nil {
		return s.mapRepoError(err, userID)
	}
	return nil
}

// SetIdle records a successful cycle end: state IDLE, cleared error, fresh
// lastSyncAt.
func (s *Service) SetIdle(ctx context.Context, userID string) error {
	if _, err := s.GetOrCreate(ctx, userID); err != nil {
		return err
	}
	if err := s.statusRepo.SetState(ctx, userID, domain.SyncStateIdle, ""); err != nil {
		return s.mapRepoError(err, userID)
	}
	if err := s.statusRepo.UpdateLastSyncAt(ctx, userID, time.Now()); err != nil {
		return s.mapRepoError(err, userID)
	}
	return nil
}

// SetSyncError records a failed cycle.
func (s *Service) SetSyncError(ctx context.Context, userID, message string) error {
	if _, err := s.GetOrCreate(ctx, userID); err != nil {
		return err
	}
	if err := s.statusRepo.SetState(ctx, userID, domain.SyncStateError, message); err != nil {
		return s.mapRepoError(err, userID)
	}
	return nil
}

// UpdateDeviceInfo records the reporting device and app version.
func (s *Service) UpdateDeviceInfo(ctx context.Context, userID, deviceID, appVersion string) (*domain.SyncStatus, error) {
	if deviceID == "" {
		return nil, apperr.MissingField("device_id")
	}
	if _, err := s.GetOrCreate(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.statusRepo.UpdateDeviceInfo(ctx, userID, deviceID, appVersion); err != nil {
		return nil, s.mapRepoError(err, userID)
	}
	return s.GetOrCreate(ctx, userID)
}

func (s *Service) mapRepoError(err error, userID string) error {
	if errors.Is(err, domain.ErrNotFound) {
		return apperr.NotFound("sync status", userID)
	}
	return apperr.Storage(err, "")
}

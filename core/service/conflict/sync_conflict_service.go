// Package conflict implements conflict detection and resolution for the
// sync core.
package conflict

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

// DetectInput carries both versions of a diverged entity.
type DetectInput struct {
	UserID     string
	EntityType string
	EntityID   string

	LocalData      json.RawMessage
	LocalTimestamp time.Time

	RemoteData      json.RawMessage
	RemoteTimestamp time.Time
	RemoteDeviceID  string
}

// ManualResolution is a user-chosen outcome for a pending conflict.
type ManualResolution struct {
	ResolvedData json.RawMessage           `json:"resolved_data,omitempty"`
	Strategy     domain.ResolutionStrategy `json:"strategy"`
	ResolvedBy   string                    `json:"resolved_by"`
}

// Service detects conflicts and resolves them, automatically by
// last-write-wins or manually by user choice.
type Service struct {
	conflictRepo out.ConflictRepository
}

func NewService(conflictRepo out.ConflictRepository) *Service {
	return &Service{conflictRepo: conflictRepo}
}

// DetectConflict records a divergence. If a PENDING conflict already exists
// for the same (user, entityType, entityID) triple, the existing conflict is
// returned unchanged and no duplicate is created.
func (s *Service) DetectConflict(ctx context.Context, in *DetectInput) (*domain.SyncConflict, error) {
	if in.EntityType == "" || in.EntityID == "" {
		return nil, apperr.BadRequest("entity_type and entity_id are required")
	}

	existing, err := s.conflictRepo.GetPendingByTriple(ctx, in.UserID, in.EntityType, in.EntityID)
	if err != nil {
		return nil, apperr.Storage(err, "")
	}
	if existing != nil {
		logger.WithFields(map[string]any{
			"conflict_id": existing.ID,
			"entity_type": in.EntityType,
			"entity_id":   in.EntityID,
		}).Debug("Conflict already pending, skipping duplicate")
		return existing, nil
	}

	conflict := &domain.SyncConflict{
		UserID:          in.UserID,
		EntityType:      in.EntityType,
		EntityID:        in.EntityID,
		LocalData:       in.LocalData,
		LocalTimestamp:  in.LocalTimestamp,
		RemoteData:      in.RemoteData,
		RemoteTimestamp: in.RemoteTimestamp,
		RemoteDeviceID:  in.RemoteDeviceID,
		Status:          domain.ConflictStatusPending,
		DetectedAt:      time.Now(),
	}
	if err := s.conflictRepo.Create(ctx, conflict); err != nil {
		return nil, apperr.Storage(err, "failed to record sync conflict")
	}

	logger.WithFields(map[string]any{
		"conflict_id": conflict.ID,
		"user_id":     in.UserID,
		"entity_type": in.EntityType,
		"entity_id":   in.EntityID,
	}).Info("Sync conflict detected")

	return conflict, nil
}

// ResolveByTimestamp auto-resolves a pending conflict with last-write-wins.
// The strictly newer version's data becomes the resolved data; on a tie the
// remote version wins.
func (s *Service) ResolveByTimestamp(ctx context.Context, userID string, conflictID int64) (*domain.SyncConflict, error) {
	conflict, err := s.getPending(ctx, userID, conflictID)
	if err != nil {
		return nil, err
	}

	resolvedData := conflict.RemoteData
	if conflict.LocalIsNewer() {
		resolvedData = conflict.LocalData
	}

	resolution := &out.ConflictResolution{
		Status:       domain.ConflictStatusAutoResolved,
		Strategy:     domain.StrategyTimestamp,
		ResolvedData: resolvedData,
		ResolvedBy:   domain.ResolvedBySystem,
	}
	if err := s.conflictRepo.Resolve(ctx, conflictID, resolution); err != nil {
		return nil, s.mapRepoError(err, conflictID)
	}

	logger.WithFields(map[string]any{
		"conflict_id": conflictID,
		"winner":      conflict.NewerVersion(),
	}).Info("Conflict auto-resolved by timestamp")

	return s.reload(ctx, conflictID)
}

// ResolveManually stamps a user-chosen resolution onto a pending conflict.
func (s *Service) ResolveManually(ctx context.Context, userID string, conflictID int64, res *ManualResolution) (*domain.SyncConflict, error) {
	conflict, err := s.getPending(ctx, userID, conflictID)
	if err != nil {
		return nil, err
	}

	resolvedData := res.ResolvedData
	switch res.Strategy {
	case domain.StrategyLocalWins:
		resolvedData = conflict.LocalData
	case domain.StrategyRemoteWins:
		resolvedData = conflict.RemoteData
	case domain.StrategyManual:
		if len(resolvedData) == 0 {
			return nil, apperr.MissingField("resolved_data")
		}
	default:
		return nil, apperr.BadRequest("strategy must be MANUAL, LOCAL_WINS or REMOTE_WINS")
	}

	resolvedBy := res.ResolvedBy
	if resolvedBy == "" {
		resolvedBy = conflict.UserID
	}

	resolution := &out.ConflictResolution{
		Status:       domain.ConflictStatusManuallyResolved,
		Strategy:     res.Strategy,
		ResolvedData: resolvedData,
		ResolvedBy:   resolvedBy,
	}
	if err := s.conflictRepo.Resolve(ctx, conflictID, resolution); err != nil {
		return nil, s.mapRepoError(err, conflictID)
	}

	logger.WithFields(map[string]any{
		"conflict_id": conflictID,
		"strategy":    string(res.Strategy),
		"resolved_by": resolvedBy,
	}).Info("Conflict manually resolved")

	return s.reload(ctx, conflictID)
}

// AutoResolveAll runs timestamp resolution over every pending conflict of the
// user and returns how many were resolved. A failure on one conflict is
// logged and the sweep continues.
func (s *Service) AutoResolveAll(ctx context.Context, userID string) (int, error) {
	pending, err := s.conflictRepo.GetPendingByUser(ctx, userID)
	if err != nil {
		return 0, apperr.Storage(err, "")
	}

	resolved := 0
	for _, c := range pending {
		if _, err := s.ResolveByTimestamp(ctx, userID, c.ID); err != nil {
			logger.WithError(err).WithField("conflict_id", c.ID).Warn("Auto-resolve sweep skipped conflict")
			continue
		}
		resolved++
	}
	return resolved, nil
}

// GetPendingConflicts returns the user's unresolved conflicts, most recently
// detected first.
func (s *Service) GetPendingConflicts(ctx context.Context, userID string) ([]*domain.SyncConflict, error) {
	conflicts, err := s.conflictRepo.GetPendingByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Storage(err, "")
	}
	return conflicts, nil
}

// GetAllConflicts returns the user's full conflict history, resolved included.
func (s *Service) GetAllConflicts(ctx context.Context, userID string) ([]*domain.SyncConflict, error) {
	conflicts, err := s.conflictRepo.GetAllByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Storage(err, "")
	}
	return conflicts, nil
}

// GetConflict returns one conflict by id. A conflict belonging to another
// user is reported as not found, never leaked.
func (s *Service) GetConflict(ctx context.Context, userID string, conflictID int64) (*domain.SyncConflict, error) {
	conflict, err := s.conflictRepo.GetByID(ctx, conflictID)
	if err != nil {
		return nil, apperr.Storage(err, "")
	}
	if conflict == nil || conflict.UserID != userID {
		return nil, apperr.NotFound("conflict", conflictID)
	}
	return conflict, nil
}

// CountPending returns how many unresolved conflicts the user has.
func (s *Service) CountPending(ctx context.Context, userID string) (int, error) {
	count, err := s.conflictRepo.CountPendingByUser(ctx, userID)
	if err != nil {
		return 0, apperr.Storage(err, "")
	}
	return count, nil
}

func (s *Service) getPending(ctx context.Context, userID string, id int64) (*domain.SyncConflict, error) {
	conflict, err := s.GetConflict(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if conflict.Status.IsResolved() {
		return nil, apperr.ConflictResolved(id)
	}
	return conflict, nil
}

func (s *Service) reload(ctx context.Context, id int64) (*domain.SyncConflict, error) {
	conflict, err := s.conflictRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Storage(err, "")
	}
	if conflict == nil {
		return nil, apperr.NotFound("conflict", id)
	}
	return conflict, nil
}

func (s *Service) mapRepoError(err error, id int64) error {
	if errors.Is(err, domain.ErrNotFound) {
		return apperr.NotFound("conflict", id)
	}
	if errors.Is(err, domain.ErrConflictResolved) {
		return apperr.ConflictResolved(id)
	}
	return apperr.Storage(err, "")
}

package persistence

import (
	"context"
	"database/sql"
	"time"

	"sync_server/core/domain"
	"sync_server/core/port/out"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
)

// =============================================================================
// ConflictAdapter - sync conflict audit trail over PostgreSQL
// =============================================================================

// A partial unique index on (user_id, entity_type, entity_id) WHERE
// status = 'PENDING' backs the one-pending-conflict-per-triple rule; the
// adapter surfaces a racing duplicate insert as the surviving row.
type ConflictAdapter struct {
	db *sqlx.DB
}

func NewConflictAdapter(db *sqlx.DB) *ConflictAdapter {
	return &ConflictAdapter{db: db}
}

// =============================================================================
// Entity
// =============================================================================

type conflictEntity struct {
	ID         int64  `db:"id"`
	UserID     string `db:"user_id"`
	EntityType string `db:"entity_type"`
	EntityID   string `db:"entity_id"`

	LocalData      json.RawMessage `db:"local_data"`
	LocalTimestamp time.Time       `db:"local_timestamp"`

	RemoteData      json.RawMessage `db:"remote_data"`
	RemoteTimestamp time.Time       `db:"remote_timestamp"`
	RemoteDeviceID  sql.NullString  `db:"remote_device_id"`

	Status             string          `db:"status"`
	ResolutionStrategy sql.NullString  `db:"resolution_strategy"`
	ResolvedData       json.RawMessage `db:"resolved_data"`
	ResolvedBy         sql.NullString  `db:"resolved_by"`

	DetectedAt time.Time    `db:"detected_at"`
	ResolvedAt sql.NullTime `db:"resolved_at"`
}

func (e *conflictEntity) toDomain() *domain.SyncConflict {
	conflict := &domain.SyncConflict{
		ID:              e.ID,
		UserID:          e.UserID,
		EntityType:      e.EntityType,
		EntityID:        e.EntityID,
		LocalData:       e.LocalData,
		LocalTimestamp:  e.LocalTimestamp,
		RemoteData:      e.RemoteData,
		RemoteTimestamp: e.RemoteTimestamp,
		Status:          domain.ConflictStatus(e.Status),
		ResolvedData:    e.ResolvedData,
		DetectedAt:      e.DetectedAt,
	}
	if e.RemoteDeviceID.Valid {
		conflict.RemoteDeviceID = e.RemoteDeviceID.String
	}
	if e.ResolutionStrategy.Valid {
		conflict.ResolutionStrategy = domain.ResolutionStrategy(e.ResolutionStrategy.String)
	}
	if e.ResolvedBy.Valid {
		conflict.ResolvedBy = e.ResolvedBy.String
	}
	if e.ResolvedAt.Valid {
		conflict.ResolvedAt = e.ResolvedAt.Time
	}
	return conflict
}

func toDomainConflicts(entities []conflictEntity) []*domain.SyncConflict {
	conflicts := make([]*domain.SyncConflict, len(entities))
	for i, e := range entities {
		conflicts[i] = e.toDomain()
	}
	return conflicts
}

// =============================================================================
// CRUD
// =============================================================================

func (a *ConflictAdapter) Create(ctx context.Context, conflict *domain.SyncConflict) error {
	query := `
		INSERT INTO sync_conflicts (
			user_id, entity_type, entity_id,
			local_data, local_timestamp,
			remote_data, remote_timestamp, remote_device_id,
			status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, detected_at
	`
	err := a.db.QueryRowContext(ctx, query,
		conflict.UserID,
		conflict.EntityType,
		conflict.EntityID,
		[]byte(conflict.LocalData),
		conflict.LocalTimestamp,
		[]byte(conflict.RemoteData),
		conflict.RemoteTimestamp,
		toNullableString(conflict.RemoteDeviceID),
		string(conflict.Status),
	).Scan(&conflict.ID, &conflict.DetectedAt)

	if err != nil && isUniqueViolation(err) {
		// Lost the race with a concurrent detection; adopt the winner.
		existing, getErr := a.GetPendingByTriple(ctx, conflict.UserID, conflict.EntityType, conflict.EntityID)
		if getErr != nil || existing == nil {
			return err
		}
		*conflict = *existing
		return nil
	}
	return err
}

func (a *ConflictAdapter) GetByID(ctx context.Context, id int64) (*domain.SyncConflict, error) {
	var entity conflictEntity
	query := `SELECT * FROM sync_conflicts WHERE id = $1`
	if err := a.db.GetContext(ctx, &entity, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return entity.toDomain(), nil
}

func (a *ConflictAdapter) GetPendingByTriple(ctx context.Context, userID, entityType, entityID string) (*domain.SyncConflict, error) {
	var entity conflictEntity
	query := `
		SELECT * FROM sync_conflicts
		WHERE user_id = $1 AND entity_type = $2 AND entity_id = $3
		  AND status = 'PENDING'
	`
	if err := a.db.GetContext(ctx, &entity, query, userID, entityType, entityID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return entity.toDomain(), nil
}

func (a *ConflictAdapter) GetPendingByUser(ctx context.Context, userID string) ([]*domain.SyncConflict, error) {
	var entities []conflictEntity
	query := `
		SELECT * FROM sync_conflicts
		WHERE user_id = $1 AND status = 'PENDING'
		ORDER BY detected_at DESC, id DESC
	`
	if err := a.db.SelectContext(ctx, &entities, query, userID); err != nil {
		return nil, err
	}
	return toDomainConflicts(entities), nil
}

func (a *ConflictAdapter) GetAllByUser(ctx context.Context, userID string) ([]*domain.SyncConflict, error) {
	var entities []conflictEntity
	query := `
		SELECT * FROM sync_conflicts
		WHERE user_id = $1
		ORDER BY detected_at DESC, id DESC
	`
	if err := a.db.SelectContext(ctx, &entities, query, userID); err != nil {
		return nil, err
	}
	return toDomainConflicts(entities), nil
}

func (a *ConflictAdapter) CountPendingByUser(ctx context.Context, userID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM sync_conflicts WHERE user_id = $1 AND status = 'PENDING'`
	if err := a.db.GetContext(ctx, &count, query, userID); err != nil {
		return 0, err
	}
	return count, nil
}

// =============================================================================
// Resolution
// =============================================================================

// Resolve stamps the terminal outcome. The status guard keeps a resolved
// conflict from being resolved twice even under concurrent requests.
func (a *ConflictAdapter) Resolve(ctx context.Context, id int64, resolution *out.ConflictResolution) error {
	query := `
		UPDATE sync_conflicts SET
			status = $1,
			resolution_strategy = $2,
			resolved_data = $3,
			resolved_by = $4,
			resolved_at = NOW()
		WHERE id = $5 AND status = 'PENDING'
	`
	result, err := a.db.ExecContext(ctx, query,
		string(resolution.Status),
		string(resolution.Strategy),
		resolution.ResolvedData,
		toNullableString(resolution.ResolvedBy),
		id,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		existing, getErr := a.GetByID(ctx, id)
		if getErr != nil {
			return getErr
		}
		if existing == nil {
			return domain.ErrNotFound
		}
		return domain.ErrConflictResolved
	}
	return nil
}

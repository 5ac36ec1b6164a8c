package persistence

import (
	"context"
	"database/sql"
	"time"

	"sync_server/core/domain"

	"github.com/jmoiron/sqlx"
)

// =============================================================================
// StatusAdapter - per-user sync status rows over PostgreSQL
// =============================================================================

type StatusAdapter struct {
	db *sqlx.DB
}

func NewStatusAdapter(db *sqlx.DB) *StatusAdapter {
	return &StatusAdapter{db: db}
}

// =============================================================================
// Entity
// =============================================================================

type statusEntity struct {
	ID     int64  `db:"id"`
	UserID string `db:"user_id"`

	SyncState      string         `db:"sync_state"`
	PendingChanges int            `db:"pending_changes"`
	LastError      sql.NullString `db:"last_error"`

	IsOffline    bool         `db:"is_offline"`
	OfflineSince sql.NullTime `db:"offline_since"`
	LastSyncAt   sql.NullTime `db:"last_sync_at"`

	DeviceID   sql.NullString `db:"device_id"`
	AppVersion sql.NullString `db:"app_version"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (e *statusEntity) toDomain() *domain.SyncStatus {
	status := &domain.SyncStatus{
		ID:             e.ID,
		UserID:         e.UserID,
		SyncState:      domain.SyncState(e.SyncState),
		PendingChanges: e.PendingChanges,
		IsOffline:      e.IsOffline,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
	if e.LastError.Valid {
		status.LastError = e.LastError.String
	}
	if e.OfflineSince.Valid {
		status.OfflineSince = e.OfflineSince.Time
	}
	if e.LastSyncAt.Valid {
		status.LastSyncAt = e.LastSyncAt.Time
	}
	if e.DeviceID.Valid {
		status.DeviceID = e.DeviceID.String
	}
	if e.AppVersion.Valid {
		status.AppVersion = e.AppVersion.String
	}
	return status
}

// =============================================================================
// CRUD
// =============================================================================

func (a *StatusAdapter) GetByUser(ctx context.Context, userID string) (*domain.SyncStatus, error) {
	var entity statusEntity
	query := `SELECT * FROM sync_statuses WHERE user_id = $1`
	if err := a.db.GetContext(ctx, &entity, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return entity.toDomain(), nil
}

func (a *StatusAdapter) Create(ctx context.Context, status *domain.SyncStatus) error {
	query := `
		INSERT INTO sync_statuses (user_id, sync_state)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at
	`
	return a.db.QueryRowContext(ctx, query,
		status.UserID,
		string(status.SyncState),
	).Scan(&status.ID, &status.CreatedAt, &status.UpdatedAt)
}

// =============================================================================
// State updates
// =============================================================================

func (a *StatusAdapter) SetState(ctx context.Context, userID string, state domain.SyncState, lastError string) error {
	query := `
		UPDATE sync_statuses SET
			sync_state = $1,
			last_error = $2,
			updated_at = NOW()
		WHERE user_id = $3
	`
	result, err := a.db.ExecContext(ctx, query, string(state), toNullableString(lastError), userID)
	if err != nil {
		return err
	}
	return requireRowAffected(result)
}

func (a *StatusAdapter) UpdatePendingChanges(ctx context.Context, userID string, count int) error {
	// Upsert: queue mutations may land before the user's first status read.
	query := `
		INSERT INTO sync_statuses (user_id, sync_state, pending_changes)
		VALUES ($1, 'IDLE', $2)
		ON CONFLICT (user_id) DO UPDATE SET
			pending_changes = EXCLUDED.pending_changes,
			updated_at = NOW()
	`
	_, err := a.db.ExecContext(ctx, query, userID, count)
	return err
}

func (a *StatusAdapter) UpdateLastSyncAt(ctx context.Context, userID string, at time.Time) error {
	query := `
		UPDATE sync_statuses SET
			last_sync_at = $1,
			updated_at = NOW()
		WHERE user_id = $2
	`
	result, err := a.db.ExecContext(ctx, query, at, userID)
	if err != nil {
		return err
	}
	return requireRowAffected(result)
}

func (a *StatusAdapter) UpdateDeviceInfo(ctx context.Context, userID, deviceID, appVersion string) error {
	query := `
		UPDATE sync_statuses SET
			device_id = $1,
			app_version = $2,
			updated_at = NOW()
		WHERE user_id = $3
	`
	result, err := a.db.ExecContext(ctx, query,
		toNullableString(deviceID), toNullableString(appVersion), userID)
	if err != nil {
		return err
	}
	return requireRowAffected(result)
}

// =============================================================================
// Offline mode
// =============================================================================

func (a *StatusAdapter) EnterOffline(ctx context.Context, userID string, since time.Time) error {
	// Offline and syncing are mutually exclusive; force the state over.
	query := `
		UPDATE sync_statuses SET
			is_offline = TRUE,
			offline_since = $1,
			sync_state = 'OFFLINE',
			updated_at = NOW()
		WHERE user_id = $2
	`
	result, err := a.db.ExecContext(ctx, query, since, userID)
	if err != nil {
		return err
	}
	return requireRowAffected(result)
}

func (a *StatusAdapter) ExitOffline(ctx context.Context, userID string) error {
	query := `
		UPDATE sync_statuses SET
			is_offline = FALSE,
			offline_since = NULL,
			sync_state = 'SYNCING',
			updated_at = NOW()
		WHERE user_id = $1
	`
	result, err := a.db.ExecContext(ctx, query, userID)
	if err != nil {
		return err
	}
	return requireRowAffected(result)
}

package persistence

import (
	"context"
	"database/sql"
	"time"

	"sync_server/core/domain"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// =============================================================================
// QueueAdapter - durable sync queue over PostgreSQL
// =============================================================================

type QueueAdapter struct {
	db *sqlx.DB
}

func NewQueueAdapter(db *sqlx.DB) *QueueAdapter {
	return &QueueAdapter{db: db}
}

// =============================================================================
// Entity
// =============================================================================

type queueItemEntity struct {
	ID         int64          `db:"id"`
	UserID     string         `db:"user_id"`
	EntityType string         `db:"entity_type"`
	EntityID   sql.NullString `db:"entity_id"`

	OperationType   string          `db:"operation_type"`
	Payload         json.RawMessage `db:"payload"`
	ClientTimestamp time.Time       `db:"client_timestamp"`

	Status     string         `db:"status"`
	RetryCount int            `db:"retry_count"`
	LastError  sql.NullString `db:"last_error"`
	Priority   int            `db:"priority"`

	CreatedAt   time.Time    `db:"created_at"`
	ProcessedAt sql.NullTime `db:"processed_at"`
}

func (e *queueItemEntity) toDomain() *domain.QueueItem {
	item := &domain.QueueItem{
		ID:              e.ID,
		UserID:          e.UserID,
		EntityType:      e.EntityType,
		OperationType:   domain.OperationType(e.OperationType),
		Payload:         e.Payload,
		ClientTimestamp: e.ClientTimestamp,
		Status:          domain.QueueItemStatus(e.Status),
		RetryCount:      e.RetryCount,
		Priority:        e.Priority,
		CreatedAt:       e.CreatedAt,
	}
	if e.EntityID.Valid {
		item.EntityID = e.EntityID.String
	}
	if e.LastError.Valid {
		item.LastError = e.LastError.String
	}
	if e.ProcessedAt.Valid {
		item.ProcessedAt = e.ProcessedAt.Time
	}
	return item
}

func toDomainItems(entities []queueItemEntity) []*domain.QueueItem {
	items := make([]*domain.QueueItem, len(entities))
	for i, e := range entities {
		items[i] = e.toDomain()
	}
	return items
}

// =============================================================================
// CRUD
// =============================================================================

func (a *QueueAdapter) Create(ctx context.Context, item *domain.QueueItem) error {
	query := `
		INSERT INTO sync_queue_items (
			user_id, entity_type, entity_id, operation_type, payload,
			client_timestamp, status, priority
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	return a.db.QueryRowContext(ctx, query,
		item.UserID,
		item.EntityType,
		toNullableString(item.EntityID),
		string(item.OperationType),
		[]byte(item.Payload),
		item.ClientTimestamp,
		string(item.Status),
		item.Priority,
	).Scan(&item.ID, &item.CreatedAt)
}

func (a *QueueAdapter) GetByID(ctx context.Context, id int64) (*domain.QueueItem, error) {
	var entity queueItemEntity
	query := `SELECT * FROM sync_queue_items WHERE id = $1`
	if err := a.db.GetContext(ctx, &entity, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return entity.toDomain(), nil
}

func (a *QueueAdapter) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM sync_queue_items WHERE id = $1`
	result, err := a.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return requireRowAffected(result)
}

// =============================================================================
// Read paths
// =============================================================================

func (a *QueueAdapter) GetPendingByUser(ctx context.Context, userID string) ([]*domain.QueueItem, error) {
	var entities []queueItemEntity
	query := `
		SELECT * FROM sync_queue_items
		WHERE user_id = $1 AND status = 'PENDING'
		ORDER BY created_at ASC, id ASC
	`
	if err := a.db.SelectContext(ctx, &entities, query, userID); err != nil {
		return nil, err
	}
	return toDomainItems(entities), nil
}

func (a *QueueAdapter) GetByUserAndStatuses(ctx context.Context, userID string, statuses []domain.QueueItemStatus) ([]*domain.QueueItem, error) {
	raw := make([]string, len(statuses))
	for i, s := range statuses {
		raw[i] = string(s)
	}

	var entities []queueItemEntity
	query := `
		SELECT * FROM sync_queue_items
		WHERE user_id = $1 AND status = ANY($2)
		ORDER BY created_at ASC, id ASC
	`
	if err := a.db.SelectContext(ctx, &entities, query, userID, pq.Array(raw)); err != nil {
		return nil, err
	}
	return toDomainItems(entities), nil
}

func (a *QueueAdapter) CountByUserAndStatus(ctx context.Context, userID string, status domain.QueueItemStatus) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM sync_queue_items WHERE user_id = $1 AND status = $2`
	if err := a.db.GetContext(ctx, &count, query, userID, string(status)); err != nil {
		return 0, err
	}
	return count, nil
}

func (a *QueueAdapter) GetUsersWithPending(ctx context.Context) ([]string, error) {
	var users []string
	query := `
		SELECT DISTINCT user_id FROM sync_queue_items
		WHERE status = 'PENDING'
		ORDER BY user_id
	`
	if err := a.db.SelectContext(ctx, &users, query); err != nil {
		return nil, err
	}
	return users, nil
}

// =============================================================================
// Dispatch
// =============================================================================

// ClaimNextBatch flips up to limit PENDING items to IN_PROGRESS in one
// statement. SKIP LOCKED keeps concurrent dispatchers from claiming the same
// rows; the CTE re-orders the returned rows because RETURNING carries no
// ordering guarantee.
func (a *QueueAdapter) ClaimNextBatch(ctx context.Context, userID string, limit int) ([]*domain.QueueItem, error) {
	var entities []queueItemEntity
	query := `
		WITH claimed AS (
			UPDATE sync_queue_items SET status = 'IN_PROGRESS'
			WHERE id IN (
				SELECT id FROM sync_queue_items
				WHERE user_id = $1 AND status = 'PENDING'
				ORDER BY priority DESC, created_at ASC, id ASC
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
			RETURNING *
		)
		SELECT * FROM claimed
		ORDER BY priority DESC, created_at ASC, id ASC
	`
	if err := a.db.SelectContext(ctx, &entities, query, userID, limit); err != nil {
		return nil, err
	}
	return toDomainItems(entities), nil
}

func (a *QueueAdapter) UpdateStatus(ctx context.Context, id int64, status domain.QueueItemStatus, processedAt time.Time) error {
	query := `
		UPDATE sync_queue_items SET
			status = $1,
			processed_at = $2
		WHERE id = $3
	`
	result, err := a.db.ExecContext(ctx, query, string(status), processedAt, id)
	if err != nil {
		return err
	}
	return requireRowAffected(result)
}

func (a *QueueAdapter) UpdateStatusWithRetry(ctx context.Context, id int64, status domain.QueueItemStatus, retryCount int, lastError string, processedAt time.Time) error {
	query := `
		UPDATE sync_queue_items SET
			status = $1,
			retry_count = $2,
			last_error = $3,
			processed_at = $4
		WHERE id = $5
	`
	result, err := a.db.ExecContext(ctx, query,
		string(status), retryCount, toNullableString(lastError), processedAt, id)
	if err != nil {
		return err
	}
	return requireRowAffected(result)
}

// =============================================================================
// Sweeps
// =============================================================================

func (a *QueueAdapter) GetFailedUnderCeiling(ctx context.Context, maxRetries int) ([]*domain.QueueItem, error) {
	var entities []queueItemEntity
	query := `
		SELECT * FROM sync_queue_items
		WHERE status = 'FAILED' AND retry_count < $1
		ORDER BY created_at ASC, id ASC
	`
	if err := a.db.SelectContext(ctx, &entities, query, maxRetries); err != nil {
		return nil, err
	}
	return toDomainItems(entities), nil
}

func (a *QueueAdapter) ResetToPending(ctx context.Context, id int64) error {
	query := `
		UPDATE sync_queue_items SET
			status = 'PENDING',
			last_error = NULL
		WHERE id = $1 AND status = 'FAILED'
	`
	result, err := a.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return requireRowAffected(result)
}

func (a *QueueAdapter) DeleteCompletedByUser(ctx context.Context, userID string) (int, error) {
	query := `DELETE FROM sync_queue_items WHERE user_id = $1 AND status = 'COMPLETED'`
	result, err := a.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	return int(affected), err
}

func (a *QueueAdapter) DeleteCompletedBefore(ctx context.Context, before time.Time) (int, error) {
	query := `
		DELETE FROM sync_queue_items
		WHERE status = 'COMPLETED' AND processed_at < $1
	`
	result, err := a.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	return int(affected), err
}

func (a *QueueAdapter) DeletePendingByUser(ctx context.Context, userID string) (int, error) {
	query := `DELETE FROM sync_queue_items WHERE user_id = $1 AND status = 'PENDING'`
	result, err := a.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	return int(affected), err
}

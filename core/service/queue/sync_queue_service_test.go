package queue

import (
	"context"
	"sort"
	"testing"
	"time"

	"sync_server/core/domain"
	"sync_server/pkg/apperr"
)

// ============================================================================
// In-memory fakes
// ============================================================================

type fakeQueueRepo struct {
	nextID int64
	items  map[int64]*domain.QueueItem
}

func newFakeQueueRepo() *fakeQueueRepo {
	return &fakeQueueRepo{items: make(map[int64]*domain.QueueItem)}
}

func (f *fakeQueueRepo) Create(_ context.Context, item *domain.QueueItem) error {
	f.nextID++
	item.ID = f.nextID
	cp := *item
	f.items[item.ID] = &cp
	return nil
}

func (f *fakeQueueRepo) GetByID(_ context.Context, id int64) (*domain.QueueItem, error) {
	item, ok := f.items[id]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (f *fakeQueueRepo) Delete(_ context.Context, id int64) error {
	if _, ok := f.items[id]; !ok {
		return domain.ErrNotFound
	}
	delete(f.items, id)
	return nil
}

func (f *fakeQueueRepo) GetPendingByUser(_ context.Context, userID string) ([]*domain.QueueItem, error) {
	var out []*domain.QueueItem
	for _, item := range f.items {
		if item.UserID == userID && item.Status == domain.QueueStatusPending {
			cp := *item
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeQueueRepo) GetByUserAndStatuses(_ context.Context, userID string, statuses []domain.QueueItemStatus) ([]*domain.QueueItem, error) {
	want := make(map[domain.QueueItemStatus]bool)
	for _, s := range statuses {
		want[s] = true
	}
	var out []*domain.QueueItem
	for _, item := range f.items {
		if item.UserID == userID && want[item.Status] {
			cp := *item
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeQueueRepo) CountByUserAndStatus(_ context.Context, userID string, status domain.QueueItemStatus) (int, error) {
	count := 0
	for _, item := range f.items {
		if item.UserID == userID && item.Status == status {
			count++
		}
	}
	return count, nil
}

func (f *fakeQueueRepo) GetUsersWithPending(_ context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, item := range f.items {
		if item.Status == domain.QueueStatusPending && !seen[item.UserID] {
			seen[item.UserID] = true
			out = append(out, item.UserID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeQueueRepo) ClaimNextBatch(_ context.Context, userID string, limit int) ([]*domain.QueueItem, error) {
	var out []*domain.QueueItem
	for _, item := range f.items {
		if item.UserID == userID && item.Status == domain.QueueStatusPending {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	claimed := make([]*domain.QueueItem, 0, len(out))
	for _, item := range out {
		item.Status = domain.QueueStatusInProgress
		cp := *item
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (f *fakeQueueRepo) UpdateStatus(_ context.Context, id int64, status domain.QueueItemStatus, processedAt time.Time) error {
	item, ok := f.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	item.Status = status
	item.ProcessedAt = processedAt
	return nil
}

func (f *fakeQueueRepo) UpdateStatusWithRetry(_ context.Context, id int64, status domain.QueueItemStatus, retryCount int, lastError string, processedAt time.Time) error {
	item, ok := f.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	item.Status = status
	item.RetryCount = retryCount
	item.LastError = lastError
	item.ProcessedAt = processedAt
	return nil
}

func (f *fakeQueueRepo) GetFailedUnderCeiling(_ context.Context, maxRetries int) ([]*domain.QueueItem, error) {
	var out []*domain.QueueItem
	for _, item := range f.items {
		if item.Status == domain.QueueStatusFailed && item.RetryCount < maxRetries {
			cp := *item
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeQueueRepo) ResetToPending(_ context.Context, id int64) error {
	item, ok := f.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	item.Status = domain.QueueStatusPending
	return nil
}

func (f *fakeQueueRepo) DeleteCompletedByUser(_ context.Context, userID string) (int, error) {
	count := 0
	for id, item := range f.items {
		if item.UserID == userID && item.Status == domain.QueueStatusCompleted {
			delete(f.items, id)
			count++
		}
	}
	return count, nil
}

func (f *fakeQueueRepo) DeleteCompletedBefore(_ context.Context, before time.Time) (int, error) {
	count := 0
	for id, item := range f.items {
		if item.Status == domain.QueueStatusCompleted && item.ProcessedAt.Before(before) {
			delete(f.items, id)
			count++
		}
	}
	return count, nil
}

func (f *fakeQueueRepo) DeletePendingByUser(_ context.Context, userID string) (int, error) {
	count := 0
	for id, item := range f.items {
		if item.UserID == userID && item.Status == domain.QueueStatusPending {
			delete(f.items, id)
			count++
		}
	}
	return count, nil
}

type fakeStatusRepo struct {
	pending map[string]int
}

func newFakeStatusRepo() *fakeStatusRepo {
	return &fakeStatusRepo{pending: make(map[string]int)}
}

func (f *fakeStatusRepo) GetByUser(_ context.Context, _ string) (*domain.SyncStatus, error) {
	return nil, nil
}
func (f *fakeStatusRepo) Create(_ context.Context, _ *domain.SyncStatus) error { return nil }
func (f *fakeStatusRepo) SetState(_ context.Context, _ string, _ domain.SyncState, _ string) error {
	return nil
}
func (f *fakeStatusRepo) UpdatePendingChanges(_ context.Context, userID string, count int) error {
	f.pending[userID] = count
	return nil
}
func (f *fakeStatusRepo) UpdateLastSyncAt(_ context.Context, _ string, _ time.Time) error { return nil }
func (f *fakeStatusRepo) UpdateDeviceInfo(_ context.Context, _, _, _ string) error        { return nil }
func (f *fakeStatusRepo) EnterOffline(_ context.Context, _ string, _ time.Time) error     { return nil }
func (f *fakeStatusRepo) ExitOffline(_ context.Context, _ string) error                   { return nil }

func newTestService() (*Service, *fakeQueueRepo, *fakeStatusRepo) {
	queueRepo := newFakeQueueRepo()
	statusRepo := newFakeStatusRepo()
	return NewService(queueRepo, statusRepo, 10), queueRepo, statusRepo
}

func seed(t *testing.T, repo *fakeQueueRepo, userID string, status domain.QueueItemStatus, priority int, createdAt time.Time) *domain.QueueItem {
	t.Helper()
	item := &domain.QueueItem{
		UserID:          userID,
		EntityType:      "crop",
		EntityID:        "c-1",
		OperationType:   domain.OperationUpdate,
		ClientTimestamp: createdAt,
		Status:          status,
		Priority:        priority,
		CreatedAt:       createdAt,
	}
	if err := repo.Create(context.Background(), item); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return item
}

// ============================================================================
// Tests
// ============================================================================

func TestQueueRequest(t *testing.T) {
	svc, repo, statusRepo := newTestService()
	ctx := context.Background()

	item, err := svc.QueueRequest(ctx, "user-1", &Request{
		EntityType:    "crop",
		OperationType: domain.OperationCreate,
		Payload:       []byte(`{"name":"wheat"}`),
	})
	if err != nil {
		t.Fatalf("QueueRequest: %v", err)
	}
	if item.ID == 0 {
		t.Error("expected assigned id")
	}
	if item.Status != domain.QueueStatusPending {
		t.Errorf("status = %s, want PENDING", item.Status)
	}
	if item.ClientTimestamp.IsZero() {
		t.Error("expected client timestamp default")
	}
	if item.CreatedAt.IsZero() {
		t.Error("expected createdAt assigned")
	}

	stored, _ := repo.GetByID(ctx, item.ID)
	if stored == nil {
		t.Fatal("item not persisted")
	}
	if got := statusRepo.pending["user-1"]; got != 1 {
		t.Errorf("pending mirror = %d, want 1", got)
	}
}

func TestQueueRequest_Validation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	tests := []struct {
		name string
		req  *Request
		code string
	}{
		{
			name: "missing entity type",
			req:  &Request{OperationType: domain.OperationCreate},
			code: apperr.CodeMissingField,
		},
		{
			name: "invalid operation",
			req:  &Request{EntityType: "crop", OperationType: "UPSERT"},
			code: apperr.CodeBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.QueueRequest(ctx, "user-1", tt.req)
			appErr, ok := err.(*apperr.AppError)
			if !ok {
				t.Fatalf("expected AppError, got %v", err)
			}
			if appErr.Code != tt.code {
				t.Errorf("code = %s, want %s", appErr.Code, tt.code)
			}
		})
	}
}

func TestGetPendingItems_FIFO(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// High priority arrives last. Inspection order must still be pure FIFO.
	second := seed(t, repo, "user-1", domain.QueueStatusPending, 0, base.Add(time.Minute))
	first := seed(t, repo, "user-1", domain.QueueStatusPending, 0, base)
	urgent := seed(t, repo, "user-1", domain.QueueStatusPending, 9, base.Add(2*time.Minute))
	seed(t, repo, "user-2", domain.QueueStatusPending, 0, base)
	seed(t, repo, "user-1", domain.QueueStatusCompleted, 0, base)

	items, err := svc.GetPendingItems(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetPendingItems: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("len = %d, want 3", len(items))
	}
	wantOrder := []int64{first.ID, second.ID, urgent.ID}
	for i, want := range wantOrder {
		if items[i].ID != want {
			t.Errorf("items[%d].ID = %d, want %d", i, items[i].ID, want)
		}
	}
}

func TestGetNextBatch_PriorityThenFIFO(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	low := seed(t, repo, "user-1", domain.QueueStatusPending, 0, base)
	highLate := seed(t, repo, "user-1", domain.QueueStatusPending, 5, base.Add(time.Minute))
	highEarly := seed(t, repo, "user-1", domain.QueueStatusPending, 5, base.Add(-time.Minute))

	batch, err := svc.GetNextBatch(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetNextBatch: %v", err)
	}
	wantOrder := []int64{highEarly.ID, highLate.ID, low.ID}
	if len(batch) != len(wantOrder) {
		t.Fatalf("len = %d, want %d", len(batch), len(wantOrder))
	}
	for i, want := range wantOrder {
		if batch[i].ID != want {
			t.Errorf("batch[%d].ID = %d, want %d", i, batch[i].ID, want)
		}
		if batch[i].Status != domain.QueueStatusInProgress {
			t.Errorf("batch[%d].Status = %s, want IN_PROGRESS", i, batch[i].Status)
		}
	}

	// Claimed items are invisible to a second claim.
	again, err := svc.GetNextBatch(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetNextBatch(again): %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second claim returned %d items, want 0", len(again))
	}
}

func TestMarkCompleted(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	now := time.Now()

	inProgress := seed(t, repo, "user-1", domain.QueueStatusInProgress, 0, now)
	pending := seed(t, repo, "user-1", domain.QueueStatusPending, 0, now)

	if err := svc.MarkCompleted(ctx, inProgress.ID); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	stored, _ := repo.GetByID(ctx, inProgress.ID)
	if stored.Status != domain.QueueStatusCompleted {
		t.Errorf("status = %s, want COMPLETED", stored.Status)
	}
	if stored.ProcessedAt.IsZero() {
		t.Error("expected processedAt set")
	}

	// PENDING -> COMPLETED is not a legal transition.
	if err := svc.MarkCompleted(ctx, pending.ID); err == nil {
		t.Error("expected error completing a PENDING item")
	}

	if err := svc.MarkCompleted(ctx, 9999); !apperr.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestUpdateStatusWithRetry(t *testing.T) {
	svc, repo, statusRepo := newTestService()
	ctx := context.Background()
	now := time.Now()

	item := seed(t, repo, "user-1", domain.QueueStatusInProgress, 0, now)

	if err := svc.UpdateStatusWithRetry(ctx, item.ID, domain.QueueStatusPending, 1, "connection reset"); err != nil {
		t.Fatalf("UpdateStatusWithRetry: %v", err)
	}
	stored, _ := repo.GetByID(ctx, item.ID)
	if stored.Status != domain.QueueStatusPending {
		t.Errorf("status = %s, want PENDING", stored.Status)
	}
	if stored.RetryCount != 1 {
		t.Errorf("retryCount = %d, want 1", stored.RetryCount)
	}
	if stored.LastError != "connection reset" {
		t.Errorf("lastError = %q", stored.LastError)
	}
	if got := statusRepo.pending["user-1"]; got != 1 {
		t.Errorf("pending mirror = %d, want 1", got)
	}

	// Caller-supplied target is trusted but bounded to PENDING or FAILED.
	if err := svc.UpdateStatusWithRetry(ctx, item.ID, domain.QueueStatusCompleted, 2, "x"); err == nil {
		t.Error("expected error for COMPLETED target")
	}
}

func TestUpdateStatusWithRetry_ToFailed(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	item := seed(t, repo, "user-1", domain.QueueStatusInProgress, 0, time.Now())
	if err := svc.UpdateStatusWithRetry(ctx, item.ID, domain.QueueStatusFailed, 3, "exhausted"); err != nil {
		t.Fatalf("UpdateStatusWithRetry: %v", err)
	}
	stored, _ := repo.GetByID(ctx, item.ID)
	if stored.Status != domain.QueueStatusFailed {
		t.Errorf("status = %s, want FAILED", stored.Status)
	}

	// FAILED items stay failed until explicitly requeued.
	batch, _ := svc.GetNextBatch(ctx, "user-1")
	if len(batch) != 0 {
		t.Errorf("FAILED item claimed by dispatch, want none")
	}
}

func TestClearCompletedItems(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	now := time.Now()

	seed(t, repo, "user-1", domain.QueueStatusCompleted, 0, now)
	seed(t, repo, "user-1", domain.QueueStatusCompleted, 0, now)
	kept := seed(t, repo, "user-1", domain.QueueStatusFailed, 0, now)
	seed(t, repo, "user-2", domain.QueueStatusCompleted, 0, now)

	count, err := svc.ClearCompletedItems(ctx, "user-1")
	if err != nil {
		t.Fatalf("ClearCompletedItems: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	if stored, _ := repo.GetByID(ctx, kept.ID); stored == nil {
		t.Error("FAILED item must survive the sweep")
	}
}

func TestCancelPending(t *testing.T) {
	svc, repo, statusRepo := newTestService()
	ctx := context.Background()
	now := time.Now()

	seed(t, repo, "user-1", domain.QueueStatusPending, 0, now)
	seed(t, repo, "user-1", domain.QueueStatusPending, 0, now)
	inProgress := seed(t, repo, "user-1", domain.QueueStatusInProgress, 0, now)

	count, err := svc.CancelPending(ctx, "user-1")
	if err != nil {
		t.Fatalf("CancelPending: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	if stored, _ := repo.GetByID(ctx, inProgress.ID); stored == nil {
		t.Error("IN_PROGRESS item must survive cancellation")
	}
	if got := statusRepo.pending["user-1"]; got != 0 {
		t.Errorf("pending mirror = %d, want 0", got)
	}
}

func TestDeleteItem(t *testing.T) {
	svc, repo, statusRepo := newTestService()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	item := seed(t, repo, "user-1", domain.QueueStatusPending, 0, base)
	seed(t, repo, "user-1", domain.QueueStatusPending, 0, base.Add(time.Minute))

	if err := svc.DeleteItem(ctx, "user-1", item.ID); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	if stored, _ := repo.GetByID(ctx, item.ID); stored != nil {
		t.Error("item still present after delete")
	}
	if got := statusRepo.pending["user-1"]; got != 1 {
		t.Errorf("pending mirror = %d, want 1", got)
	}

	if err := svc.DeleteItem(ctx, "user-1", 9999); !apperr.IsNotFound(err) {
		t.Errorf("DeleteItem missing = %v, want NOT_FOUND", err)
	}
}

func TestDeleteItem_OtherUsersItem(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	item := seed(t, repo, "user-1", domain.QueueStatusPending, 0, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	// Another user's item is invisible, not deletable.
	if err := svc.DeleteItem(ctx, "user-2", item.ID); !apperr.IsNotFound(err) {
		t.Errorf("DeleteItem other user = %v, want NOT_FOUND", err)
	}
	if stored, _ := repo.GetByID(ctx, item.ID); stored == nil {
		t.Error("item must survive another user's delete attempt")
	}
}

func TestRequeueFailed(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	now := time.Now()

	failed := seed(t, repo, "user-1", domain.QueueStatusFailed, 0, now)
	pending := seed(t, repo, "user-1", domain.QueueStatusPending, 0, now)

	if err := svc.RequeueFailed(ctx, failed.ID); err != nil {
		t.Fatalf("RequeueFailed: %v", err)
	}
	stored, _ := repo.GetByID(ctx, failed.ID)
	if stored.Status != domain.QueueStatusPending {
		t.Errorf("status = %s, want PENDING", stored.Status)
	}

	if err := svc.RequeueFailed(ctx, pending.ID); err == nil {
		t.Error("expected error requeuing a PENDING item")
	}
}

func TestGetPendingCount_DerivedFromQueue(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	now := time.Now()

	seed(t, repo, "user-1", domain.QueueStatusPending, 0, now)
	seed(t, repo, "user-1", domain.QueueStatusPending, 0, now)
	seed(t, repo, "user-1", domain.QueueStatusCompleted, 0, now)
	seed(t, repo, "user-1", domain.QueueStatusFailed, 0, now)

	count, err := svc.GetPendingCount(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetPendingCount: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

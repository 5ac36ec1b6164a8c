package status

import (
	"context"
	"testing"
	"time"

	"sync_server/core/domain"
)

// fakeStatusRepo keeps one status row per user, mirroring the store's
// offline/syncing exclusivity rules.
type fakeStatusRepo struct {
	nextID int64
	rows   map[string]*domain.SyncStatus
}

func newFakeStatusRepo() *fakeStatusRepo {
	return &fakeStatusRepo{rows: make(map[string]*domain.SyncStatus)}
}

func (f *fakeStatusRepo) GetByUser(_ context.Context, userID string) (*domain.SyncStatus, error) {
	row, ok := f.rows[userID]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (f *fakeStatusRepo) Create(_ context.Context, status *domain.SyncStatus) error {
	f.nextID++
	status.ID = f.nextID
	cp := *status
	f.rows[status.UserID] = &cp
	return nil
}

func (f *fakeStatusRepo) SetState(_ context.Context, userID string, state domain.SyncState, lastError string) error {
	row, ok := f.rows[userID]
	if !ok {
		return domain.ErrNotFound
	}
	row.SyncState = state
	row.LastError = lastError
	row.UpdatedAt = time.Now()
	return nil
}

func (f *fakeStatusRepo) UpdatePendingChanges(_ context.Context, userID string, count int) error {
	row, ok := f.rows[userID]
	if !ok {
		return domain.ErrNotFound
	}
	row.PendingChanges = count
	return nil
}

func (f *fakeStatusRepo) UpdateLastSyncAt(_ context.Context, userID string, at time.Time) error {
	row, ok := f.rows[userID]
	if !ok {
		return domain.ErrNotFound
	}
	row.LastSyncAt = at
	return nil
}

func (f *fakeStatusRepo) UpdateDeviceInfo(_ context.Context, userID, deviceID, appVersion string) error {
	row, ok := f.rows[userID]
	if !ok {
		return domain.ErrNotFound
	}
	row.DeviceID = deviceID
	row.AppVersion = appVersion
	return nil
}

func (f *fakeStatusRepo) EnterOffline(_ context.Context, userID string, since time.Time) error {
	row, ok := f.rows[userID]
	if !ok {
		return domain.ErrNotFound
	}
	row.IsOffline = true
	row.OfflineSince = since
	row.SyncState = domain.SyncStateOffline
	return nil
}

func (f *fakeStatusRepo) ExitOffline(_ context.Context, userID string) error {
	row, ok := f.rows[userID]
	if !ok {
		return domain.ErrNotFound
	}
	row.IsOffline = false
	row.OfflineSince = time.Time{}
	row.SyncState = domain.SyncStateSyncing
	return nil
}

// domainQueueRepoStub satisfies out.QueueRepository for methods the status
// service never calls.
type domainQueueRepoStub struct{}

func (domainQueueRepoStub) Create(context.Context, *domain.QueueItem) error { return nil }
func (domainQueueRepoStub) GetByID(context.Context, int64) (*domain.QueueItem, error) {
	return nil, nil
}
func (domainQueueRepoStub) Delete(context.Context, int64) error { return nil }
func (domainQueueRepoStub) GetPendingByUser(context.Context, string) ([]*domain.QueueItem, error) {
	return nil, nil
}
func (domainQueueRepoStub) GetByUserAndStatuses(context.Context, string, []domain.QueueItemStatus) ([]*domain.QueueItem, error) {
	return nil, nil
}
func (domainQueueRepoStub) GetUsersWithPending(context.Context) ([]string, error) { return nil, nil }
func (domainQueueRepoStub) ClaimNextBatch(context.Context, string, int) ([]*domain.QueueItem, error) {
	return nil, nil
}
func (domainQueueRepoStub) UpdateStatus(context.Context, int64, domain.QueueItemStatus, time.Time) error {
	return nil
}
func (domainQueueRepoStub) UpdateStatusWithRetry(context.Context, int64, domain.QueueItemStatus, int, string, time.Time) error {
	return nil
}
func (domainQueueRepoStub) GetFailedUnderCeiling(context.Context, int) ([]*domain.QueueItem, error) {
	return nil, nil
}
func (domainQueueRepoStub) ResetToPending(context.Context, int64) error { return nil }
func (domainQueueRepoStub) DeleteCompletedByUser(context.Context, string) (int, error) {
	return 0, nil
}
func (domainQueueRepoStub) DeleteCompletedBefore(context.Context, time.Time) (int, error) {
	return 0, nil
}
func (domainQueueRepoStub) DeletePendingByUser(context.Context, string) (int, error) { return 0, nil }

// fakeQueueCounts implements only the count the status service reads.
type fakeQueueCounts struct {
	domainQueueRepoStub
	pending map[string]int
}

func (f *fakeQueueCounts) CountByUserAndStatus(_ context.Context, userID string, status domain.QueueItemStatus) (int, error) {
	if status != domain.QueueStatusPending {
		return 0, nil
	}
	return f.pending[userID], nil
}

func newTestService() (*Service, *fakeStatusRepo, *fakeQueueCounts) {
	statusRepo := newFakeStatusRepo()
	queueRepo := &fakeQueueCounts{pending: make(map[string]int)}
	return NewService(statusRepo, queueRepo), statusRepo, queueRepo
}

func TestGetOrCreate_LazyInit(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	status, err := svc.GetOrCreate(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if status.SyncState != domain.SyncStateIdle {
		t.Errorf("state = %s, want IDLE", status.SyncState)
	}
	if status.IsOffline {
		t.Error("new status must not be offline")
	}
	if len(repo.rows) != 1 {
		t.Errorf("rows = %d, want 1", len(repo.rows))
	}

	// Second call returns the same row, no duplicate.
	again, err := svc.GetOrCreate(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetOrCreate(again): %v", err)
	}
	if again.ID != status.ID {
		t.Errorf("id = %d, want %d", again.ID, status.ID)
	}
	if len(repo.rows) != 1 {
		t.Errorf("rows = %d, want 1", len(repo.rows))
	}
}

func TestGetOrCreate_PendingDerivedFromQueue(t *testing.T) {
	svc, _, queue := newTestService()
	ctx := context.Background()

	queue.pending["user-1"] = 7
	status, err := svc.GetOrCreate(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if status.PendingChanges != 7 {
		t.Errorf("pendingChanges = %d, want 7", status.PendingChanges)
	}
}

func TestOfflineRoundTrip(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	status, err := svc.EnterOfflineMode(ctx, "user-1")
	if err != nil {
		t.Fatalf("EnterOfflineMode: %v", err)
	}
	if !status.IsOffline {
		t.Error("expected offline flag set")
	}
	if status.OfflineSince.IsZero() {
		t.Error("expected offlineSince set")
	}
	if status.SyncState == domain.SyncStateSyncing {
		t.Error("offline user must never be SYNCING")
	}

	status, err = svc.ExitOfflineMode(ctx, "user-1")
	if err != nil {
		t.Fatalf("ExitOfflineMode: %v", err)
	}
	if status.IsOffline {
		t.Error("expected offline flag cleared")
	}
	if status.SyncState != domain.SyncStateSyncing {
		t.Errorf("state = %s, want SYNCING after coming back online", status.SyncState)
	}
}

func TestCycleStateTransitions(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	if err := svc.SetSyncing(ctx, "user-1"); err != nil {
		t.Fatalf("SetSyncing: %v", err)
	}
	if repo.rows["user-1"].SyncState != domain.SyncStateSyncing {
		t.Errorf("state = %s, want SYNCING", repo.rows["user-1"].SyncState)
	}

	if err := svc.SetIdle(ctx, "user-1"); err != nil {
		t.Fatalf("SetIdle: %v", err)
	}
	row := repo.rows["user-1"]
	if row.SyncState != domain.SyncStateIdle {
		t.Errorf("state = %s, want IDLE", row.SyncState)
	}
	if row.LastSyncAt.IsZero() {
		t.Error("expected lastSyncAt stamped")
	}
	if row.LastError != "" {
		t.Errorf("lastError = %q, want empty", row.LastError)
	}

	if err := svc.SetSyncError(ctx, "user-1", "apply backend unreachable"); err != nil {
		t.Fatalf("SetSyncError: %v", err)
	}
	row = repo.rows["user-1"]
	if row.SyncState != domain.SyncStateError {
		t.Errorf("state = %s, want ERROR", row.SyncState)
	}
	if row.LastError != "apply backend unreachable" {
		t.Errorf("lastError = %q", row.LastError)
	}
}

func TestUpdateDeviceInfo(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	status, err := svc.UpdateDeviceInfo(ctx, "user-1", "device-9", "2.4.1")
	if err != nil {
		t.Fatalf("UpdateDeviceInfo: %v", err)
	}
	if status.DeviceID != "device-9" || status.AppVersion != "2.4.1" {
		t.Errorf("device info = %s/%s", status.DeviceID, status.AppVersion)
	}

	if _, err := svc.UpdateDeviceInfo(ctx, "user-1", "", "2.4.1"); err == nil {
		t.Error("expected error for missing device id")
	}
}

func TestStatusMessage(t *testing.T) {
	svc, repo, queue := newTestService()
	ctx := context.Background()

	queue.pending["user-1"] = 3
	status, _ := svc.GetOrCreate(ctx, "user-1")
	if got := status.StatusMessage(); got != "3 changes pending sync." {
		t.Errorf("message = %q", got)
	}

	repo.rows["user-1"].IsOffline = true
	status, _ = svc.GetOrCreate(ctx, "user-1")
	if got := status.StatusMessage(); got != "You are offline. Changes will sync when you're back online." {
		t.Errorf("message = %q", got)
	}
}

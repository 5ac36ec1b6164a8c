package offline

import (
	"context"
	"testing"
	"time"

	"sync_server/core/port/out"
	"sync_server/pkg/apperr"
)

type fakeCache struct {
	entries map[string]*out.CachedData
	ttls    map[string]time.Duration
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		entries: make(map[string]*out.CachedData),
		ttls:    make(map[string]time.Duration),
	}
}

func key(userID, dataType string) string { return userID + "/" + dataType }

func (f *fakeCache) Get(_ context.Context, userID, dataType string) (*out.CachedData, error) {
	data, ok := f.entries[key(userID, dataType)]
	if !ok {
		return nil, nil
	}
	cp := *data
	return &cp, nil
}

func (f *fakeCache) Put(_ context.Context, data *out.CachedData, ttl time.Duration) error {
	cp := *data
	f.entries[key(data.UserID, data.DataType)] = &cp
	f.ttls[key(data.UserID, data.DataType)] = ttl
	return nil
}

func (f *fakeCache) Exists(_ context.Context, userID, dataType string) (bool, error) {
	_, ok := f.entries[key(userID, dataType)]
	return ok, nil
}

func TestSnapshotRoundTrip(t *testing.T) {
	cache := newFakeCache()
	svc := NewService(cache, time.Hour)
	ctx := context.Background()

	if err := svc.StoreSnapshot(ctx, "user-1", "weather", []byte(`{"temp":31}`)); err != nil {
		t.Fatalf("StoreSnapshot: %v", err)
	}
	if got := cache.ttls[key("user-1", "weather")]; got != time.Hour {
		t.Errorf("ttl = %s, want 1h", got)
	}

	data, err := svc.GetCachedData(ctx, "user-1", "weather")
	if err != nil {
		t.Fatalf("GetCachedData: %v", err)
	}
	if string(data.Data) != `{"temp":31}` {
		t.Errorf("data = %s", data.Data)
	}
	if data.LastFetchedAt.IsZero() {
		t.Error("expected lastFetchedAt stamped")
	}

	exists, err := svc.HasCachedData(ctx, "user-1", "weather")
	if err != nil || !exists {
		t.Errorf("HasCachedData = %v, %v", exists, err)
	}
}

func TestGetCachedData_Missing(t *testing.T) {
	svc := NewService(newFakeCache(), time.Hour)

	_, err := svc.GetCachedData(context.Background(), "user-1", "crops")
	if !apperr.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestUnknownDataTypeRejected(t *testing.T) {
	svc := NewService(newFakeCache(), time.Hour)
	ctx := context.Background()

	if _, err := svc.GetCachedData(ctx, "user-1", "stocks"); err == nil {
		t.Error("expected error for unknown data type on read")
	}
	if err := svc.StoreSnapshot(ctx, "user-1", "stocks", []byte(`{}`)); err == nil {
		t.Error("expected error for unknown data type on write")
	}
	if exists, err := svc.HasCachedData(ctx, "user-1", "stocks"); err != nil || exists {
		t.Errorf("HasCachedData = %v, %v, want false, nil", exists, err)
	}
}

func TestStoreSnapshot_EmptyPayload(t *testing.T) {
	svc := NewService(newFakeCache(), time.Hour)

	if err := svc.StoreSnapshot(context.Background(), "user-1", "weather", nil); err == nil {
		t.Error("expected error for empty payload")
	}
}

package domain

import (
	"testing"
	"time"
)

var allQueueStatuses = []QueueItemStatus{
	QueueStatusPending,
	QueueStatusInProgress,
	QueueStatusCompleted,
	QueueStatusFailed,
}

// TestQueueItemTransitions checks every (from, to) pair against the
// transition table, not just the happy path.
func TestQueueItemTransitions(t *testing.T) {
	allowed := map[QueueItemStatus]map[QueueItemStatus]bool{
		QueueStatusPending:    {QueueStatusInProgress: true},
		QueueStatusInProgress: {QueueStatusCompleted: true, QueueStatusPending: true, QueueStatusFailed: true},
		QueueStatusFailed:     {QueueStatusPending: true},
		QueueStatusCompleted:  {},
	}

	for _, from := range allQueueStatuses {
		for _, to := range allQueueStatuses {
			want := allowed[from][to]
			if got := from.CanTransition(to); got != want {
				t.Errorf("CanTransition(%s -> %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestQueueItemTerminal(t *testing.T) {
	for _, s := range allQueueStatuses {
		want := s == QueueStatusCompleted
		if got := s.IsTerminal(); got != want {
			t.Errorf("IsTerminal(%s) = %v, want %v", s, got, want)
		}
	}
}

func TestQueueItemCanRetry(t *testing.T) {
	tests := []struct {
		name       string
		retryCount int
		max        int
		want       bool
	}{
		{"fresh item", 0, 3, true},
		{"one attempt left", 2, 3, true},
		{"at ceiling", 3, 3, false},
		{"past ceiling", 4, 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := &QueueItem{RetryCount: tt.retryCount}
			if got := item.CanRetry(tt.max); got != tt.want {
				t.Errorf("CanRetry(%d) with count %d = %v, want %v", tt.max, tt.retryCount, got, tt.want)
			}
		})
	}
}

func TestOperationTypeValidity(t *testing.T) {
	for _, op := range []OperationType{OperationCreate, OperationUpdate, OperationDelete} {
		if !op.IsValid() {
			t.Errorf("IsValid(%s) = false, want true", op)
		}
	}
	if OperationType("UPSERT").IsValid() {
		t.Error("IsValid(UPSERT) = true, want false")
	}
}

func TestConflictStatusResolved(t *testing.T) {
	if ConflictStatusPending.IsResolved() {
		t.Error("PENDING must not count as resolved")
	}
	if !ConflictStatusAutoResolved.IsResolved() || !ConflictStatusManuallyResolved.IsResolved() {
		t.Error("resolved statuses must count as resolved")
	}
}

// TestLastWriteWins pins the tie-break: an exact timestamp tie goes to the
// remote version.
func TestLastWriteWins(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		local     time.Time
		remote    time.Time
		wantLocal bool
		wantSide  string
	}{
		{"local newer", base.Add(time.Second), base, true, "local"},
		{"remote newer", base, base.Add(time.Second), false, "remote"},
		{"exact tie", base, base, false, "remote"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &SyncConflict{LocalTimestamp: tt.local, RemoteTimestamp: tt.remote}
			if got := c.LocalIsNewer(); got != tt.wantLocal {
				t.Errorf("LocalIsNewer() = %v, want %v", got, tt.wantLocal)
			}
			if got := c.NewerVersion(); got != tt.wantSide {
				t.Errorf("NewerVersion() = %q, want %q", got, tt.wantSide)
			}
		})
	}
}

func TestOfflineDuration(t *testing.T) {
	online := &SyncStatus{IsOffline: false, OfflineSince: time.Now().Add(-time.Hour)}
	if online.OfflineDuration() != 0 {
		t.Error("online user must report zero offline duration")
	}

	offline := &SyncStatus{IsOffline: true, OfflineSince: time.Now().Add(-time.Minute)}
	if d := offline.OfflineDuration(); d < 50*time.Second || d > 2*time.Minute {
		t.Errorf("OfflineDuration() = %v, want around one minute", d)
	}
}

func TestStatusMessage(t *testing.T) {
	tests := []struct {
		name   string
		status SyncStatus
		want   string
	}{
		{
			"offline overrides state",
			SyncStatus{IsOffline: true, SyncState: SyncStateSyncing, PendingChanges: 3},
			"You are offline. Changes will sync when you're back online.",
		},
		{
			"syncing with count",
			SyncStatus{SyncState: SyncStateSyncing, PendingChanges: 2},
			"Syncing 2 pending changes...",
		},
		{
			"error with detail",
			SyncStatus{SyncState: SyncStateError, LastError: "apply backend unreachable"},
			"Sync error: apply backend unreachable",
		},
		{
			"idle with pending",
			SyncStatus{SyncState: SyncStateIdle, PendingChanges: 5},
			"5 changes pending sync.",
		},
		{
			"all synced",
			SyncStatus{SyncState: SyncStateIdle},
			"All data is synced.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.StatusMessage(); got != tt.want {
				t.Errorf("StatusMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

package worker

import (
	"testing"
	"time"
)

func TestNewMessage(t *testing.T) {
	msg := NewMessage(JobSyncUser, map[string]any{"user_id": "farmer-1"})

	if msg.ID == "" {
		t.Error("message must get an id")
	}
	if msg.Type != JobSyncUser {
		t.Errorf("Type = %q, want %q", msg.Type, JobSyncUser)
	}
	if msg.Priority != PriorityNormal {
		t.Errorf("Priority = %d, want %d", msg.Priority, PriorityNormal)
	}
	if msg.IsPriority() {
		t.Error("normal message must not be priority")
	}
}

func TestPriorityMessage(t *testing.T) {
	tests := []struct {
		priority Priority
		want     bool
	}{
		{PriorityLow, false},
		{PriorityNormal, false},
		{PriorityHigh, true},
		{PriorityCritical, true},
	}

	for _, tt := range tests {
		msg := NewPriorityMessage(JobRetrySweep, nil, tt.priority)
		if got := msg.IsPriority(); got != tt.want {
			t.Errorf("IsPriority() at priority %d = %v, want %v", tt.priority, got, tt.want)
		}
	}
}

func TestParsePayload(t *testing.T) {
	msg := NewMessage(JobSyncUser, map[string]any{
		"user_id": "farmer-1",
		"reason":  "schedule",
	})

	payload, err := ParsePayload[SyncUserPayload](msg)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if payload.UserID != "farmer-1" {
		t.Errorf("UserID = %q, want farmer-1", payload.UserID)
	}
	if payload.Reason != "schedule" {
		t.Errorf("Reason = %q, want schedule", payload.Reason)
	}
}

func TestParsePayload_MissingFields(t *testing.T) {
	msg := NewMessage(JobQueuePurge, map[string]any{})

	payload, err := ParsePayload[QueuePurgePayload](msg)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if payload.OlderThanHours != 0 {
		t.Errorf("OlderThanHours = %d, want zero value", payload.OlderThanHours)
	}
}

func TestTokenBucket(t *testing.T) {
	tb := NewTokenBucket(3, time.Hour) // no refill within the test window

	for i := 0; i < 3; i++ {
		if !tb.Allow() {
			t.Fatalf("request %d should pass", i+1)
		}
	}
	if tb.Allow() {
		t.Error("bucket exhausted, request should be rejected")
	}
}

func TestTokenBucketRefill(t *testing.T) {
	tb := NewTokenBucket(2, 10*time.Millisecond)

	tb.Allow()
	tb.Allow()
	if tb.Allow() {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(25 * time.Millisecond)

	if !tb.Allow() {
		t.Error("bucket should refill after the interval")
	}
}

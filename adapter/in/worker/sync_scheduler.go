package worker

import (
	"context"
	"time"

	"sync_server/core/port/out"
	"sync_server/core/service/dispatch"
	"sync_server/core/service/queue"
	"sync_server/pkg/logger"
)

// =============================================================================
// DispatchScheduler
// =============================================================================
//
// Periodically finds users with pending queue items and fans a sync.user job
// out per user. With a trigger producer the jobs go through the Redis stream
// so any worker node can pick them up; without one they run inline.

type DispatchScheduler struct {
	queueSvc      *queue.Service
	dispatchSvc   *dispatch.Service
	producer      out.TriggerProducer
	checkInterval time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewDispatchScheduler creates a new dispatch scheduler.
func NewDispatchScheduler(
	queueSvc *queue.Service,
	dispatchSvc *dispatch.Service,
	producer out.TriggerProducer,
	interval time.Duration,
) *DispatchScheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DispatchScheduler{
		queueSvc:      queueSvc,
		dispatchSvc:   dispatchSvc,
		producer:      producer,
		checkInterval: interval,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start starts the dispatch scheduler.
func (s *DispatchScheduler) Start() {
	logger.Info("[DispatchScheduler] Starting with interval %v", s.checkInterval)
	go s.run()
}

// Stop stops the dispatch scheduler.
func (s *DispatchScheduler) Stop() {
	logger.Info("[DispatchScheduler] Stopping...")
	s.cancel()
}

func (s *DispatchScheduler) run() {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.sweep()

	for {
		select {
		case <-s.ctx.Done():
			logger.Info("[DispatchScheduler] Stopped")
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *DispatchScheduler) sweep() {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Minute)
	defer cancel()

	users, err := s.queueSvc.UsersWithPending(ctx)
	if err != nil {
		logger.Error("[DispatchScheduler] Failed to list users with pending items: %v", err)
		return
	}
	if len(users) == 0 {
		return
	}

	logger.Info("[DispatchScheduler] Found %d users with pending items", len(users))

	for _, userID := range users {
		if s.producer != nil {
			job := &out.SyncUserJob{UserID: userID, Reason: "schedule"}
			if err := s.producer.PublishSyncUser(ctx, job); err != nil {
				logger.Error("[DispatchScheduler] Failed to publish sync job for user %s: %v", userID, err)
			}
			continue
		}

		// No stream available, run the cycle inline.
		if _, err := s.dispatchSvc.SyncUser(ctx, userID); err != nil {
			logger.Error("[DispatchScheduler] Inline sync failed for user %s: %v", userID, err)
		}
	}
}

// =============================================================================
// RetrySweepScheduler
// =============================================================================
//
// FAILED items never re-enter dispatch on their own. This scheduler is the
// path back: it periodically requeues FAILED items still under the retry
// ceiling.

type RetrySweepScheduler struct {
	dispatchSvc   *dispatch.Service
	checkInterval time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewRetrySweepScheduler creates a new retry sweep scheduler.
func NewRetrySweepScheduler(dispatchSvc *dispatch.Service, interval time.Duration) *RetrySweepScheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RetrySweepScheduler{
		dispatchSvc:   dispatchSvc,
		checkInterval: interval,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start starts the retry sweep scheduler.
func (s *RetrySweepScheduler) Start() {
	logger.Info("[RetrySweepScheduler] Starting with interval %v", s.checkInterval)
	go s.run()
}

// Stop stops the retry sweep scheduler.
func (s *RetrySweepScheduler) Stop() {
	logger.Info("[RetrySweepScheduler] Stopping...")
	s.cancel()
}

func (s *RetrySweepScheduler) run() {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			logger.Info("[RetrySweepScheduler] Stopped")
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
			requeued, err := s.dispatchSvc.RetryFailedItems(ctx)
			cancel()
			if err != nil {
				logger.Error("[RetrySweepScheduler] Sweep failed: %v", err)
				continue
			}
			if requeued > 0 {
				logger.Info("[RetrySweepScheduler] Requeued %d failed items", requeued)
			}
		}
	}
}

// =============================================================================
// PurgeScheduler
// =============================================================================
//
// COMPLETED items are kept for a retention window so clients can inspect
// recent history, then dropped.

type PurgeScheduler struct {
	queueSvc      *queue.Service
	checkInterval time.Duration
	retention     time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewPurgeScheduler creates a new purge scheduler.
func NewPurgeScheduler(queueSvc *queue.Service, interval, retention time.Duration) *PurgeScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if retention <= 0 {
		retention = 72 * time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PurgeScheduler{
		queueSvc:      queueSvc,
		checkInterval: interval,
		retention:     retention,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start starts the purge scheduler.
func (s *PurgeScheduler) Start() {
	logger.Info("[PurgeScheduler] Starting with interval %v, retention %v", s.checkInterval, s.retention)
	go s.run()
}

// Stop stops the purge scheduler.
func (s *PurgeScheduler) Stop() {
	logger.Info("[PurgeScheduler] Stopping...")
	s.cancel()
}

func (s *PurgeScheduler) run() {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			logger.Info("[PurgeScheduler] Stopped")
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
			purged, err := s.queueSvc.PurgeCompleted(ctx, time.Now().Add(-s.retention))
			cancel()
			if err != nil {
				logger.Error("[PurgeScheduler] Purge failed: %v", err)
				continue
			}
			if purged > 0 {
				logger.Info("[PurgeScheduler] Purged %d completed items", purged)
			}
		}
	}
}

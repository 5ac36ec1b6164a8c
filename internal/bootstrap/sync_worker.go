package bootstrap

import (
	"context"
	"os"
	"sync"

	"github.com/goccy/go-json"

	"sync_server/adapter/in/worker"
	"sync_server/adapter/out/messaging"
	"sync_server/config"
	"sync_server/pkg/logger"

	"github.com/rs/zerolog"
)

type Worker struct {
	pool     *worker.Pool
	consumer *messaging.Consumer
	deps     *Dependencies
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	zlog     zerolog.Logger

	dispatchScheduler   *worker.DispatchScheduler
	retrySweepScheduler *worker.RetrySweepScheduler
	purgeScheduler      *worker.PurgeScheduler
}

func NewWorker(cfg *config.Config, deps *Dependencies) *Worker {
	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Str("component", "worker").Logger()

	syncProcessor := worker.NewSyncProcessor(deps.DispatchService, deps.QueueService)
	handler := worker.NewHandler(syncProcessor)

	pool := worker.NewPool(handler, worker.DefaultPoolConfig(), zlog)

	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		pool:   pool,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		zlog:   zlog,
	}

	if cfg.SchedulerEnabled {
		w.dispatchScheduler = worker.NewDispatchScheduler(
			deps.QueueService,
			deps.DispatchService,
			deps.Producer,
			cfg.SyncInterval,
		)
		w.retrySweepScheduler = worker.NewRetrySweepScheduler(deps.DispatchService, cfg.RetrySweep)
		w.purgeScheduler = worker.NewPurgeScheduler(deps.QueueService, cfg.PurgeInterval, cfg.PurgeRetention)
		logger.Info("Sync schedulers configured (dispatch, retry sweep, purge)")
	}

	// Redis Stream consumer, only when Redis is configured
	if deps.Redis != nil {
		w.consumer = messaging.NewConsumer(deps.Redis, &messaging.ConsumerConfig{
			Group:    "sync-workers",
			Consumer: cfg.NodeID,
			Streams:  []string{messaging.StreamSyncUser},
			Handler:  &streamHandler{worker: w},
			Logger:   zlog,
		})
		logger.Info("Redis Stream Consumer configured for %s", messaging.StreamSyncUser)
	} else {
		logger.Warn("Redis not available, sync cycles run inline from the scheduler")
	}

	return w
}

// streamHandler adapts Redis Stream messages to the worker pool.
type streamHandler struct {
	worker *Worker
}

func (h *streamHandler) Handle(ctx context.Context, stream string, data []byte) error {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		logger.Error("[StreamHandler] Failed to parse payload from %s: %v", stream, err)
		return err
	}

	msg := worker.NewMessage(streamToJobType(stream), payload)
	if !h.worker.pool.Submit(msg) {
		logger.Error("[StreamHandler] Failed to submit job to pool: %s", msg.Type)
	}
	return nil
}

func streamToJobType(stream string) string {
	switch stream {
	case messaging.StreamSyncUser:
		return worker.JobSyncUser
	default:
		return stream
	}
}

func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pool.Start()
	}()

	if w.consumer != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.zlog.Info().Msg("Starting Redis Stream Consumer...")
			if err := w.consumer.Run(w.ctx); err != nil && err != context.Canceled {
				w.zlog.Error().Err(err).Msg("Redis Stream Consumer error")
			}
		}()
	}

	if w.dispatchScheduler != nil {
		w.dispatchScheduler.Start()
		w.zlog.Info().Msg("Started Dispatch Scheduler")
	}
	if w.retrySweepScheduler != nil {
		w.retrySweepScheduler.Start()
		w.zlog.Info().Msg("Started Retry Sweep Scheduler")
	}
	if w.purgeScheduler != nil {
		w.purgeScheduler.Start()
		w.zlog.Info().Msg("Started Purge Scheduler")
	}

	<-w.ctx.Done()
}

func (w *Worker) Stop() {
	w.cancel()

	if w.dispatchScheduler != nil {
		w.dispatchScheduler.Stop()
	}
	if w.retrySweepScheduler != nil {
		w.retrySweepScheduler.Stop()
	}
	if w.purgeScheduler != nil {
		w.purgeScheduler.Stop()
	}

	w.pool.Stop()
	w.wg.Wait()
}

func (w *Worker) Submit(msg *worker.Message) bool {
	if msg.IsPriority() {
		return w.pool.SubmitPriority(msg)
	}
	return w.pool.Submit(msg)
}

func (w *Worker) GetMetrics() worker.PoolMetrics {
	return w.pool.GetMetrics()
}

func (w *Worker) Dependencies() *Dependencies {
	return w.deps
}

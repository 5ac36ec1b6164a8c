package worker

import (
	"context"

	"sync_server/pkg/logger"

	"github.com/goccy/go-json"
)

type Handler struct {
	syncProcessor *SyncProcessor
}

func NewHandler(syncProcessor *SyncProcessor) *Handler {
	return &Handler{
		syncProcessor: syncProcessor,
	}
}

func (h *Handler) Process(ctx context.Context, msg *Message) error {
	logger.Debug("Processing message: %s", msg.Type)

	switch msg.Type {
	case JobSyncUser:
		return h.syncProcessor.ProcessSyncUser(ctx, msg)
	case JobRetrySweep:
		return h.syncProcessor.ProcessRetrySweep(ctx, msg)
	case JobQueuePurge:
		return h.syncProcessor.ProcessQueuePurge(ctx, msg)
	default:
		logger.Warn("Unknown job type: %s", msg.Type)
		return nil
	}
}

func ParsePayload[T any](msg *Message) (*T, error) {
	var payload T
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

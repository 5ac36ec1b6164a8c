package http

import (
	"time"

	"sync_server/core/domain"
	"sync_server/core/service/conflict"
	"sync_server/core/service/dispatch"
	"sync_server/core/service/offline"
	"sync_server/core/service/queue"
	"sync_server/core/service/status"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
)

// SyncHandler handles HTTP requests for the sync subsystem
type SyncHandler struct {
	queueSvc    *queue.Service
	statusSvc   *status.Service
	conflictSvc *conflict.Service
	dispatchSvc *dispatch.Service
	offlineSvc  *offline.Service
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(
	queueSvc *queue.Service,
	statusSvc *status.Service,
	conflictSvc *conflict.Service,
	dispatchSvc *dispatch.Service,
	offlineSvc *offline.Service,
) *SyncHandler {
	return &SyncHandler{
		queueSvc:    queueSvc,
		statusSvc:   statusSvc,
		conflictSvc: conflictSvc,
		dispatchSvc: dispatchSvc,
		offlineSvc:  offlineSvc,
	}
}

// Register registers sync routes
func (h *SyncHandler) Register(router fiber.Router) {
	sync := router.Group("/sync")

	// Queue
	sync.Post("/queue", h.QueueRequest)
	sync.Get("/queue", h.GetPendingItems)
	sync.Delete("/queue", h.ClearCompleted)
	sync.Delete("/queue/pending", h.CancelPending)
	sync.Delete("/queue/:id", h.DeleteQueueItem)

	// Status
	sync.Get("/status", h.GetStatus)
	sync.Post("/offline", h.EnterOffline)
	sync.Post("/online", h.ExitOffline)
	sync.Put("/device", h.UpdateDeviceInfo)

	// Dispatch
	sync.Post("/trigger", h.TriggerSync)
	sync.Get("/reports", h.GetRecentReports)

	// Conflicts
	sync.Get("/conflicts", h.GetPendingConflicts)
	sync.Get("/conflicts/all", h.GetAllConflicts)
	sync.Get("/conflicts/:id", h.GetConflict)
	sync.Post("/conflicts/:id/resolve/timestamp", h.ResolveByTimestamp)
	sync.Post("/conflicts/:id/resolve", h.ResolveManually)
	sync.Post("/conflicts/auto-resolve-all", h.AutoResolveAll)

	// Offline data
	sync.Get("/offline-data/:dataType", h.GetOfflineData)
	sync.Head("/offline-data/:dataType", h.HeadOfflineData)
	sync.Put("/offline-data/:dataType", h.PutOfflineData)
}

// =============================================================================
// Queue
// =============================================================================

// QueueRequest queues one client mutation for sync.
func (h *SyncHandler) QueueRequest(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}

	var req queue.Request
	if err := c.BodyParser(&req); err != nil {
		return ErrorResponse(c, 400, "invalid request body")
	}

	item, err := h.queueSvc.QueueRequest(c.Context(), userID, &req)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return CreatedResponse(c, item)
}

// GetPendingItems returns the user's pending items in FIFO order.
func (h *SyncHandler) GetPendingItems(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}

	items, err := h.queueSvc.GetPendingItems(c.Context(), userID)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.Map{
		"items": items,
		"count": len(items),
	})
}

// ClearCompleted deletes the user's completed queue items.
func (h *SyncHandler) ClearCompleted(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}

	count, err := h.queueSvc.ClearCompletedItems(c.Context(), userID)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.Map{"cleared": count})
}

// CancelPending drops all of the user's pending items.
func (h *SyncHandler) CancelPending(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}

	count, err := h.queueSvc.CancelPending(c.Context(), userID)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.Map{"cancelled": count})
}

// DeleteQueueItem deletes a single queue item owned by the user.
func (h *SyncHandler) DeleteQueueItem(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	id, err := ParamID(c, "id")
	if err != nil {
		return AppErrorResponse(c, err)
	}

	if err := h.queueSvc.DeleteItem(c.Context(), userID, id); err != nil {
		return AppErrorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// =============================================================================
// Status
// =============================================================================

type statusResponse struct {
	UserID           string    `json:"user_id"`
	SyncState        string    `json:"sync_state"`
	PendingChanges   int       `json:"pending_changes"`
	PendingConflicts int       `json:"pending_conflicts"`
	IsOffline        bool      `json:"is_offline"`
	OfflineSeconds   int64     `json:"offline_seconds,omitempty"`
	LastSyncAt       time.Time `json:"last_sync_at,omitempty"`
	LastError        string    `json:"last_error,omitempty"`
	DeviceID         string    `json:"device_id,omitempty"`
	AppVersion       string    `json:"app_version,omitempty"`
	Message          string    `json:"message"`
}

// GetStatus returns the user's sync status read model.
func (h *SyncHandler) GetStatus(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}

	st, err := h.statusSvc.GetOrCreate(c.Context(), userID)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	conflicts, err := h.conflictSvc.CountPending(c.Context(), userID)
	if err != nil {
		return AppErrorResponse(c, err)
	}

	return SuccessResponse(c, statusResponse{
		UserID:           st.UserID,
		SyncState:        string(st.SyncState),
		PendingChanges:   st.PendingChanges,
		PendingConflicts: conflicts,
		IsOffline:        st.IsOffline,
		OfflineSeconds:   int64(st.OfflineDuration().Seconds()),
		LastSyncAt:       st.LastSyncAt,
		LastError:        st.LastError,
		DeviceID:         st.DeviceID,
		AppVersion:       st.AppVersion,
		Message:          st.StatusMessage(),
	})
}

// EnterOffline marks the user offline.
func (h *SyncHandler) EnterOffline(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}

	st, err := h.statusSvc.EnterOfflineMode(c.Context(), userID)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, st)
}

// ExitOffline clears the offline flag and schedules a sync.
func (h *SyncHandler) ExitOffline(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}

	st, err := h.statusSvc.ExitOfflineMode(c.Context(), userID)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, st)
}

type deviceInfoRequest struct {
	DeviceID   string `json:"device_id"`
	AppVersion string `json:"app_version"`
}

// UpdateDeviceInfo records the reporting device and app version.
func (h *SyncHandler) UpdateDeviceInfo(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}

	var req deviceInfoRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrorResponse(c, 400, "invalid request body")
	}

	st, err := h.statusSvc.UpdateDeviceInfo(c.Context(), userID, req.DeviceID, req.AppVersion)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, st)
}

// =============================================================================
// Dispatch
// =============================================================================

// TriggerSync runs a dispatch cycle for the user synchronously.
func (h *SyncHandler) TriggerSync(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}

	result, err := h.dispatchSvc.SyncUser(c.Context(), userID)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, result)
}

// GetRecentReports returns the user's recent cycle reports.
func (h *SyncHandler) GetRecentReports(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}

	reports, err := h.dispatchSvc.RecentReports(c.Context(), userID, c.QueryInt("limit", 20))
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.Map{"reports": reports})
}

// =============================================================================
// Conflicts
// =============================================================================

// GetPendingConflicts returns the user's unresolved conflicts.
func (h *SyncHandler) GetPendingConflicts(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}

	conflicts, err := h.conflictSvc.GetPendingConflicts(c.Context(), userID)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.Map{
		"conflicts": conflicts,
		"count":     len(conflicts),
	})
}

// GetAllConflicts returns the user's full conflict history.
func (h *SyncHandler) GetAllConflicts(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}

	conflicts, err := h.conflictSvc.GetAllConflicts(c.Context(), userID)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.Map{
		"conflicts": conflicts,
		"count":     len(conflicts),
	})
}

// GetConflict returns one of the user's conflicts by id.
func (h *SyncHandler) GetConflict(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	id, err := ParamID(c, "id")
	if err != nil {
		return AppErrorResponse(c, err)
	}

	conflictRecord, err := h.conflictSvc.GetConflict(c.Context(), userID, id)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, conflictRecord)
}

// ResolveByTimestamp auto-resolves a conflict by last-write-wins.
func (h *SyncHandler) ResolveByTimestamp(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	id, err := ParamID(c, "id")
	if err != nil {
		return AppErrorResponse(c, err)
	}

	resolved, err := h.conflictSvc.ResolveByTimestamp(c.Context(), userID, id)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, resolved)
}

type manualResolveRequest struct {
	Strategy     string          `json:"strategy"`
	ResolvedData json.RawMessage `json:"resolved_data,omitempty"`
}

// ResolveManually stamps a user-chosen resolution onto a conflict.
func (h *SyncHandler) ResolveManually(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	id, err := ParamID(c, "id")
	if err != nil {
		return AppErrorResponse(c, err)
	}

	var req manualResolveRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrorResponse(c, 400, "invalid request body")
	}

	resolved, err := h.conflictSvc.ResolveManually(c.Context(), userID, id, &conflict.ManualResolution{
		Strategy:     domainStrategy(req.Strategy),
		ResolvedData: req.ResolvedData,
		ResolvedBy:   userID,
	})
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, resolved)
}

func domainStrategy(s string) domain.ResolutionStrategy {
	return domain.ResolutionStrategy(s)
}

// AutoResolveAll runs timestamp resolution over all pending conflicts.
func (h *SyncHandler) AutoResolveAll(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}

	resolved, err := h.conflictSvc.AutoResolveAll(c.Context(), userID)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.Map{"resolved": resolved})
}

// =============================================================================
// Offline data
// =============================================================================

// GetOfflineData returns a cached data snapshot for offline reads.
func (h *SyncHandler) GetOfflineData(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}

	data, err := h.offlineSvc.GetCachedData(c.Context(), userID, c.Params("dataType"))
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, data)
}

// HeadOfflineData reports snapshot existence without shipping the payload.
func (h *SyncHandler) HeadOfflineData(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}

	exists, err := h.offlineSvc.HasCachedData(c.Context(), userID, c.Params("dataType"))
	if err != nil {
		return AppErrorResponse(c, err)
	}
	if !exists {
		return c.SendStatus(fiber.StatusNotFound)
	}
	return c.SendStatus(fiber.StatusOK)
}

type offlineDataRequest struct {
	Data json.RawMessage `json:"data"`
}

// PutOfflineData stores a fresh snapshot for offline reads.
func (h *SyncHandler) PutOfflineData(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}

	var req offlineDataRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrorResponse(c, 400, "invalid request body")
	}

	if err := h.offlineSvc.StoreSnapshot(c.Context(), userID, c.Params("dataType"), req.Data); err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.Map{"cached": true})
}

package handler

import (
	"encoding/json"
	"net/http"

	"reclock/internal/locks/service"
	httputil "reclock/pkg/http"
	"reclock/pkg/logger"
	"reclock/pkg/model"

	"github.com/julienschmidt/httprouter"
)

type LockHandler struct {
	service service.LockService
	log     *logger.Logger
}

func NewLockHandler(service service.LockService, log *logger.Logger) *LockHandler {
	return &LockHandler{
		service: service,
		log:     log,
	}
}

func (h *LockHandler) Acquire(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req model.AcquireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeBadBody(w, "Acquire")
		return
	}

	result, err := h.service.Acquire(r.Context(), &req)
	if err != nil {
		h.writeError(w, "Acquire", err)
		return
	}

	if result.Conflict {
		// A conflict is a normal outcome with the holder snapshot attached.
		if writeErr := httputil.WriteJSON(w, http.StatusConflict, result); writeErr != nil {
			h.log.Error("failed to write conflict response", "handler", "Acquire", "operation", "WriteJSON", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, result); err != nil {
		h.log.Error("failed to write success response", "handler", "Acquire", "operation", "WriteSuccess", "error", err)
	}
}

func (h *LockHandler) Release(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req model.ReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeBadBody(w, "Release")
		return
	}

	result, err := h.service.Release(r.Context(), &req)
	if err != nil {
		h.writeError(w, "Release", err)
		return
	}

	if err := httputil.WriteSuccess(w, result); err != nil {
		h.log.Error("failed to write success response", "handler", "Release", "operation", "WriteSuccess", "error", err)
	}
}

func (h *LockHandler) ReleaseByID(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")

	var req model.ReleaseByIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeBadBody(w, "ReleaseByID")
		return
	}

	result, err := h.service.ReleaseByID(r.Context(), id, &req)
	if err != nil {
		h.writeError(w, "ReleaseByID", err)
		return
	}

	if err := httputil.WriteSuccess(w, result); err != nil {
		h.log.Error("failed to write success response", "handler", "ReleaseByID", "operation", "WriteSuccess", "error", err)
	}
}

func (h *LockHandler) ForceRelease(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")

	var req model.ForceReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeBadBody(w, "ForceRelease")
		return
	}

	result, err := h.service.ForceRelease(r.Context(), id, &req)
	if err != nil {
		h.writeError(w, "ForceRelease", err)
		return
	}

	if err := httputil.WriteSuccess(w, result); err != nil {
		h.log.Error("failed to write success response", "handler", "ForceRelease", "operation", "WriteSuccess", "error", err)
	}
}

func (h *LockHandler) ReleaseAllForUser(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	userID := ps.ByName("user_id")

	result, err := h.service.ReleaseAllForUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, "ReleaseAllForUser", err)
		return
	}

	if err := httputil.WriteSuccess(w, result); err != nil {
		h.log.Error("failed to write success response", "handler", "ReleaseAllForUser", "operation", "WriteSuccess", "error", err)
	}
}

func (h *LockHandler) ReleaseAllForSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sessionID := ps.ByName("session_id")

	result, err := h.service.ReleaseAllForSession(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, "ReleaseAllForSession", err)
		return
	}

	if err := httputil.WriteSuccess(w, result); err != nil {
		h.log.Error("failed to write success response", "handler", "ReleaseAllForSession", "operation", "WriteSuccess", "error", err)
	}
}

func (h *LockHandler) Heartbeat(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req model.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeBadBody(w, "Heartbeat")
		return
	}

	result, err := h.service.Heartbeat(r.Context(), &req)
	if err != nil {
		h.writeError(w, "Heartbeat", err)
		return
	}

	if err := httputil.WriteSuccess(w, result); err != nil {
		h.log.Error("failed to write success response", "handler", "Heartbeat", "operation", "WriteSuccess", "error", err)
	}
}

func (h *LockHandler) HeartbeatAll(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req model.HeartbeatAllRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeBadBody(w, "HeartbeatAll")
		return
	}

	result, err := h.service.HeartbeatAll(r.Context(), &req)
	if err != nil {
		h.writeError(w, "HeartbeatAll", err)
		return
	}

	if err := httputil.WriteSuccess(w, result); err != nil {
		h.log.Error("failed to write success response", "handler", "HeartbeatAll", "operation", "WriteSuccess", "error", err)
	}
}

func (h *LockHandler) Check(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	query := r.URL.Query()
	entityType := query.Get("entity_type")
	entityID := query.Get("entity_id")
	userID := query.Get("user_id")

	if entityType == "" || entityID == "" {
		if writeErr := httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{
			Error: "Both 'entity_type' and 'entity_id' query parameters are required",
		}); writeErr != nil {
			h.log.Error("failed to write JSON response", "handler", "Check", "operation", "WriteJSON", "error", writeErr)
		}
		return
	}

	result, err := h.service.CheckLock(r.Context(), entityType, entityID, userID)
	if err != nil {
		h.writeError(w, "Check", err)
		return
	}

	if err := httputil.WriteSuccess(w, result); err != nil {
		h.log.Error("failed to write success response", "handler", "Check", "operation", "WriteSuccess", "error", err)
	}
}

func (h *LockHandler) GetUserLocks(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	userID := ps.ByName("user_id")

	result, err := h.service.GetUserLocks(r.Context(), userID)
	if err != nil {
		h.writeError(w, "GetUserLocks", err)
		return
	}

	if err := httputil.WriteSuccess(w, result); err != nil {
		h.log.Error("failed to write success response", "handler", "GetUserLocks", "operation", "WriteSuccess", "error", err)
	}
}

func (h *LockHandler) GetAll(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	result, err := h.service.GetAllActiveLocks(r.Context())
	if err != nil {
		h.writeError(w, "GetAll", err)
		return
	}

	if err := httputil.WriteSuccess(w, result); err != nil {
		h.log.Error("failed to write success response", "handler", "GetAll", "operation", "WriteSuccess", "error", err)
	}
}

func (h *LockHandler) GetStatistics(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	stats, err := h.service.GetStatistics(r.Context())
	if err != nil {
		h.writeError(w, "GetStatistics", err)
		return
	}

	if err := httputil.WriteSuccess(w, stats); err != nil {
		h.log.Error("failed to write success response", "handler", "GetStatistics", "operation", "WriteSuccess", "error", err)
	}
}

func (h *LockHandler) GetEntityTypes(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	types := model.EntityTypes()
	values := make([]model.EnumValue, 0, len(types))
	for _, t := range types {
		values = append(values, model.EnumValue{Value: string(t), Label: t.Label()})
	}

	if err := httputil.WriteSuccess(w, values); err != nil {
		h.log.Error("failed to write success response", "handler", "GetEntityTypes", "operation", "WriteSuccess", "error", err)
	}
}

func (h *LockHandler) GetModes(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	modes := model.LockModes()
	values := make([]model.EnumValue, 0, len(modes))
	for _, m := range modes {
		values = append(values, model.EnumValue{Value: string(m), Label: m.Label()})
	}

	if err := httputil.WriteSuccess(w, values); err != nil {
		h.log.Error("failed to write success response", "handler", "GetModes", "operation", "WriteSuccess", "error", err)
	}
}

func (h *LockHandler) writeBadBody(w http.ResponseWriter, handler string) {
	if writeErr := httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{
		Error: "Invalid request body",
	}); writeErr != nil {
		h.log.Error("failed to write JSON response", "handler", handler, "operation", "WriteJSON", "error", writeErr)
	}
}

func (h *LockHandler) writeError(w http.ResponseWriter, handler string, err error) {
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.Error("failed to write error response", "handler", handler, "operation", "WriteError", "error", writeErr)
	}
}

func (h *LockHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/locks/acquire", h.Acquire)
	router.POST("/api/v1/locks/release", h.Release)
	router.POST("/api/v1/locks/id/:id/release", h.ReleaseByID)
	router.POST("/api/v1/locks/id/:id/force-release", h.ForceRelease)
	router.POST("/api/v1/locks/user/:user_id/release-all", h.ReleaseAllForUser)
	router.POST("/api/v1/locks/session/:session_id/release-all", h.ReleaseAllForSession)
	router.POST("/api/v1/locks/heartbeat", h.Heartbeat)
	router.POST("/api/v1/locks/heartbeat-all", h.HeartbeatAll)
	router.GET("/api/v1/locks", h.GetAll)
	router.GET("/api/v1/locks/check", h.Check)
	router.GET("/api/v1/locks/user/:user_id", h.GetUserLocks)
	router.GET("/api/v1/locks/statistics", h.GetStatistics)
	router.GET("/api/v1/locks/entity-types", h.GetEntityTypes)
	router.GET("/api/v1/locks/modes", h.GetModes)
}

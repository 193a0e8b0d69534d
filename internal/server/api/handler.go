// Package api exposes the sync service over HTTP: one POST and one GET
// endpoint per record category, plus health and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/balli/internal/common"
	"github.com/dmitrijs2005/balli/internal/logging"
	"github.com/dmitrijs2005/balli/internal/server/auth"
	"github.com/dmitrijs2005/balli/internal/server/models"
	"github.com/dmitrijs2005/balli/internal/server/records"
)

// SyncService is the part of records.Service the handlers need.
type SyncService interface {
	Push(ctx context.Context, userID string, category models.Category, recs []models.Record) (records.PushResult, error)
	Pull(ctx context.Context, userID string, category models.Category) ([]models.Record, error)
	Ping(ctx context.Context) error
}

type pushRequest struct {
	UserID  string          `json:"userId"`
	Records []models.Record `json:"records"`
}

type recordsResponse struct {
	Records []models.Record `json:"records"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Handler struct {
	svc     SyncService
	log     logging.Logger
	maxBody int64
}

func NewHandler(svc SyncService, log logging.Logger, maxBody int64) *Handler {
	return &Handler{svc: svc, log: log, maxBody: maxBody}
}

func (h *Handler) push(category models.Category) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.maxBody > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
		}

		var req pushRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "too_large", err.Error())
				return
			}
			writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
			return
		}
		if !h.ownsRequest(w, r, req.UserID) {
			return
		}

		res, err := h.svc.Push(r.Context(), req.UserID, category, req.Records)
		if err != nil {
			h.handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (h *Handler) pull(category models.Category) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userId")
		if !h.ownsRequest(w, r, userID) {
			return
		}

		recs, err := h.svc.Pull(r.Context(), userID, category)
		if err != nil {
			h.handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, recordsResponse{Records: recs})
	}
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ping(r.Context()); err != nil {
		h.log.Warn(r.Context(), "health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "unavailable", "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ownsRequest rejects requests naming a user other than the token's.
func (h *Handler) ownsRequest(w http.ResponseWriter, r *http.Request, userID string) bool {
	if userID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "userId is required")
		return false
	}
	if userID != auth.UserIDFromContext(r.Context()) {
		writeError(w, http.StatusForbidden, "forbidden", "token does not belong to "+userID)
		return false
	}
	return true
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := common.KindOf(err)
	status := statusForKind(kind)
	if status >= 500 {
		h.log.Error(r.Context(), "sync request failed", "path", r.URL.Path, "error", err)
		writeError(w, status, string(kind), "internal error")
		return
	}
	writeError(w, status, string(kind), err.Error())
}

func statusForKind(k common.Kind) int {
	switch k {
	case common.KindValidation:
		return http.StatusBadRequest
	case common.KindAuth:
		return http.StatusUnauthorized
	case common.KindConflict:
		return http.StatusConflict
	case common.KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

package handlers

import (
	"context"
	"net/http"
	"strconv"

	apperrors "github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/errors"
	syncpkg "github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/sync"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/sync/scheduler"
)

// Syncer is the part of the scheduler the sync endpoints drive.
type Syncer interface {
	TriggerSync() bool
	SyncNow(ctx context.Context) (*syncpkg.Result, error)
	GetStatus(ctx context.Context) scheduler.SchedulerStatus
}

// ErrorHistory exposes recent per-record sync failures.
type ErrorHistory interface {
	ErrorHistory() []syncpkg.SyncErrorEntry
}

// SyncHandler handles sync operations.
type SyncHandler struct {
	syncer  Syncer
	online  OnlineChecker
	history ErrorHistory
}

// NewSyncHandler creates a new SyncHandler. history may be nil.
func NewSyncHandler(syncer Syncer, online OnlineChecker, history ErrorHistory) *SyncHandler {
	return &SyncHandler{syncer: syncer, online: online, history: history}
}

// TriggerSync handles POST /sync.
//
// By default the pass runs in the background and 202 is returned. With
// ?wait=true the request blocks until the pass ends and returns its result.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if !h.online.IsOnline() {
		writeError(w, r, apperrors.New(apperrors.ErrConnectivityUnavailable, "device is offline"))
		return
	}

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		if !h.syncer.TriggerSync() {
			writeError(w, r, apperrors.New(apperrors.ErrSyncInProgress, "a sync pass is already running"))
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]interface{}{"started": true})
		return
	}

	result, err := h.syncer.SyncNow(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetStatus handles GET /sync/status
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	response := struct {
		scheduler.SchedulerStatus
		RecentErrors []syncpkg.SyncErrorEntry `json:"recent_errors"`
	}{
		SchedulerStatus: h.syncer.GetStatus(r.Context()),
		RecentErrors:    []syncpkg.SyncErrorEntry{},
	}
	if h.history != nil {
		if errs := h.history.ErrorHistory(); len(errs) > 0 {
			response.RecentErrors = errs
		}
	}
	writeJSON(w, http.StatusOK, response)
}

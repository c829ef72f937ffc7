package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/logging"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/sync/connectivity"
)

// ConnectivityState is the connectivity monitor as seen by the API.
type ConnectivityState interface {
	Status() connectivity.Status
	Set(online bool)
}

// ConnectivityHandler exposes and accepts connectivity reports.
type ConnectivityHandler struct {
	state ConnectivityState
}

// NewConnectivityHandler creates a new ConnectivityHandler.
func NewConnectivityHandler(state ConnectivityState) *ConnectivityHandler {
	return &ConnectivityHandler{state: state}
}

// Get handles GET /connectivity
func (h *ConnectivityHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state.Status())
}

// Report handles POST /connectivity with {"online": bool}. Front ends
// call it from their browser online/offline listeners.
func (h *ConnectivityHandler) Report(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}
	if req.Online == nil {
		badRequest(w, r, "online is required")
		return
	}

	h.state.Set(*req.Online)
	logging.Debug("connectivity reported", map[string]interface{}{"online": *req.Online})
	writeJSON(w, http.StatusOK, h.state.Status())
}

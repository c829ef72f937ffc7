package handlers

import (
	"context"
	"net/http"
	"strconv"

	syncpkg "github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/sync"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 50
)

// NotificationHistory returns recent pass summaries, newest first.
type NotificationHistory interface {
	History(ctx context.Context, limit int) ([]syncpkg.Notification, error)
}

// NotificationHandler serves the notification history to reconnecting UIs.
type NotificationHandler struct {
	history NotificationHistory
}

// NewNotificationHandler creates a new NotificationHandler. A nil history
// serves an empty list.
func NewNotificationHandler(history NotificationHistory) *NotificationHandler {
	return &NotificationHandler{history: history}
}

// List handles GET /notifications?limit=N
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			badRequest(w, r, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	items := []syncpkg.Notification{}
	if h.history != nil {
		got, err := h.history.History(r.Context(), limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if len(got) > 0 {
			items = got
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"total": len(items),
	})
}

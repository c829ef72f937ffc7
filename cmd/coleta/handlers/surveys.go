package handlers

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/logging"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/models"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/notify"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/pending"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/photo"
)

// maxUploadSize bounds a capture request including its photo.
const maxUploadSize = 32 << 20

// SyncTrigger starts a background sync pass.
type SyncTrigger interface {
	TriggerSync() bool
}

// OnlineChecker reports the current connectivity state.
type OnlineChecker interface {
	IsOnline() bool
}

// FailedDiscarder deletes a quarantined survey together with its remote
// leftovers.
type FailedDiscarder interface {
	DiscardFailed(ctx context.Context, id string) error
}

// SurveyHandler handles capture and management of local surveys.
type SurveyHandler struct {
	store     pending.Store
	syncer    SyncTrigger
	online    OnlineChecker
	events    Broadcaster
	discarder FailedDiscarder
}

// NewSurveyHandler creates a new SurveyHandler. events may be nil.
func NewSurveyHandler(store pending.Store, syncer SyncTrigger, online OnlineChecker, events Broadcaster) *SurveyHandler {
	return &SurveyHandler{store: store, syncer: syncer, online: online, events: events}
}

// SetDiscarder routes DELETE /surveys/failed/{id} through d so uploaded
// photos are cleaned up. Without one only the local copy is deleted.
func (h *SurveyHandler) SetDiscarder(d FailedDiscarder) {
	h.discarder = d
}

// surveySummary is the list view of a survey; photo bytes are left out.
type surveySummary struct {
	ID            string          `json:"id"`
	FormData      models.FormData `json:"form_data"`
	CapturedAt    time.Time       `json:"captured_at"`
	AttemptCount  int             `json:"attempt_count"`
	LastError     string          `json:"last_error,omitempty"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	HasPhoto      bool            `json:"has_photo"`
	PhotoSize     int             `json:"photo_size,omitempty"`
	PhotoMimeType string          `json:"photo_mime_type,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	FailedAt      *time.Time      `json:"failed_at,omitempty"`
}

func summarize(s *models.PendingSurvey) surveySummary {
	out := surveySummary{
		ID:            s.ID,
		FormData:      s.FormData,
		CapturedAt:    s.CapturedAt,
		AttemptCount:  s.AttemptCount,
		LastError:     s.LastError,
		LastAttemptAt: s.LastAttemptAt,
		HasPhoto:      s.HasPhoto(),
	}
	if out.HasPhoto {
		out.PhotoSize = s.Photo.Size()
		out.PhotoMimeType = s.Photo.MimeType
	}
	return out
}

type createSurveyRequest struct {
	FormData models.FormData `json:"form_data"`
	Photo    *struct {
		Data     []byte `json:"data"`
		MimeType string `json:"mime_type"`
	} `json:"photo"`
}

// Create handles POST /surveys.
//
// The body is either JSON ({"form_data": {...}, "photo": {"data": base64,
// "mime_type": "image/jpeg"}}) or multipart with a form_data field holding
// the JSON object and an optional photo file. The survey is always saved
// locally first; a sync pass is started when the device is online.
func (h *SurveyHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	var (
		formData models.FormData
		blob     *models.PhotoBlob
		ok       bool
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		formData, blob, ok = h.parseMultipart(w, r)
	} else {
		formData, blob, ok = h.parseJSON(w, r)
	}
	if !ok {
		return
	}

	id, err := h.store.Save(r.Context(), formData, blob)
	if err != nil {
		writeError(w, r, err)
		return
	}

	logging.Info("survey captured", map[string]interface{}{
		"id":        id,
		"has_photo": blob != nil,
	})
	if h.events != nil {
		h.events.Broadcast(notify.EventSurveyCaptured, map[string]interface{}{"id": id})
	}

	triggered := false
	if h.online != nil && h.online.IsOnline() && h.syncer != nil {
		triggered = h.syncer.TriggerSync()
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":             id,
		"sync_triggered": triggered,
	})
}

func (h *SurveyHandler) parseJSON(w http.ResponseWriter, r *http.Request) (models.FormData, *models.PhotoBlob, bool) {
	var req createSurveyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "invalid request body")
		return nil, nil, false
	}
	if req.FormData == nil {
		badRequest(w, r, "form_data is required")
		return nil, nil, false
	}

	var blob *models.PhotoBlob
	if req.Photo != nil && len(req.Photo.Data) > 0 {
		blob = &models.PhotoBlob{Data: req.Photo.Data, MimeType: req.Photo.MimeType}
		if blob.MimeType == "" {
			blob.MimeType = photo.DetectMIME(blob.Data)
		}
	}
	return req.FormData, blob, true
}

func (h *SurveyHandler) parseMultipart(w http.ResponseWriter, r *http.Request) (models.FormData, *models.PhotoBlob, bool) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		badRequest(w, r, "invalid multipart body")
		return nil, nil, false
	}

	var formData models.FormData
	raw := r.FormValue("form_data")
	if strings.TrimSpace(raw) == "" {
		badRequest(w, r, "form_data is required")
		return nil, nil, false
	}
	if err := json.Unmarshal([]byte(raw), &formData); err != nil || formData == nil {
		badRequest(w, r, "form_data must be a JSON object")
		return nil, nil, false
	}

	file, header, err := r.FormFile("photo")
	if err == http.ErrMissingFile {
		return formData, nil, true
	}
	if err != nil {
		badRequest(w, r, "invalid photo upload")
		return nil, nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		badRequest(w, r, "failed to read photo")
		return nil, nil, false
	}
	if len(data) == 0 {
		return formData, nil, true
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = photo.DetectMIME(data)
	}
	return formData, &models.PhotoBlob{Data: data, MimeType: mimeType}, true
}

// ListPending handles GET /surveys/pending
func (h *SurveyHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	surveys, err := h.store.ListPending(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	items := make([]surveySummary, 0, len(surveys))
	for _, s := range surveys {
		items = append(items, summarize(s))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"total": len(items),
	})
}

// GetPending handles GET /surveys/pending/{id}. The photo is included
// base64-encoded.
func (h *SurveyHandler) GetPending(w http.ResponseWriter, r *http.Request) {
	survey, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, survey)
}

// RemovePending handles DELETE /surveys/pending/{id}
func (h *SurveyHandler) RemovePending(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearPending handles DELETE /surveys/pending
func (h *SurveyHandler) ClearPending(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Clear(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	logging.Warn("pending surveys cleared", map[string]interface{}{"remote_addr": r.RemoteAddr})
	w.WriteHeader(http.StatusNoContent)
}

// ListFailed handles GET /surveys/failed
func (h *SurveyHandler) ListFailed(w http.ResponseWriter, r *http.Request) {
	failed, err := h.store.ListFailed(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	items := make([]surveySummary, 0, len(failed))
	for _, f := range failed {
		s := summarize(&f.PendingSurvey)
		s.Reason = f.Reason
		failedAt := f.FailedAt
		s.FailedAt = &failedAt
		items = append(items, s)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"total": len(items),
	})
}

// RequeueFailed handles POST /surveys/failed/{id}/requeue
func (h *SurveyHandler) RequeueFailed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.Requeue(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	logging.Info("failed survey requeued", map[string]interface{}{"id": id})

	triggered := false
	if h.online != nil && h.online.IsOnline() && h.syncer != nil {
		triggered = h.syncer.TriggerSync()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":             id,
		"sync_triggered": triggered,
	})
}

// DiscardFailed handles DELETE /surveys/failed/{id}
func (h *SurveyHandler) DiscardFailed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var err error
	if h.discarder != nil {
		err = h.discarder.DiscardFailed(r.Context(), id)
	} else {
		err = h.store.Discard(r.Context(), id)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	logging.Info("failed survey discarded", map[string]interface{}{"id": id})
	w.WriteHeader(http.StatusNoContent)
}

package sync

import (
	"context"
	"fmt"
	"path"
	"strings"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/gabriel-vasile/mimetype"

	apperrors "github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/errors"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/logging"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/models"
)

// LocalIDField is the payload key carrying the device-side identifier.
// The remote table keeps it unique, which makes resubmission idempotent.
const LocalIDField = "local_id"

// maxErrorHistory bounds the per-record error log kept for diagnostics.
const maxErrorHistory = 100

// State is the orchestrator's run state.
type State int32

const (
	StateIdle State = iota
	StateRunning
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	default:
		return "idle"
	}
}

// Outcome summarizes how a pass ended.
type Outcome string

const (
	OutcomeEmpty   Outcome = "empty"
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
	OutcomeOffline Outcome = "offline"
	OutcomeSkipped Outcome = "skipped"
)

// Result reports the counts of a single pass.
type Result struct {
	Total        int           `json:"total"`
	SuccessCount int           `json:"success_count"`
	FailureCount int           `json:"failure_count"`
	Quarantined  int           `json:"quarantined"`
	Deferred     int           `json:"deferred"`
	Skipped      bool          `json:"skipped"`
	Outcome      Outcome       `json:"outcome"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
}

// Options configures an Orchestrator.
type Options struct {
	// Table is the remote table receiving submissions.
	Table string
	// PhotoField is the payload key set to the uploaded photo URL.
	PhotoField string
	// PhotoPrefix is the object key prefix for uploaded photos.
	PhotoPrefix string
}

// Orchestrator drains the pending store into the remote gateway. At most
// one pass runs at a time; concurrent triggers return a skipped result.
type Orchestrator struct {
	store        PendingStore
	gateway      Gateway
	connectivity Connectivity
	opts         Options
	now          func() time.Time

	state atomic.Int32

	mu         stdsync.RWMutex
	notifier   Notifier
	validator  Validator
	photos     PhotoPreparer
	handler    SyncEventHandler
	lastResult *Result
	lastSync   *time.Time
	errHistory []SyncErrorEntry
}

// NewOrchestrator creates an Orchestrator. Empty options fall back to the
// "surveys" table, the "photo_url" field and the "surveys" prefix.
func NewOrchestrator(store PendingStore, gateway Gateway, connectivity Connectivity, opts Options) *Orchestrator {
	if opts.Table == "" {
		opts.Table = "surveys"
	}
	if opts.PhotoField == "" {
		opts.PhotoField = "photo_url"
	}
	if opts.PhotoPrefix == "" {
		opts.PhotoPrefix = "surveys"
	}
	return &Orchestrator{
		store:        store,
		gateway:      gateway,
		connectivity: connectivity,
		opts:         opts,
		now:          time.Now,
		validator:    RequireFields("property_id"),
	}
}

// SetNotifier sets the sink for per-pass summaries.
func (o *Orchestrator) SetNotifier(n Notifier) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notifier = n
}

// SetValidator replaces the pre-submission check. nil disables validation.
func (o *Orchestrator) SetValidator(v Validator) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.validator = v
}

// SetPhotoPreparer sets the transform applied to photos before upload.
func (o *Orchestrator) SetPhotoPreparer(p PhotoPreparer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.photos = p
}

// SetEventHandler sets the receiver of live progress events.
func (o *Orchestrator) SetEventHandler(h SyncEventHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handler = h
}

// State returns the current run state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// LastResult returns the result of the last pass that was not skipped.
func (o *Orchestrator) LastResult() *Result {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.lastResult == nil {
		return nil
	}
	r := *o.lastResult
	return &r
}

// LastSync returns when the last pass with at least one accepted record
// finished.
func (o *Orchestrator) LastSync() *time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.lastSync == nil {
		return nil
	}
	t := *o.lastSync
	return &t
}

// ErrorHistory returns recent per-record failures, oldest first.
func (o *Orchestrator) ErrorHistory() []SyncErrorEntry {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]SyncErrorEntry, len(o.errHistory))
	copy(out, o.errHistory)
	return out
}

// SynchronizeAll runs one pass over every pending survey.
//
// A pass that finds another pass running returns a skipped result with no
// error. When offline it fails fast with CONNECTIVITY_UNAVAILABLE; when the
// store cannot be read the STORAGE_FAULT error is returned. Per-record
// failures never abort the pass. Connectivity is re-checked before every
// record and the remainder is left in place as deferred once it drops.
func (o *Orchestrator) SynchronizeAll(ctx context.Context) (*Result, error) {
	if !o.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		logging.Debug("sync pass skipped, another pass is running")
		return &Result{Skipped: true, Outcome: OutcomeSkipped, StartedAt: o.now()}, nil
	}
	defer o.state.Store(int32(StateIdle))

	result := &Result{StartedAt: o.now()}

	if !o.connectivity.IsOnline() {
		err := apperrors.New(apperrors.ErrConnectivityUnavailable, "device is offline")
		result.Outcome = OutcomeOffline
		o.finish(ctx, result, err)
		return result, err
	}

	records, err := o.store.ListPending(ctx)
	if err != nil {
		logging.ErrorWithCode("failed to list pending surveys", string(apperrors.CodeOf(err)), err)
		result.Outcome = OutcomeFailed
		o.finish(ctx, result, err)
		return result, err
	}
	result.Total = len(records)

	o.emit(SyncEvent{Type: SyncEventStarted, Total: result.Total})
	logging.Info("sync pass started", map[string]interface{}{"pending": result.Total})

	for i, rec := range records {
		if ctx.Err() != nil || !o.connectivity.IsOnline() {
			result.Deferred = len(records) - i
			logging.Warn("sync pass interrupted, remaining surveys deferred", map[string]interface{}{
				"deferred": result.Deferred,
			})
			break
		}

		ok := o.syncRecord(ctx, rec, result)
		o.emit(SyncEvent{
			Type:      SyncEventProgress,
			Total:     result.Total,
			Completed: i + 1,
			RecordID:  rec.ID,
			Succeeded: ok,
		})
	}

	result.Outcome = outcomeOf(result)
	o.finish(ctx, result, nil)
	return result, nil
}

func outcomeOf(r *Result) Outcome {
	attempted := r.SuccessCount + r.FailureCount
	switch {
	case attempted == 0 && r.Deferred == 0:
		return OutcomeEmpty
	case r.FailureCount == 0 && r.Deferred == 0:
		return OutcomeSuccess
	case r.SuccessCount == 0 && r.Deferred == 0:
		return OutcomeFailed
	default:
		return OutcomePartial
	}
}

// syncRecord submits one survey and settles its local state. It returns
// true when the remote side holds the survey afterwards.
func (o *Orchestrator) syncRecord(ctx context.Context, rec *models.PendingSurvey, result *Result) bool {
	o.mu.RLock()
	validator, photos := o.validator, o.photos
	o.mu.RUnlock()

	if validator != nil {
		if err := validator(rec.FormData); err != nil {
			o.recordFailure(ctx, rec, "validate", err, result)
			return false
		}
	}

	payload := rec.FormData.Clone()

	if rec.HasPhoto() {
		photo := rec.Photo
		if photos != nil {
			prepared, err := photos.Prepare(photo)
			if err != nil {
				logging.Warn("photo preparation failed, uploading original", map[string]interface{}{
					"record_id": rec.ID,
					"error":     err.Error(),
				})
			} else {
				photo = prepared
			}
		}

		url, err := o.gateway.UploadBlob(ctx, o.photoPath(rec.ID, photo.MimeType), photo.Data, photo.MimeType)
		if err != nil {
			o.recordFailure(ctx, rec, "upload", apperrors.Wrap(apperrors.ErrUploadFailed, "photo upload failed", err), result)
			return false
		}
		payload[o.opts.PhotoField] = url
	}

	payload[LocalIDField] = rec.ID

	if _, err := o.gateway.InsertRow(ctx, o.opts.Table, payload); err != nil {
		if !apperrors.Is(err, apperrors.ErrDuplicate) {
			o.recordFailure(ctx, rec, "insert", apperrors.Wrap(apperrors.ErrSubmissionFailed, "row insert failed", err), result)
			return false
		}
		logging.Info("survey already present remotely", map[string]interface{}{"record_id": rec.ID})
	}

	result.SuccessCount++
	if err := o.store.Remove(ctx, rec.ID); err != nil {
		// The next pass resubmits it and the duplicate is absorbed.
		logging.ErrorWithCode("failed to remove synced survey", string(apperrors.CodeOf(err)), err, map[string]interface{}{
			"record_id": rec.ID,
		})
	}
	return true
}

// recordFailure counts a failed record and either bumps its attempt
// counter or quarantines it when the error is terminal.
func (o *Orchestrator) recordFailure(ctx context.Context, rec *models.PendingSurvey, stage string, err error, result *Result) {
	result.FailureCount++
	terminal := apperrors.IsTerminal(err)

	logging.ErrorWithCode("survey sync failed", string(apperrors.CodeOf(err)), err, map[string]interface{}{
		"record_id": rec.ID,
		"stage":     stage,
		"terminal":  terminal,
		"attempts":  rec.AttemptCount + 1,
	})
	o.appendError(SyncErrorEntry{
		RecordID:  rec.ID,
		Stage:     stage,
		Code:      string(apperrors.CodeOf(err)),
		Message:   err.Error(),
		Terminal:  terminal,
		Timestamp: o.now(),
	})

	var storeErr error
	if terminal {
		storeErr = o.store.Quarantine(ctx, rec.ID, err.Error())
		if storeErr == nil {
			result.Quarantined++
		}
	} else {
		storeErr = o.store.RecordAttempt(ctx, rec.ID, err.Error())
	}
	if storeErr != nil {
		logging.ErrorWithCode("failed to record sync attempt", string(apperrors.CodeOf(storeErr)), storeErr, map[string]interface{}{
			"record_id": rec.ID,
		})
	}
}

func (o *Orchestrator) appendError(entry SyncErrorEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errHistory = append(o.errHistory, entry)
	if len(o.errHistory) > maxErrorHistory {
		o.errHistory = o.errHistory[len(o.errHistory)-maxErrorHistory:]
	}
}

// photoPath derives the object key from the record id, so a retried
// upload overwrites the same object.
func (o *Orchestrator) photoPath(id, mimeType string) string {
	ext := ".bin"
	if m := mimetype.Lookup(strings.TrimSpace(mimeType)); m != nil && m.Extension() != "" {
		ext = m.Extension()
	}
	return path.Join(o.opts.PhotoPrefix, id+ext)
}

// DiscardFailed deletes a quarantined survey and then removes any photo an
// earlier pass may have uploaded for it. Blob removal is best effort: a
// failure is logged and the local discard still stands.
func (o *Orchestrator) DiscardFailed(ctx context.Context, id string) error {
	var rec *models.PendingSurvey
	failed, err := o.store.ListFailed(ctx)
	if err != nil {
		return err
	}
	for _, f := range failed {
		if f.ID == id {
			rec = &f.PendingSurvey
			break
		}
	}

	if err := o.store.Discard(ctx, id); err != nil {
		return err
	}
	if rec == nil || !rec.HasPhoto() {
		return nil
	}

	for _, p := range o.uploadedPhotoPaths(rec) {
		if err := o.gateway.DeleteBlob(ctx, p); err != nil {
			logging.Warn("failed to delete photo of discarded survey", map[string]interface{}{
				"record_id": id,
				"path":      p,
				"error":     err.Error(),
			})
		}
	}
	return nil
}

// uploadedPhotoPaths lists the object paths a sync pass could have used for
// rec's photo. Preparation can change the MIME type, so both the original
// and the prepared path are candidates.
func (o *Orchestrator) uploadedPhotoPaths(rec *models.PendingSurvey) []string {
	paths := []string{o.photoPath(rec.ID, rec.Photo.MimeType)}

	o.mu.RLock()
	photos := o.photos
	o.mu.RUnlock()
	if photos == nil {
		return paths
	}
	if prepared, err := photos.Prepare(rec.Photo); err == nil {
		if p := o.photoPath(rec.ID, prepared.MimeType); p != paths[0] {
			paths = append(paths, p)
		}
	}
	return paths
}

// finish records the result, emits the closing event and sends the single
// summary notification for the pass.
func (o *Orchestrator) finish(ctx context.Context, result *Result, err error) {
	result.Duration = o.now().Sub(result.StartedAt)

	o.mu.Lock()
	r := *result
	o.lastResult = &r
	if result.SuccessCount > 0 {
		t := result.StartedAt.Add(result.Duration)
		o.lastSync = &t
	}
	notifier := o.notifier
	o.mu.Unlock()

	event := SyncEvent{Type: SyncEventCompleted, Total: result.Total, Completed: result.SuccessCount + result.FailureCount, Result: &r}
	if err != nil {
		event.Type = SyncEventFailed
		event.Error = err.Error()
	}
	o.emit(event)

	logging.Info("sync pass finished", map[string]interface{}{
		"outcome":     string(result.Outcome),
		"total":       result.Total,
		"succeeded":   result.SuccessCount,
		"failed":      result.FailureCount,
		"quarantined": result.Quarantined,
		"deferred":    result.Deferred,
		"duration_ms": result.Duration.Milliseconds(),
	})

	if notifier == nil {
		return
	}
	n, ok := BuildNotification(result, err)
	if !ok {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if nerr := notifier.Notify(nctx, n); nerr != nil {
		logging.Warn("failed to deliver sync notification", map[string]interface{}{"error": nerr.Error()})
	}
}

func (o *Orchestrator) emit(event SyncEvent) {
	o.mu.RLock()
	h := o.handler
	o.mu.RUnlock()
	if h == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = o.now()
	}
	h.OnSyncEvent(event)
}

// String describes the orchestrator for logs.
func (o *Orchestrator) String() string {
	return fmt.Sprintf("Orchestrator{table=%s, state=%s}", o.opts.Table, o.State())
}
